package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/costpilot/costpilot/adapters/sqlite"
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "annotations.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddAndList(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, "2026-02-27", "migrated prod batch job")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == 0 {
		t.Error("Add returned zero id")
	}

	if _, err := db.Add(ctx, "2026-02-26", "price change"); err != nil {
		t.Fatal(err)
	}

	all, err := db.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("List = %d annotations", len(all))
	}
	if all[0].Date != "2026-02-27" {
		t.Errorf("newest date first, got %q", all[0].Date)
	}

	day, err := db.List(ctx, "2026-02-26")
	if err != nil {
		t.Fatal(err)
	}
	if len(day) != 1 || day[0].Note != "price change" {
		t.Errorf("filtered list = %+v", day)
	}
}

func TestAdd_Validation(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if _, err := db.Add(ctx, "27/02/2026", "note"); err == nil {
		t.Error("want error for bad date format")
	}
	if _, err := db.Add(ctx, "2026-02-27", ""); err == nil {
		t.Error("want error for empty note")
	}
}

func TestDelete(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, "2026-02-27", "temp")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := db.Delete(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Delete = false for existing id")
	}

	ok, err = db.Delete(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Delete = true for missing id")
	}

	all, err := db.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("List after delete = %d", len(all))
	}
}
