package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/costpilot/costpilot/store"
)

func TestCursorFile_MissingFileIsEmpty(t *testing.T) {
	c := store.NewCursorFile(filepath.Join(t.TempDir(), "cursors.json"))
	if got := c.Load(); len(got) != 0 {
		t.Errorf("Load = %v, want empty", got)
	}
}

func TestCursorFile_AdvanceAndLoad(t *testing.T) {
	c := store.NewCursorFile(filepath.Join(t.TempDir(), "cursors.json"))
	if err := c.Advance(map[string]int64{"sess-a": 1700000000, "sess-b": 1700000500}); err != nil {
		t.Fatal(err)
	}

	got := c.Load()
	if got["sess-a"] != 1700000000 || got["sess-b"] != 1700000500 {
		t.Errorf("Load = %v", got)
	}
}

func TestCursorFile_NeverMovesBackwards(t *testing.T) {
	c := store.NewCursorFile(filepath.Join(t.TempDir(), "cursors.json"))
	c.Advance(map[string]int64{"sess-a": 1700000500})
	c.Advance(map[string]int64{"sess-a": 1700000100, "sess-b": 42})

	got := c.Load()
	if got["sess-a"] != 1700000500 {
		t.Errorf("sess-a = %d, want high-water mark kept", got["sess-a"])
	}
	if got["sess-b"] != 42 {
		t.Errorf("sess-b = %d, want new key recorded", got["sess-b"])
	}
}

func TestCursorFile_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := store.NewCursorFile(path)
	if got := c.Load(); len(got) != 0 {
		t.Errorf("Load = %v, want empty for corrupt file", got)
	}
}

func TestCursorFile_Reset(t *testing.T) {
	c := store.NewCursorFile(filepath.Join(t.TempDir(), "cursors.json"))
	c.Advance(map[string]int64{"sess-a": 1})
	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := c.Load(); len(got) != 0 {
		t.Errorf("Load after reset = %v", got)
	}
	// Reset of an absent file is fine.
	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
}
