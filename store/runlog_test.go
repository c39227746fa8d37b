package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/costpilot/costpilot/store"
)

func TestRunLog_RoundTrip(t *testing.T) {
	rl := store.NewRunLog(filepath.Join(t.TempDir(), "last_run.json"))

	if _, ok := rl.Read(); ok {
		t.Error("empty run log reported a summary")
	}

	want := store.RunSummary{
		RanAt:      time.Now().Truncate(time.Second),
		Adapter:    "session-log",
		Scanned:    120,
		NewEvents:  7,
		Skipped:    113,
		Malformed:  2,
		DurationMS: 45,
	}
	if err := rl.Write(want); err != nil {
		t.Fatal(err)
	}

	got, ok := rl.Read()
	if !ok {
		t.Fatal("Read found no summary after Write")
	}
	if got.NewEvents != want.NewEvents || got.Adapter != want.Adapter || got.Malformed != want.Malformed {
		t.Errorf("Read = %+v, want %+v", got, want)
	}
}
