package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CursorFile persists the ingestion high-water marks: one monotonic
// last-processed timestamp per source id. Marks only move forward, and the
// whole map is written atomically at the end of an adapter run, so a crash
// mid-run never records a partial advance.
type CursorFile struct {
	path string
}

// NewCursorFile returns a cursor file at the given path.
func NewCursorFile(path string) *CursorFile {
	return &CursorFile{path: path}
}

// Load returns the saved marks. A missing or unreadable file yields an
// empty map, which re-scans everything and relies on dedup.
func (c *CursorFile) Load() map[string]int64 {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return map[string]int64{}
	}
	marks := map[string]int64{}
	if err := json.Unmarshal(raw, &marks); err != nil {
		return map[string]int64{}
	}
	return marks
}

// Advance merges updates into the saved marks, raising each key to at most
// the given value and never lowering one, then writes the result through a
// temp file plus rename.
func (c *CursorFile) Advance(updates map[string]int64) error {
	marks := c.Load()
	changed := false
	for key, ts := range updates {
		if ts > marks[key] {
			marks[key] = ts
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	raw, err := json.MarshalIndent(marks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursors: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write cursors: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cursors: %w", err)
	}
	return nil
}

// Reset deletes the cursor file so the next run re-processes everything.
func (c *CursorFile) Reset() error {
	err := os.Remove(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
