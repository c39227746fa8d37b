package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunSummary records the outcome of one ingestion run. The latest summary
// is kept as a small JSON file so the dashboard and CLI can report when
// ingestion last ran and what it found.
type RunSummary struct {
	RanAt      time.Time `json:"ran_at"`
	Adapter    string    `json:"adapter"`
	Scanned    int       `json:"scanned"`
	NewEvents  int       `json:"new_events"`
	Skipped    int       `json:"skipped"`
	Malformed  int       `json:"malformed"`
	CostUSD    float64   `json:"cost_usd"`
	DurationMS int64     `json:"duration_ms"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// RunLog persists the most recent RunSummary.
type RunLog struct {
	path string
}

// NewRunLog returns a run log persisted at the given path.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Write replaces the stored summary atomically.
func (r *RunLog) Write(s RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create run log dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace run summary: %w", err)
	}
	return nil
}

// Read returns the last stored summary. ok is false when no run has been
// recorded yet.
func (r *RunLog) Read() (RunSummary, bool) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return RunSummary{}, false
	}
	var s RunSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return RunSummary{}, false
	}
	return s, true
}
