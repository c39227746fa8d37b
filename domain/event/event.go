// Package event provides the cost event value type and identity functions.
// All functions are pure - no side effects.
package event

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Status values for a cost event.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Event represents a single billable unit of AI usage (immutable value type).
// Events originate from the session-log adapter, CSV imports, the remote
// usage API, or manual logging.
type Event struct {
	TS               int64   `json:"ts"`
	Task             string  `json:"task"`
	Model            string  `json:"model,omitempty"`
	InputTokens      int64   `json:"input_tokens,omitempty"`
	OutputTokens     int64   `json:"output_tokens,omitempty"`
	CacheReadTokens  int64   `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64   `json:"cache_write_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd"`
	Status           string  `json:"status,omitempty"`
	Session          string  `json:"session,omitempty"`
	Source           string  `json:"source,omitempty"`
	DurationSec      float64 `json:"duration_sec,omitempty"`
	Anomaly          string  `json:"anomaly,omitempty"`
	ID               string  `json:"id,omitempty"`
}

// Time returns the event timestamp as a time.Time in the local zone.
func (e Event) Time() time.Time {
	return time.Unix(e.TS, 0)
}

// Identity returns the stable 12-character hash of an event, derived from
// (ts, task, cost_usd). This is the sole dedup key across re-ingestion and
// imports: identical triples always collide, differing costs essentially
// never do.
func Identity(e Event) string {
	raw := strconv.FormatInt(e.TS, 10) + e.Task + strconv.FormatFloat(e.CostUSD, 'f', -1, 64)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:12]
}

// WithIdentity returns a copy of e with ID filled in when absent.
func WithIdentity(e Event) Event {
	if e.ID == "" {
		e.ID = Identity(e)
	}
	return e
}

var tagRe = regexp.MustCompile(`\[([^\]]+)\]`)

// Tags extracts [tag] patterns from a task name.
func Tags(task string) []string {
	matches := tagRe.FindAllStringSubmatch(task, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// SortByTS sorts events by timestamp ascending, keeping append order for
// equal timestamps. Sorts in place and returns the slice.
func SortByTS(events []Event) []Event {
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })
	return events
}
