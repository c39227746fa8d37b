// Package ingest contains the three event producers: the session-log
// scanner, the one-shot CSV importer, and the remote usage-API fetcher.
// Each adapter is idempotent in its own way; see the per-adapter comments.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/label"
	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/store"
)

// SourceSessionLog marks events produced by the session-log adapter.
const SourceSessionLog = "session-log"

// Result summarizes one adapter run.
type Result struct {
	FilesScanned int
	FilesWithNew int
	NewEvents    int
	Skipped      int
	TotalCostUSD float64
	DryRun       bool
}

// SessionLogAdapter scans per-session NDJSON log files for billed
// messages. A cursor per session file guarantees each message is emitted
// exactly once across runs: only strictly newer timestamps are considered,
// and the cursor map is advanced atomically after the batch lands.
type SessionLogAdapter struct {
	Dir          string
	SessionsFile string // key -> session id mapping, optional
	RegistryFile string // job id -> job name registry, optional

	Store   *store.Store
	Cursors *store.CursorFile
	RunLog  *store.RunLog

	Overrides map[string]string
	Exclude   []string

	Log zerolog.Logger
}

// sessionRecord is one line of a session log file.
type sessionRecord struct {
	Timestamp string `json:"timestamp"`
	Message   struct {
		Model string `json:"model"`
		Usage struct {
			Input      int64 `json:"input"`
			Output     int64 `json:"output"`
			CacheRead  int64 `json:"cacheRead"`
			CacheWrite int64 `json:"cacheWrite"`
			Cost       struct {
				Total float64 `json:"total"`
			} `json:"cost"`
		} `json:"usage"`
	} `json:"message"`
}

// Run scans every session file once. With dryRun set, nothing is written
// and the cursor stays put.
func (a *SessionLogAdapter) Run(dryRun bool) (Result, error) {
	start := time.Now()
	log := a.Log.With().Str("adapter", SourceSessionLog).Logger()

	files, err := filepath.Glob(filepath.Join(a.Dir, "*.jsonl"))
	if err != nil {
		return Result{}, fmt.Errorf("scan sessions dir: %w", err)
	}
	sort.Strings(files)

	keyBySession := a.loadSessionKeys()
	chain := label.NewChain(a.Overrides, nil, a.loadRegistry())
	excluded := map[string]struct{}{}
	for _, id := range a.Exclude {
		excluded[id] = struct{}{}
	}

	cursors := a.Cursors.Load()
	advances := map[string]int64{}
	var batch []event.Event
	res := Result{FilesScanned: len(files), DryRun: dryRun}

	for _, fpath := range files {
		sessionID := strings.TrimSuffix(filepath.Base(fpath), ".jsonl")
		if _, skip := excluded[sessionID]; skip {
			log.Debug().Str("session", sessionID).Msg("session excluded")
			continue
		}

		key := keyBySession[sessionID]
		if key == "" {
			key = sessionID
		}
		events, maxTS := a.processFile(fpath, cursors[sessionID], sessionID, key, chain)
		if len(events) > 0 {
			res.FilesWithNew++
			res.NewEvents += len(events)
			for _, e := range events {
				res.TotalCostUSD += e.CostUSD
			}
			batch = append(batch, events...)
		}
		if maxTS > cursors[sessionID] {
			advances[sessionID] = maxTS
		}
	}

	if dryRun {
		log.Info().Int("would_ingest", len(batch)).Msg("dry run, nothing written")
		a.writeSummary(start, res, nil, log)
		return res, nil
	}

	if len(batch) > 0 {
		imp, err := a.Store.Import(batch, true)
		if err != nil {
			err = fmt.Errorf("append session events: %w", err)
			a.writeSummary(start, res, err, log)
			return res, err
		}
		res.NewEvents = imp.Imported
		res.Skipped = imp.Skipped
	}

	// Cursor advances only after the batch is durable.
	if err := a.Cursors.Advance(advances); err != nil {
		err = fmt.Errorf("advance cursors: %w", err)
		a.writeSummary(start, res, err, log)
		return res, err
	}

	a.writeSummary(start, res, nil, log)

	log.Info().
		Int("files", res.FilesScanned).
		Int("new_events", res.NewEvents).
		Float64("cost_usd", res.TotalCostUSD).
		Dur("elapsed", time.Since(start)).
		Msg("session scan complete")
	return res, nil
}

// writeSummary records the run outcome, error included, so the health
// endpoints always see the latest attempt.
func (a *SessionLogAdapter) writeSummary(start time.Time, res Result, runErr error, log zerolog.Logger) {
	if a.RunLog == nil {
		return
	}
	summary := store.RunSummary{
		RanAt:      start,
		Adapter:    SourceSessionLog,
		Scanned:    res.FilesScanned,
		NewEvents:  res.NewEvents,
		Skipped:    res.Skipped,
		CostUSD:    res.TotalCostUSD,
		DurationMS: time.Since(start).Milliseconds(),
		DryRun:     res.DryRun,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := a.RunLog.Write(summary); err != nil {
		log.Warn().Err(err).Msg("run summary not written")
	}
}

// processFile returns the billed messages newer than the cursor, plus the
// highest timestamp seen. Unparseable lines and unbilled messages are
// skipped without error; a session log mixes user turns with billed ones.
func (a *SessionLogAdapter) processFile(fpath string, cursor int64, sessionID, key string, chain label.Chain) ([]event.Event, int64) {
	f, err := os.Open(fpath)
	if err != nil {
		a.Log.Warn().Err(err).Str("file", fpath).Msg("session file unreadable")
		return nil, cursor
	}
	defer f.Close()

	lbl := ""
	maxTS := cursor
	var events []event.Event
	var firstModel string
	var firstTS int64

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Message.Usage.Cost.Total == 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			continue
		}
		unix := ts.Unix()
		if firstTS == 0 {
			firstTS = unix
			firstModel = rec.Message.Model
		}
		if unix <= cursor {
			continue
		}
		if unix > maxTS {
			maxTS = unix
		}

		if lbl == "" {
			lbl = chain.Resolve(label.Context{Key: key, FirstCostModel: firstModel, FirstCostTS: firstTS})
		}
		model := rec.Message.Model
		if model == "" {
			model = pricing.DefaultModel
		}
		events = append(events, event.Event{
			TS:               unix,
			Task:             lbl,
			Model:            model,
			InputTokens:      rec.Message.Usage.Input,
			OutputTokens:     rec.Message.Usage.Output,
			CacheReadTokens:  rec.Message.Usage.CacheRead,
			CacheWriteTokens: rec.Message.Usage.CacheWrite,
			CostUSD:          round6(rec.Message.Usage.Cost.Total),
			Status:           event.StatusCompleted,
			Session:          sessionID,
			Source:           SourceSessionLog,
		})
	}
	return events, maxTS
}

// loadSessionKeys reads the sessions index mapping session keys to the
// session ids used as log file names, and returns the reverse mapping.
func (a *SessionLogAdapter) loadSessionKeys() map[string]string {
	byID := map[string]string{}
	if a.SessionsFile == "" {
		return byID
	}
	raw, err := os.ReadFile(a.SessionsFile)
	if err != nil {
		return byID
	}
	var doc map[string]struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		a.Log.Warn().Err(err).Str("file", a.SessionsFile).Msg("sessions index unreadable")
		return byID
	}
	for key, val := range doc {
		if val.SessionID != "" {
			byID[val.SessionID] = key
		}
	}
	return byID
}

// loadRegistry reads the scheduled-job registry (job id -> display name).
func (a *SessionLogAdapter) loadRegistry() map[string]string {
	names := map[string]string{}
	if a.RegistryFile == "" {
		return names
	}
	raw, err := os.ReadFile(a.RegistryFile)
	if err != nil {
		return names
	}
	var doc struct {
		Jobs []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return names
	}
	for _, j := range doc.Jobs {
		name := j.Name
		if name == "" && len(j.ID) >= 8 {
			name = "Job " + j.ID[:8]
		}
		if j.ID != "" {
			names[j.ID] = name
		}
	}
	return names
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}
