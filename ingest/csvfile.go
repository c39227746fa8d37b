package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/store"
)

// Fixed fields for CSV-imported events.
const (
	SourceCSV  = "csv"
	csvTask    = "Anthropic CSV Import"
	csvModel   = "claude"
	csvSession = "csv-import"
)

// CSVAdapter imports daily usage rows exported from the billing console.
// Rows carry pre-computed costs, so no pricing lookup happens here.
//
// This adapter performs no dedup of its own: importing the same file twice
// doubles the rows. Idempotency lives in the event store, which drops
// records whose identity already exists, so callers wanting safe re-import
// must pass dedup through to the store.
type CSVAdapter struct {
	Store  *store.Store
	RunLog *store.RunLog
	Log    zerolog.Logger
}

// Parse reads a billing CSV and returns one event per non-zero-cost row.
// Zero-cost rows carry no billing signal and are dropped. Malformed rows
// are counted and skipped rather than failing the import.
func (a *CSVAdapter) Parse(r io.Reader) ([]event.Event, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := col["date"]; !ok {
		return nil, 0, fmt.Errorf("csv missing date column")
	}

	var events []event.Event
	malformed := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			malformed++
			continue
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		day, err := parseDay(get("date"))
		if err != nil {
			malformed++
			continue
		}
		cost, err := strconv.ParseFloat(get("cost"), 64)
		if err != nil {
			malformed++
			continue
		}
		if cost == 0 {
			continue
		}

		events = append(events, event.Event{
			TS:               day.Unix(),
			Task:             csvTask,
			Model:            csvModel,
			InputTokens:      parseTokens(get("input_tokens")),
			OutputTokens:     parseTokens(get("output_tokens")),
			CacheWriteTokens: parseTokens(get("cache_creation_input_tokens")),
			CacheReadTokens:  parseTokens(get("cache_read_input_tokens")),
			CostUSD:          round6(cost),
			Status:           event.StatusCompleted,
			Session:          csvSession,
			Source:           SourceCSV,
		})
	}
	return events, malformed, nil
}

// Run imports a CSV file. With dedup set, rows whose identity already
// exists in the store are skipped. Every invocation records a run summary,
// dry runs and failures included.
func (a *CSVAdapter) Run(path string, dedup, dryRun bool) (Result, error) {
	start := time.Now()
	log := a.Log.With().Str("adapter", SourceCSV).Logger()
	res := Result{FilesScanned: 1, DryRun: dryRun}

	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("open csv: %w", err)
		a.writeSummary(start, res, 0, err, log)
		return Result{}, err
	}
	defer f.Close()

	events, malformed, err := a.Parse(f)
	if err != nil {
		a.writeSummary(start, res, malformed, err, log)
		return Result{}, err
	}

	res.NewEvents = len(events)
	for _, e := range events {
		res.TotalCostUSD += e.CostUSD
	}
	if dryRun {
		log.Info().Int("would_import", len(events)).Msg("dry run, nothing written")
		a.writeSummary(start, res, malformed, nil, log)
		return res, nil
	}

	imp, err := a.Store.Import(events, dedup)
	if err != nil {
		err = fmt.Errorf("import csv events: %w", err)
		a.writeSummary(start, res, malformed, err, log)
		return res, err
	}
	res.NewEvents = imp.Imported
	res.Skipped = imp.Skipped
	if res.NewEvents > 0 {
		res.FilesWithNew = 1
	}

	a.writeSummary(start, res, malformed, nil, log)

	log.Info().
		Int("imported", res.NewEvents).
		Int("skipped", res.Skipped).
		Int("malformed", malformed).
		Msg("csv import complete")
	return res, nil
}

func (a *CSVAdapter) writeSummary(start time.Time, res Result, malformed int, runErr error, log zerolog.Logger) {
	if a.RunLog == nil {
		return
	}
	summary := store.RunSummary{
		RanAt:      start,
		Adapter:    SourceCSV,
		Scanned:    res.FilesScanned,
		NewEvents:  res.NewEvents,
		Skipped:    res.Skipped,
		Malformed:  malformed,
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

// parseDay accepts a date or datetime and returns midnight UTC of that day.
func parseDay(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func parseTokens(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// some exports write token counts as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}
