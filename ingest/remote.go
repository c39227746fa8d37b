package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/store"
)

// Fixed fields for remotely fetched events.
const (
	SourceRemote  = "openai-api"
	remoteSession = "openai-usage"
)

// RemoteAdapter fetches per-day usage from a billing API and converts the
// aggregated entries to cost events priced from the local table. A failed
// fetch aborts the run with nothing written; there is no partial import.
type RemoteAdapter struct {
	BaseURL string
	APIKey  string

	Store  *store.Store
	RunLog *store.RunLog
	Table  pricing.Table
	Client *http.Client
	Log    zerolog.Logger
}

type usageEntry struct {
	SnapshotID      string `json:"snapshot_id"`
	ContextTokens   int64  `json:"n_context_tokens_total"`
	GeneratedTokens int64  `json:"n_generated_tokens_total"`
	AggregationTime int64  `json:"aggregation_timestamp"`
}

type usageResponse struct {
	Data []usageEntry `json:"data"`
}

// Fetch retrieves the usage entries for one calendar day.
func (a *RemoteAdapter) Fetch(ctx context.Context, day time.Time) ([]usageEntry, error) {
	url := fmt.Sprintf("%s/v1/usage?date=%s", a.BaseURL, day.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("usage api returned %d: %s", resp.StatusCode, body)
	}

	var doc usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode usage response: %w", err)
	}
	return doc.Data, nil
}

// Run fetches the given days and imports the priced events. Any fetch
// failure aborts before anything is written, so re-running after an outage
// picks up the full range again. Every invocation records a run summary,
// dry runs and failures included.
func (a *RemoteAdapter) Run(ctx context.Context, days []time.Time, dryRun bool) (Result, error) {
	start := time.Now()
	log := a.Log.With().Str("adapter", SourceRemote).Logger()
	table := a.Table
	if table == nil {
		table = pricing.Default()
	}

	var batch []event.Event
	for _, day := range days {
		entries, err := a.Fetch(ctx, day)
		if err != nil {
			a.writeSummary(start, Result{FilesScanned: len(days), DryRun: dryRun}, err, log)
			return Result{}, err
		}
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		for _, e := range entries {
			model := e.SnapshotID
			if model == "" {
				model = "gpt-4o"
			}
			rates := table.Resolve(model)
			cost := pricing.Cost(rates, e.ContextTokens, e.GeneratedTokens, 0, 0)
			if cost == 0 {
				continue
			}
			batch = append(batch, event.Event{
				TS:           midnight.Unix(),
				Task:         "OpenAI Usage " + day.Format("2006-01-02"),
				Model:        model,
				InputTokens:  e.ContextTokens,
				OutputTokens: e.GeneratedTokens,
				CostUSD:      round6(cost),
				Status:       event.StatusCompleted,
				Session:      remoteSession,
				Source:       SourceRemote,
			})
		}
	}

	res := Result{FilesScanned: len(days), NewEvents: len(batch), DryRun: dryRun}
	for _, e := range batch {
		res.TotalCostUSD += e.CostUSD
	}
	if dryRun {
		log.Info().Int("would_import", len(batch)).Msg("dry run, nothing written")
		a.writeSummary(start, res, nil, log)
		return res, nil
	}

	imp, err := a.Store.Import(batch, true)
	if err != nil {
		err = fmt.Errorf("import remote events: %w", err)
		a.writeSummary(start, res, err, log)
		return res, err
	}
	res.NewEvents = imp.Imported
	res.Skipped = imp.Skipped
	if res.NewEvents > 0 {
		res.FilesWithNew = 1
	}

	a.writeSummary(start, res, nil, log)

	log.Info().
		Int("days", len(days)).
		Int("imported", res.NewEvents).
		Int("skipped", res.Skipped).
		Msg("remote usage import complete")
	return res, nil
}

func (a *RemoteAdapter) writeSummary(start time.Time, res Result, runErr error, log zerolog.Logger) {
	if a.RunLog == nil {
		return
	}
	summary := store.RunSummary{
		RanAt:      start,
		Adapter:    SourceRemote,
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
