package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/ingest"
	"github.com/costpilot/costpilot/store"
)

func usageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if r.URL.Query().Get("date") == "" {
			t.Error("date query missing")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemote_ImportsPricedEvents(t *testing.T) {
	srv := usageServer(t, http.StatusOK,
		`{"data":[{"snapshot_id":"gpt-4o-2024-08-06","n_context_tokens_total":1000000,"n_generated_tokens_total":100000}]}`)

	events := store.New(filepath.Join(t.TempDir(), "events.ndjson"), false, zerolog.Nop())
	a := &ingest.RemoteAdapter{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Store:   events,
		Log:     zerolog.Nop(),
	}

	day := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	res, err := a.Run(context.Background(), []time.Time{day}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEvents != 1 {
		t.Fatalf("NewEvents = %d", res.NewEvents)
	}

	got, _, err := events.Load()
	if err != nil {
		t.Fatal(err)
	}
	e := got[0]
	if e.Source != ingest.SourceRemote || e.Session != "openai-usage" {
		t.Errorf("source/session = %q/%q", e.Source, e.Session)
	}
	if e.TS != day.Unix() {
		t.Errorf("TS = %d, want midnight UTC", e.TS)
	}
	// 1M context at $2.50 plus 100k generated at $10.00.
	if e.CostUSD != 3.5 {
		t.Errorf("CostUSD = %v, want 3.5", e.CostUSD)
	}
}

func TestRemote_FetchFailureAbortsWithNothingWritten(t *testing.T) {
	srv := usageServer(t, http.StatusInternalServerError, "boom")

	dataDir := t.TempDir()
	events := store.New(filepath.Join(dataDir, "events.ndjson"), false, zerolog.Nop())
	runlog := store.NewRunLog(filepath.Join(dataDir, "last_run.json"))
	a := &ingest.RemoteAdapter{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Store:   events,
		RunLog:  runlog,
		Log:     zerolog.Nop(),
	}

	_, err := a.Run(context.Background(), []time.Time{time.Now()}, false)
	if err == nil {
		t.Fatal("want error on fetch failure")
	}
	got, _, err := events.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("stored %d events after failed fetch", len(got))
	}

	run, ok := runlog.Read()
	if !ok {
		t.Fatal("failed run recorded no summary")
	}
	if run.Error == "" || run.NewEvents != 0 {
		t.Errorf("summary = %+v, want error status", run)
	}
}

func TestRemote_DryRunRecordsSummary(t *testing.T) {
	srv := usageServer(t, http.StatusOK,
		`{"data":[{"snapshot_id":"gpt-4o","n_context_tokens_total":400000,"n_generated_tokens_total":20000}]}`)

	dataDir := t.TempDir()
	events := store.New(filepath.Join(dataDir, "events.ndjson"), false, zerolog.Nop())
	runlog := store.NewRunLog(filepath.Join(dataDir, "last_run.json"))
	a := &ingest.RemoteAdapter{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Store:   events,
		RunLog:  runlog,
		Log:     zerolog.Nop(),
	}

	day := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	res, err := a.Run(context.Background(), []time.Time{day}, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEvents != 1 || !res.DryRun {
		t.Errorf("res = %+v", res)
	}

	run, ok := runlog.Read()
	if !ok {
		t.Fatal("dry run recorded no summary")
	}
	if !run.DryRun || run.NewEvents != 1 || run.Error != "" {
		t.Errorf("summary = %+v, want dry_run with 1 event", run)
	}

	got, _, err := events.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("dry run stored %d events", len(got))
	}
}

func TestRemote_RerunDeduplicates(t *testing.T) {
	srv := usageServer(t, http.StatusOK,
		`{"data":[{"snapshot_id":"gpt-4o","n_context_tokens_total":400000,"n_generated_tokens_total":20000}]}`)

	events := store.New(filepath.Join(t.TempDir(), "events.ndjson"), false, zerolog.Nop())
	a := &ingest.RemoteAdapter{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Store:   events,
		Log:     zerolog.Nop(),
	}

	day := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	if _, err := a.Run(context.Background(), []time.Time{day}, false); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background(), []time.Time{day}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEvents != 0 || res.Skipped != 1 {
		t.Errorf("re-run = %+v, want dedup", res)
	}
}
