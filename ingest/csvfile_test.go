package ingest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/ingest"
	"github.com/costpilot/costpilot/store"
)

const billingCSV = `date,input_tokens,output_tokens,cache_creation_input_tokens,cache_read_input_tokens,cost
2026-02-20,10000,2000,500,8000,1.25
2026-02-21,0,0,0,0,0
2026-02-22,5000,1000,0,0,0.40
not-a-date,1,1,1,1,1
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCSVParse(t *testing.T) {
	a := &ingest.CSVAdapter{Log: zerolog.Nop()}
	events, malformed, err := a.Parse(strings.NewReader(billingCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("parsed %d events, want 2 (zero-cost row dropped)", len(events))
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}

	e := events[0]
	if e.Task != "Anthropic CSV Import" || e.Model != "claude" || e.Session != "csv-import" {
		t.Errorf("fixed fields = %q/%q/%q", e.Task, e.Model, e.Session)
	}
	if e.Source != ingest.SourceCSV {
		t.Errorf("Source = %q", e.Source)
	}
	want := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC).Unix()
	if e.TS != want {
		t.Errorf("TS = %d, want midnight UTC %d", e.TS, want)
	}
	if e.CostUSD != 1.25 || e.InputTokens != 10000 || e.CacheWriteTokens != 500 || e.CacheReadTokens != 8000 {
		t.Errorf("row = %+v", e)
	}
}

func TestCSVParse_ShuffledColumns(t *testing.T) {
	csv := "cost,date,output_tokens,input_tokens\n0.50,2026-02-20,100,200\n"
	a := &ingest.CSVAdapter{Log: zerolog.Nop()}
	events, _, err := a.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].CostUSD != 0.50 || events[0].InputTokens != 200 {
		t.Errorf("events = %+v", events)
	}
}

func TestCSVParse_MissingDateColumnFails(t *testing.T) {
	a := &ingest.CSVAdapter{Log: zerolog.Nop()}
	if _, _, err := a.Parse(strings.NewReader("cost,input_tokens\n1.0,5\n")); err == nil {
		t.Error("want error for csv without date column")
	}
}

func TestCSVRun_NoDedupDoublesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.csv")
	writeFile(t, path, billingCSV)
	events := store.New(filepath.Join(t.TempDir(), "events.ndjson"), false, zerolog.Nop())
	a := &ingest.CSVAdapter{Store: events, Log: zerolog.Nop()}

	for i := 0; i < 2; i++ {
		if _, err := a.Run(path, false, false); err != nil {
			t.Fatal(err)
		}
	}
	got, _, err := events.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("stored %d events, want 4 without dedup", len(got))
	}
}

func TestCSVRun_DryRunRecordsSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.csv")
	writeFile(t, path, billingCSV)
	dataDir := t.TempDir()
	events := store.New(filepath.Join(dataDir, "events.ndjson"), false, zerolog.Nop())
	runlog := store.NewRunLog(filepath.Join(dataDir, "last_run.json"))
	a := &ingest.CSVAdapter{Store: events, RunLog: runlog, Log: zerolog.Nop()}

	res, err := a.Run(path, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEvents != 2 || !res.DryRun {
		t.Errorf("res = %+v", res)
	}

	run, ok := runlog.Read()
	if !ok {
		t.Fatal("dry run recorded no summary")
	}
	if !run.DryRun || run.NewEvents != 2 || run.Error != "" {
		t.Errorf("summary = %+v, want dry_run with 2 events", run)
	}

	got, _, err := events.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("dry run stored %d events", len(got))
	}
}

func TestCSVRun_DedupMakesReimportSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.csv")
	writeFile(t, path, billingCSV)
	events := store.New(filepath.Join(t.TempDir(), "events.ndjson"), false, zerolog.Nop())
	a := &ingest.CSVAdapter{Store: events, Log: zerolog.Nop()}

	if _, err := a.Run(path, true, false); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(path, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEvents != 0 || res.Skipped != 2 {
		t.Errorf("re-import = %+v, want 0 new / 2 skipped", res)
	}
}
