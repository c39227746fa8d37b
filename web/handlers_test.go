package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/adapters/sqlite"
	"github.com/costpilot/costpilot/broadcast"
	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/groundtruth"
	"github.com/costpilot/costpilot/snapshot"
	"github.com/costpilot/costpilot/store"
	"github.com/costpilot/costpilot/web"
)

const testToken = "test-token"

func newTestHandler(t *testing.T, seed []event.Event) *web.Handler {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.Nop()

	events := store.New(filepath.Join(dir, "events.ndjson"), false, log)
	if len(seed) > 0 {
		if _, err := events.Import(seed, false); err != nil {
			t.Fatal(err)
		}
	}

	gt := groundtruth.NewStore(filepath.Join(dir, "ground_truth.json"), log)
	settings := config.NewSettingsStore(filepath.Join(dir, "config.json"), log)
	engine := snapshot.NewEngine(events, gt, settings, log)
	caster := broadcast.New(engine.Snapshot, time.Hour, log)
	annotations, err := sqlite.Open(filepath.Join(dir, "annotations.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { annotations.Close() })

	return web.NewHandler(web.Deps{
		Events:      events,
		Engine:      engine,
		Caster:      caster,
		GroundTruth: gt,
		Settings:    settings,
		Annotations: annotations,
		RunLog:      store.NewRunLog(filepath.Join(dir, "last_run.json")),
		Token:       testToken,
		Version:     "test",
		Logger:      log,
	})
}

func request(t *testing.T, h *web.Handler, method, target, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func seedEvents() []event.Event {
	now := time.Now()
	return []event.Event{
		{TS: now.Add(-2 * time.Hour).Unix(), Task: "Alpha [OPS]", Model: "claude-sonnet-4-6", CostUSD: 1.25, Status: "completed", Session: "s1"},
		{TS: now.Add(-1 * time.Hour).Unix(), Task: "Beta", Model: "claude-opus-4-6", CostUSD: 3.00, Status: "completed", Session: "s2"},
		{TS: now.Add(-10 * time.Minute).Unix(), Task: "Alpha [OPS]", Model: "claude-sonnet-4-6", CostUSD: 0.75, Status: "completed", Session: "s1"},
	}
}

func TestPing_NoAuthRequired(t *testing.T) {
	rec := request(t, newTestHandler(t, nil), http.MethodGet, "/api/ping", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h := newTestHandler(t, nil)
	if rec := request(t, h, http.MethodGet, "/api/data", "", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/api/data", "", true); rec.Code != http.StatusOK {
		t.Errorf("with token status = %d, want 200", rec.Code)
	}
}

func TestAuth_QueryTokenAccepted(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := request(t, h, http.MethodGet, "/api/data?token="+testToken, "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("query token status = %d", rec.Code)
	}
}

func TestState_ETagRoundTrip(t *testing.T) {
	h := newTestHandler(t, seedEvents())

	first := request(t, h, http.MethodGet, "/api/data", "", true)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag on /api/data")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("matching etag status = %d, want 304", rec.Code)
	}
}

func TestState_TagFilter(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	rec := request(t, h, http.MethodGet, "/api/data?tag=OPS", "", true)

	var snap snapshot.Snapshot
	decode(t, rec, &snap)
	if snap.TotalEventsAllTime != 2 {
		t.Errorf("tag-filtered events = %d, want 2", snap.TotalEventsAllTime)
	}
}

func TestEvents_Pagination(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	rec := request(t, h, http.MethodGet, "/api/events?limit=2", "", true)

	var out struct {
		Events []event.Event `json:"events"`
		Total  int           `json:"total"`
	}
	decode(t, rec, &out)
	if out.Total != 3 || len(out.Events) != 2 {
		t.Errorf("total=%d len=%d", out.Total, len(out.Events))
	}
	if out.Events[0].TS < out.Events[1].TS {
		t.Error("events not newest first")
	}
}

func TestLogEvent_ComputesCostFromTokens(t *testing.T) {
	h := newTestHandler(t, nil)
	body := `{"task":"manual run","model":"sonnet","input_tokens":1000000,"output_tokens":0}`
	rec := request(t, h, http.MethodPost, "/api/events", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var e event.Event
	decode(t, rec, &e)
	// 1M input tokens at sonnet pricing.
	if e.CostUSD != 3.0 {
		t.Errorf("CostUSD = %v, want 3.0", e.CostUSD)
	}
	if e.Model != "claude-sonnet-4-6" {
		t.Errorf("alias not resolved, model = %q", e.Model)
	}
	if e.ID == "" {
		t.Error("no identity assigned")
	}
}

func TestClear_RequiresConfirm(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	if rec := request(t, h, http.MethodDelete, "/api/clear", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed clear status = %d, want 400", rec.Code)
	}
	if rec := request(t, h, http.MethodDelete, "/api/clear?confirm=CONFIRM", "", true); rec.Code != http.StatusOK {
		t.Errorf("confirmed clear status = %d", rec.Code)
	}
}

func TestRenameTask(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	rec := request(t, h, http.MethodPatch, "/api/tasks/rename", `{"old":"Beta","new":"Gamma"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Renamed int `json:"renamed"`
	}
	decode(t, rec, &out)
	if out.Renamed != 1 {
		t.Errorf("renamed = %d", out.Renamed)
	}
}

func TestImport_NDJSONCountsMalformed(t *testing.T) {
	h := newTestHandler(t, nil)
	body := `{"ts":1700000000,"task":"a","cost_usd":1}
{"task":"missing ts","cost_usd":1}
not json at all
{"ts":1700000100,"task":"b","cost_usd":2}`
	rec := request(t, h, http.MethodPost, "/api/import", body, true)

	var out struct {
		Imported  int `json:"imported"`
		Malformed int `json:"skipped_malformed"`
	}
	decode(t, rec, &out)
	if out.Imported != 2 || out.Malformed != 2 {
		t.Errorf("imported=%d skipped_malformed=%d, want 2 and 2", out.Imported, out.Malformed)
	}
}

func TestImport_ReimportSkipsDupes(t *testing.T) {
	h := newTestHandler(t, nil)
	body := `[{"ts":1700000000,"task":"a","cost_usd":1},{"ts":1700000100,"task":"b","cost_usd":2}]`
	request(t, h, http.MethodPost, "/api/import", body, true)
	rec := request(t, h, http.MethodPost, "/api/import", body, true)

	var out struct {
		Imported int `json:"imported"`
		Dupes    int `json:"skipped_dupes"`
	}
	decode(t, rec, &out)
	if out.Imported != 0 || out.Dupes != 2 {
		t.Errorf("imported=%d skipped_dupes=%d, want 0 and 2", out.Imported, out.Dupes)
	}
}

func TestExport_RateLimited(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	if rec := request(t, h, http.MethodGet, "/api/export?format=json", "", true); rec.Code != http.StatusOK {
		t.Fatalf("first export status = %d", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/api/export?format=json", "", true); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second export status = %d, want 429", rec.Code)
	}
}

func TestExport_CSVHeader(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	rec := request(t, h, http.MethodGet, "/api/export?format=csv", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "ts,date,task,model,cost_usd") {
		t.Errorf("csv header = %q", strings.SplitN(rec.Body.String(), "\n", 2)[0])
	}
}

func TestEstimate(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := request(t, h, http.MethodGet, "/api/estimate?model=opus&input=1000000", "", true)

	var out struct {
		Model   string  `json:"model"`
		CostUSD float64 `json:"cost_usd"`
	}
	decode(t, rec, &out)
	if out.Model != "claude-opus-4-6" {
		t.Errorf("model = %q", out.Model)
	}
	if out.CostUSD != 15.0 {
		t.Errorf("cost = %v, want 15.0", out.CostUSD)
	}
}

func TestConfig_UpdateRoundTrip(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := request(t, h, http.MethodPost, "/api/config", `{"currency":"EUR","daily_budget_usd":25}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	get := request(t, h, http.MethodGet, "/api/config", "", true)
	var s config.Settings
	decode(t, get, &s)
	if s.Currency != "EUR" || s.DailyBudgetUSD != 25 {
		t.Errorf("settings = %q/%v", s.Currency, s.DailyBudgetUSD)
	}
}

func TestAnnotations_CRUD(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := request(t, h, http.MethodPost, "/api/annotations", `{"date":"2026-02-27","note":"price change"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	var a sqlite.Annotation
	decode(t, rec, &a)

	list := request(t, h, http.MethodGet, "/api/annotations?date=2026-02-27", "", true)
	var out struct {
		Annotations []sqlite.Annotation `json:"annotations"`
	}
	decode(t, list, &out)
	if len(out.Annotations) != 1 {
		t.Fatalf("list = %d annotations", len(out.Annotations))
	}

	del := request(t, h, http.MethodDelete, "/api/annotations/"+jsonInt(a.ID), "", true)
	if del.Code != http.StatusOK {
		t.Errorf("delete status = %d", del.Code)
	}
}

func TestCompareAndTimeline(t *testing.T) {
	h := newTestHandler(t, seedEvents())

	cmp := request(t, h, http.MethodGet, "/api/compare?days=7", "", true)
	var c struct {
		CurrentCost float64 `json:"current_cost"`
	}
	decode(t, cmp, &c)
	if c.CurrentCost != 5.0 {
		t.Errorf("current_cost = %v, want 5.0", c.CurrentCost)
	}

	tl := request(t, h, http.MethodGet, "/api/timeline?days=7", "", true)
	var out struct {
		Timeline []struct {
			Cost float64 `json:"cost"`
		} `json:"timeline"`
	}
	decode(t, tl, &out)
	if len(out.Timeline) != 7 {
		t.Errorf("timeline = %d days", len(out.Timeline))
	}
	var sum float64
	for _, d := range out.Timeline {
		sum += d.Cost
	}
	if sum != 5.0 {
		t.Errorf("timeline total = %v, want 5.0", sum)
	}
}

func TestHealth_ReportsEvents(t *testing.T) {
	h := newTestHandler(t, seedEvents())
	rec := request(t, h, http.MethodGet, "/api/health", "", false)

	var out struct {
		Status string `json:"status"`
		Events int    `json:"events"`
	}
	decode(t, rec, &out)
	if out.Status != "ok" || out.Events != 3 {
		t.Errorf("health = %+v", out)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
