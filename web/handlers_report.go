package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/costpilot/costpilot/domain/pricing"
)

// ConfigGet serves the dashboard settings.
func (h *Handler) ConfigGet(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.settings.Get())
}

// ConfigUpdate merges a settings patch and returns the result. Unknown
// keys are stored as-is; wrong-typed values fall back to defaults on read.
func (h *Handler) ConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	updated, err := h.settings.Update(patch)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("update settings: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, updated)
}

// Sessions serves the per-session cost rollup across all events.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	events, _, err := h.events.Load()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}

	type sessionRow struct {
		Session string  `json:"session"`
		Cost    float64 `json:"cost"`
		Events  int     `json:"events"`
		FirstTS int64   `json:"first_ts"`
		LastTS  int64   `json:"last_ts"`
	}
	bySession := map[string]*sessionRow{}
	for _, e := range events {
		key := e.Session
		if key == "" {
			key = "unknown"
		}
		row, ok := bySession[key]
		if !ok {
			row = &sessionRow{Session: key, FirstTS: e.TS, LastTS: e.TS}
			bySession[key] = row
		}
		row.Cost += e.CostUSD
		row.Events++
		if e.TS < row.FirstTS {
			row.FirstTS = e.TS
		}
		if e.TS > row.LastTS {
			row.LastTS = e.TS
		}
	}

	rows := make([]sessionRow, 0, len(bySession))
	for _, row := range bySession {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cost > rows[j].Cost })
	h.respondJSON(w, http.StatusOK, map[string]any{"sessions": rows})
}

// Compare contrasts the last `?days=` (default 7) against the period
// before it.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	days := int(parseInt64(r.URL.Query().Get("days"), 7))
	if days < 1 || days > 365 {
		days = 7
	}

	events, _, err := h.events.Load()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}

	now := time.Now()
	currentStart := now.AddDate(0, 0, -days)
	previousStart := now.AddDate(0, 0, -2*days)

	var current, previous float64
	var currentN, previousN int
	for _, e := range events {
		t := e.Time()
		switch {
		case t.After(currentStart):
			current += e.CostUSD
			currentN++
		case t.After(previousStart):
			previous += e.CostUSD
			previousN++
		}
	}

	changePct := 0.0
	if previous > 0 {
		changePct = (current - previous) / previous * 100
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"days":            days,
		"current_cost":    current,
		"current_events":  currentN,
		"previous_cost":   previous,
		"previous_events": previousN,
		"change_pct":      changePct,
	})
}

// Timeline serves the daily cost series for the last `?days=` (default 30).
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	days := int(parseInt64(r.URL.Query().Get("days"), 30))
	if days < 1 || days > 365 {
		days = 30
	}

	events, _, err := h.events.Load()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}

	type day struct {
		Date   string  `json:"date"`
		Cost   float64 `json:"cost"`
		Events int     `json:"events"`
	}
	now := time.Now()
	series := make([]day, days)
	index := map[string]int{}
	for i := 0; i < days; i++ {
		d := now.AddDate(0, 0, -(days - 1 - i)).Format("2006-01-02")
		series[i] = day{Date: d}
		index[d] = i
	}
	for _, e := range events {
		if i, ok := index[e.Time().Format("2006-01-02")]; ok {
			series[i].Cost += e.CostUSD
			series[i].Events++
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"days": days, "timeline": series})
}

// Report serves the weekly summary, as JSON or rendered markdown.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("snapshot: %v", err))
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		var b strings.Builder
		fmt.Fprintf(&b, "# Weekly Cost Report (%s)\n\n", time.Now().Format("2006-01-02"))
		fmt.Fprintf(&b, "- Week cost: $%.2f\n", snap.KPI.WeekCost)
		fmt.Fprintf(&b, "- Today: $%.2f (yesterday $%.2f)\n", snap.KPI.TodayCost, snap.KPI.YesterdayCost)
		fmt.Fprintf(&b, "- 30-day average: $%.2f/day\n", snap.Avg30d)
		fmt.Fprintf(&b, "- Week over week: %+.1f%%\n", snap.WoWPct)
		fmt.Fprintf(&b, "- Efficiency score: %d (%s)\n\n", snap.Rules.Score, snap.Rules.Grade)
		if len(snap.Weekly) > 0 {
			b.WriteString("## Daily\n\n")
			for _, d := range snap.Weekly {
				fmt.Fprintf(&b, "- %s (%s): $%.2f\n", d.Date, d.Label, d.Cost)
			}
			b.WriteString("\n")
		}
		if len(snap.Rules.Findings) > 0 {
			b.WriteString("## Findings\n\n")
			for _, f := range snap.Rules.Findings {
				fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.Rule, f.Severity, f.Finding)
			}
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(b.String()))
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"week_cost":      snap.KPI.WeekCost,
		"today_cost":     snap.KPI.TodayCost,
		"yesterday_cost": snap.KPI.YesterdayCost,
		"avg_30d":        snap.Avg30d,
		"wow_pct":        snap.WoWPct,
		"weekly":         snap.Weekly,
		"rules":          snap.Rules,
		"tags_summary":   snap.TagsSummary,
	})
}

// Export dumps all events as csv, json, or markdown. One request per five
// seconds per client IP; the endpoint walks the whole file.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.exportLimit.Allow(clientIP(r)) {
		h.respondError(w, http.StatusTooManyRequests, "export limited to one request per 5s")
		return
	}

	events, _, err := h.events.Load()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })

	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="cost-events.csv"`)
		cw := csv.NewWriter(w)
		cw.Write([]string{"ts", "date", "task", "model", "cost_usd", "input_tokens", "output_tokens", "cache_read_tokens", "cache_write_tokens", "status", "session", "source"})
		for _, e := range events {
			cw.Write([]string{
				strconv.FormatInt(e.TS, 10),
				e.Time().Format("2006-01-02 15:04:05"),
				e.Task,
				e.Model,
				strconv.FormatFloat(e.CostUSD, 'f', -1, 64),
				strconv.FormatInt(e.InputTokens, 10),
				strconv.FormatInt(e.OutputTokens, 10),
				strconv.FormatInt(e.CacheReadTokens, 10),
				strconv.FormatInt(e.CacheWriteTokens, 10),
				e.Status,
				e.Session,
				e.Source,
			})
		}
		cw.Flush()
	case "json":
		h.respondJSON(w, http.StatusOK, events)
	case "markdown":
		var b strings.Builder
		b.WriteString("| Date | Task | Model | Cost |\n|---|---|---|---|\n")
		for _, e := range events {
			fmt.Fprintf(&b, "| %s | %s | %s | $%.4f |\n",
				e.Time().Format("2006-01-02 15:04"), e.Task, e.Model, e.CostUSD)
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(b.String()))
	default:
		h.respondError(w, http.StatusBadRequest, "format must be csv, json, or markdown")
	}
}

// Estimate computes the cost of a hypothetical token breakdown.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	model := h.resolveModel(q.Get("model"))

	rates := pricing.Default().Resolve(model)
	input := parseInt64(q.Get("input"), 0)
	output := parseInt64(q.Get("output"), 0)
	cacheRead := parseInt64(q.Get("cache_read"), 0)
	cacheWrite := parseInt64(q.Get("cache_write"), 0)

	h.respondJSON(w, http.StatusOK, map[string]any{
		"model":    model,
		"rates":    rates,
		"cost_usd": pricing.Cost(rates, input, output, cacheRead, cacheWrite),
	})
}

// AnnotationsList serves annotations, optionally for one `?date=`.
func (h *Handler) AnnotationsList(w http.ResponseWriter, r *http.Request) {
	list, err := h.annotations.List(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list annotations: %v", err))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"annotations": list})
}

// AnnotationAdd creates one dated note.
func (h *Handler) AnnotationAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	a, err := h.annotations.Add(r.Context(), req.Date, req.Note)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("add annotation: %v", err))
		return
	}
	h.respondJSON(w, http.StatusCreated, a)
}

// AnnotationDelete removes one note by id.
func (h *Handler) AnnotationDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "id must be numeric")
		return
	}

	ok, err := h.annotations.Delete(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("delete annotation: %v", err))
		return
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "annotation not found")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
