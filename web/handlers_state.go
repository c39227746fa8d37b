package web

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Index serves the embedded dashboard page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	page, err := assets.ReadFile("static/index.html")
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "dashboard page unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// Ping is the liveness check.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": time.Now().Unix()})
}

// Version reports the build version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// State serves the full analytics document. Responses carry an ETag over
// the body; a matching If-None-Match short-circuits to 304 so idle
// dashboards cost nothing. `?tag=` rebuilds over a tag-filtered event set.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	var (
		snap any
		err  error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		snap, err = h.engine.SnapshotForTag(tag)
	} else {
		snap, err = h.engine.Snapshot()
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("snapshot: %v", err))
		return
	}

	body, err := json.Marshal(snap)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "snapshot encode failed")
		return
	}

	sum := md5.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.Write(body)
}

// Live streams snapshots as server-sent events. The first event arrives
// immediately; subsequent ones follow the broadcast interval. Slow readers
// get their channel closed by the broadcaster, which ends the response.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.caster.Subscribe()
	defer cancel()
	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
		defer h.metrics.StreamClients.Dec()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			body, err := json.Marshal(snap)
			if err != nil {
				h.logger.Warn().Err(err).Msg("sse encode failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Health reports pipeline liveness: event counts, last ingestion run, and
// how stale it is.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	events, malformed, err := h.events.Load()
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	if h.metrics != nil {
		h.metrics.MalformedLines.Set(float64(malformed))
	}

	out := map[string]any{
		"status":          status,
		"version":         h.version,
		"uptime_sec":      int64(time.Since(h.startTime).Seconds()),
		"events":          len(events),
		"malformed_lines": malformed,
	}
	if h.runlog != nil {
		if run, ok := h.runlog.Read(); ok {
			out["last_run"] = run
			out["last_run_age_sec"] = int64(time.Since(run.RanAt).Seconds())
		}
	}
	h.respondJSON(w, http.StatusOK, out)
}

// AutologgerHealth reports whether the background ingestion loop is keeping
// up: a last run older than five minutes means it is stalled or stopped.
func (h *Handler) AutologgerHealth(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runlog.Read()
	if !ok {
		h.respondJSON(w, http.StatusOK, map[string]any{"status": "never_ran"})
		return
	}
	age := time.Since(run.RanAt)
	status := "ok"
	if run.Error != "" {
		status = "error"
	} else if age > 5*time.Minute {
		status = "stale"
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"last_run":   run,
		"age_sec":    int64(age.Seconds()),
		"new_events": run.NewEvents,
	})
}

// Stats serves the cost distribution summary.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("snapshot: %v", err))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"percentile_stats":      snap.Percentiles,
		"total_cost_all_time":   snap.TotalCostAllTime,
		"total_cost_tracked":    snap.TotalCostTracked,
		"total_events_all_time": snap.TotalEventsAllTime,
		"avg_30d":               snap.Avg30d,
		"busiest_day":           snap.BusiestDay,
		"task_leaderboard":      snap.TaskLeaderboard,
	})
}

// Docs lists the API surface.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"GET /":                         "dashboard",
		"GET /api/data":                 "full analytics document (ETag, ?tag= filter)",
		"GET /api/live":                 "server-sent event stream of analytics documents",
		"GET /api/events":               "raw events (?from=&to=&limit=&offset=)",
		"POST /api/events":              "log one event",
		"PATCH /api/events/{id}/rename": "rename one event",
		"PATCH /api/tasks/rename":       "rename a task across all events",
		"POST /api/import":              "bulk import events (ndjson or json array, ?dedup=false to disable)",
		"DELETE /api/clear":             "clear events after backup (?confirm=CONFIRM)",
		"POST /api/archive":             "archive events older than ?days=",
		"GET /api/backups":              "list backups",
		"POST /api/restore":             "restore a backup by name",
		"GET+POST /api/config":          "dashboard settings",
		"GET /api/sessions":             "per-session cost rollup",
		"GET /api/compare":              "this period vs previous (?days=)",
		"GET /api/timeline":             "daily cost series (?days=)",
		"GET /api/report":               "weekly report (?format=json|markdown)",
		"GET /api/export":               "event export (?format=csv|json|markdown), rate limited",
		"GET /api/estimate":             "pricing calculator",
		"GET /api/stats":                "cost distribution summary",
		"GET /api/annotations":          "list annotations (?date=)",
		"POST /api/annotations":         "add annotation {date, note}",
		"DELETE /api/annotations/{id}":  "delete annotation",
		"GET /api/health":               "pipeline health",
		"GET /api/autologger-health":    "ingestion loop health",
		"GET /api/ping":                 "liveness",
		"GET /api/version":              "build version",
	})
}
