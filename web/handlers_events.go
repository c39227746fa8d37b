package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/pricing"
)

// Events serves raw events, newest first, with optional time range and
// pagination.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	events, _, err := h.events.Load()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}

	q := r.URL.Query()
	from := parseInt64(q.Get("from"), 0)
	to := parseInt64(q.Get("to"), 0)
	limit := int(parseInt64(q.Get("limit"), 100))
	offset := int(parseInt64(q.Get("offset"), 0))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	var filtered []event.Event
	for _, e := range events {
		if from > 0 && e.TS < from {
			continue
		}
		if to > 0 && e.TS > to {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].TS > filtered[j].TS })

	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"events": filtered[offset:end],
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// logEventRequest is the manual-logging payload. Cost is computed from the
// pricing table when omitted but tokens are present.
type logEventRequest struct {
	Task             string  `json:"task"`
	Model            string  `json:"model"`
	CostUSD          float64 `json:"cost_usd"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	Status           string  `json:"status"`
	Session          string  `json:"session"`
	DurationSec      float64 `json:"duration_sec"`
	TS               int64   `json:"ts"`
}

// LogEvent appends one manually logged event.
func (h *Handler) LogEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Task == "" {
		h.respondError(w, http.StatusBadRequest, "task is required")
		return
	}

	model := h.resolveModel(req.Model)
	cost := req.CostUSD
	if cost == 0 {
		cost = pricing.Cost(pricing.Default().Resolve(model),
			req.InputTokens, req.OutputTokens, req.CacheReadTokens, req.CacheWriteTokens)
	}
	ts := req.TS
	if ts == 0 {
		ts = time.Now().Unix()
	}
	status := req.Status
	if status == "" {
		status = event.StatusCompleted
	}
	session := req.Session
	if session == "" {
		session = "manual"
	}

	saved, err := h.events.Append(event.Event{
		TS:               ts,
		Task:             req.Task,
		Model:            model,
		InputTokens:      req.InputTokens,
		OutputTokens:     req.OutputTokens,
		CacheReadTokens:  req.CacheReadTokens,
		CacheWriteTokens: req.CacheWriteTokens,
		CostUSD:          cost,
		Status:           status,
		Session:          session,
		Source:           "manual",
		DurationSec:      req.DurationSec,
	})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("append event: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusCreated, saved)
}

// RenameEvent renames one event by id.
func (h *Handler) RenameEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" {
		h.respondError(w, http.StatusBadRequest, "task is required")
		return
	}

	n, err := h.events.RenameEvent(id, req.Task)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("rename event: %v", err))
		return
	}
	if n == 0 {
		h.respondError(w, http.StatusNotFound, "event not found")
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{"renamed": n})
}

// RenameTask renames a task across all its events.
func (h *Handler) RenameTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Old == "" || req.New == "" {
		h.respondError(w, http.StatusBadRequest, "old and new are required")
		return
	}

	n, err := h.events.RenameTask(req.Old, req.New)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("rename task: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{"renamed": n})
}

// Import bulk-imports events, one JSON object per line (a JSON array body
// is also accepted). Malformed lines and events missing required fields are
// skipped and counted; duplicates by identity are skipped unless
// `?dedup=false`.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "read body failed")
		return
	}

	var batch []event.Event
	malformed := 0
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			h.respondError(w, http.StatusBadRequest, "body must be ndjson or a json array of events")
			return
		}
	} else {
		for _, line := range bytes.Split(trimmed, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var e event.Event
			if err := json.Unmarshal(line, &e); err != nil {
				malformed++
				continue
			}
			batch = append(batch, e)
		}
	}

	var valid []event.Event
	for _, e := range batch {
		if e.TS == 0 || e.Task == "" {
			malformed++
			continue
		}
		valid = append(valid, e)
	}

	dedup := r.URL.Query().Get("dedup") != "false"
	res, err := h.events.Import(valid, dedup)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("import: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"imported":          res.Imported,
		"skipped_dupes":     res.Skipped,
		"skipped_malformed": malformed,
	})
}

// Clear truncates the event file after taking a backup. Requires an
// explicit `?confirm=CONFIRM` so a stray request cannot wipe the data.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "CONFIRM" {
		h.respondError(w, http.StatusBadRequest, "pass ?confirm=CONFIRM to clear all events")
		return
	}

	backup, err := h.events.Clear()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("clear: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{"cleared": true, "backup": backup})
}

// Archive moves events older than `?days=` (default: retention setting,
// else 90) into the archive file.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	days := int(parseInt64(r.URL.Query().Get("days"), 0))
	if days <= 0 {
		days = h.settings.Get().RetentionDays
	}
	if days <= 0 {
		days = 90
	}

	n, path, err := h.events.Archive(time.Now().AddDate(0, 0, -days))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("archive: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{"archived": n, "archive_file": path, "days": days})
}

// Backups lists available backups, newest first.
func (h *Handler) Backups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.events.ListBackups()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list backups: %v", err))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

// Restore replaces the event file with a named backup.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.events.Restore(req.Name); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("restore: %v", err))
		return
	}
	h.engine.Invalidate()
	h.respondJSON(w, http.StatusOK, map[string]any{"restored": req.Name})
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
