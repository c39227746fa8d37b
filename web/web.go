// Package web provides the dashboard and JSON API over the cost pipeline.
// The dashboard page is embedded in the binary; everything else is JSON.
package web

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/adapters/metrics"
	"github.com/costpilot/costpilot/adapters/sqlite"
	"github.com/costpilot/costpilot/broadcast"
	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/groundtruth"
	"github.com/costpilot/costpilot/snapshot"
	"github.com/costpilot/costpilot/store"
)

//go:embed static/*
var assets embed.FS

// exportInterval is the minimum gap between export requests per client IP.
const exportInterval = 5 * time.Second

// Handler provides the API endpoints.
type Handler struct {
	events      *store.Store
	engine      *snapshot.Engine
	caster      *broadcast.Broadcaster
	gt          *groundtruth.Store
	settings    *config.SettingsStore
	annotations *sqlite.DB
	runlog      *store.RunLog
	metrics     *metrics.Collector

	token   string
	noAuth  bool
	version string

	exportLimit *rateLimiter
	startTime   time.Time
	logger      zerolog.Logger
}

// Deps contains dependencies for the API handler.
type Deps struct {
	Events      *store.Store
	Engine      *snapshot.Engine
	Caster      *broadcast.Broadcaster
	GroundTruth *groundtruth.Store
	Settings    *config.SettingsStore
	Annotations *sqlite.DB
	RunLog      *store.RunLog
	Metrics     *metrics.Collector
	Token       string
	NoAuth      bool
	Version     string
	Logger      zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		events:      deps.Events,
		engine:      deps.Engine,
		caster:      deps.Caster,
		gt:          deps.GroundTruth,
		settings:    deps.Settings,
		annotations: deps.Annotations,
		runlog:      deps.RunLog,
		metrics:     deps.Metrics,
		token:       deps.Token,
		noAuth:      deps.NoAuth,
		version:     deps.Version,
		exportLimit: newRateLimiter(exportInterval),
		startTime:   time.Now(),
		logger:      deps.Logger.With().Str("component", "web").Logger(),
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(h.requestLogger)
	r.Use(middleware.Compress(5, "application/json", "text/csv", "text/markdown"))
	r.Use(securityHeaders)
	r.Use(corsHeaders)

	// Unauthenticated surface: dashboard, liveness, health.
	r.Get("/", h.Index)
	r.Get("/api/ping", h.Ping)
	r.Get("/api/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/api/data", h.State)
		r.Get("/api/live", h.Live)
		r.Get("/api/version", h.Version)
		r.Get("/api/stats", h.Stats)
		r.Get("/api/docs", h.Docs)
		r.Get("/api/sessions", h.Sessions)
		r.Get("/api/compare", h.Compare)
		r.Get("/api/timeline", h.Timeline)
		r.Get("/api/report", h.Report)
		r.Get("/api/export", h.Export)
		r.Get("/api/estimate", h.Estimate)
		r.Get("/api/autologger-health", h.AutologgerHealth)

		r.Get("/api/config", h.ConfigGet)
		r.Post("/api/config", h.ConfigUpdate)

		r.Get("/api/events", h.Events)
		r.Post("/api/events", h.LogEvent)
		r.Patch("/api/events/{id}/rename", h.RenameEvent)
		r.Patch("/api/tasks/rename", h.RenameTask)
		r.Post("/api/import", h.Import)
		r.Delete("/api/clear", h.Clear)
		r.Post("/api/archive", h.Archive)
		r.Get("/api/backups", h.Backups)
		r.Post("/api/restore", h.Restore)

		r.Get("/api/annotations", h.AnnotationsList)
		r.Post("/api/annotations", h.AnnotationAdd)
		r.Delete("/api/annotations/{id}", h.AnnotationDelete)
	})

	return r
}

// authMiddleware enforces bearer-token auth on the API surface. A "token"
// query parameter is accepted for EventSource clients, which cannot set
// headers.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.noAuth || h.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == r.Header.Get("Authorization") {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			if h.metrics != nil {
				reason := "invalid_token"
				if got == "" {
					reason = "missing_token"
				}
				h.metrics.AuthFailures.WithLabelValues(reason).Inc()
			}
			h.respondError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request and feeds the request metrics.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()[:8]
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		if h.metrics != nil {
			h.metrics.RequestsInFlight.Inc()
			defer h.metrics.RequestsInFlight.Dec()
		}

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		h.logger.Debug().
			Str("req_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("elapsed", elapsed).
			Msg("request")

		if h.metrics != nil {
			h.metrics.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(ww.status)).Inc()
			h.metrics.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE responses stream through the status wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

// resolveModel canonicalizes a model alias. Per-dashboard aliases from
// settings take precedence over the built-in table; empty input falls back
// to the default model.
func (h *Handler) resolveModel(model string) string {
	if model == "" {
		return pricing.DefaultModel
	}
	if full, ok := h.settings.Get().ModelAliases[model]; ok && full != "" {
		return full
	}
	return pricing.ResolveAlias(pricing.DefaultAliases(), model)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
