package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/adapters/metrics"
	"github.com/costpilot/costpilot/adapters/sqlite"
	"github.com/costpilot/costpilot/app"
	"github.com/costpilot/costpilot/broadcast"
	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/groundtruth"
	"github.com/costpilot/costpilot/ingest"
	"github.com/costpilot/costpilot/snapshot"
	"github.com/costpilot/costpilot/store"
	"github.com/costpilot/costpilot/web"
)

var (
	noAuth bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Long: `Start the CostPilot dashboard server.

The server will:
  - Load configuration from costpilot.yaml (or --config)
  - Serve the dashboard and JSON API
  - Stream live updates over server-sent events
  - Run the background ingestion loop when a session log path is set
  - Take daily backups and auto-archive past retention

Examples:
  costpilot serve
  costpilot serve --config /etc/costpilot/config.yaml
  costpilot serve --no-auth`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable bearer-token auth on the API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	events := store.New(cfg.EventsPath(), cfg.Data.DemoFallback, log)
	settings := config.NewSettingsStore(cfg.SettingsPath(), log)
	if err := settings.Watch(); err != nil {
		log.Warn().Err(err).Msg("settings watch unavailable, relying on mtime checks")
	}
	defer settings.Close()

	gt := groundtruth.NewStore(cfg.GroundTruthPath(), log)
	engine := snapshot.NewEngine(events, gt, settings, log)
	settings.OnChange(func(config.Settings) { engine.Invalidate() })

	collector := metrics.New()
	engine.BuildObserver = func(d time.Duration) {
		collector.SnapshotBuilds.Inc()
		collector.SnapshotDuration.Observe(d.Seconds())
	}

	refresh := time.Duration(settings.Get().RefreshIntervalSec) * time.Second
	if refresh < time.Second {
		refresh = 2 * time.Second
	}
	caster := broadcast.New(engine.Snapshot, refresh, log)
	caster.Dropped = func(int) { collector.StreamDrops.Inc() }

	annotations, err := sqlite.Open(cfg.AnnotationsPath())
	if err != nil {
		return fmt.Errorf("open annotations db: %w", err)
	}
	defer annotations.Close()

	token := ""
	if !noAuth {
		token, err = app.EnsureToken(cfg)
		if err != nil {
			return err
		}
		log.Info().Msg("api auth enabled")
	}

	runlog := store.NewRunLog(cfg.RunLogPath())
	handler := web.NewHandler(web.Deps{
		Events:      events,
		Engine:      engine,
		Caster:      caster,
		GroundTruth: gt,
		Settings:    settings,
		Annotations: annotations,
		RunLog:      runlog,
		Metrics:     collector,
		Token:       token,
		NoAuth:      noAuth,
		Version:     version,
		Logger:      log,
	})

	router := chi.NewRouter()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	router.Mount("/", handler.Router())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	background := &app.App{
		Events:         events,
		Engine:         engine,
		Caster:         caster,
		Settings:       settings,
		Ingest:         ingestPass(cfg, events, runlog, settings, collector, log),
		IngestInterval: cfg.Ingest.Interval,
		Log:            log,
	}
	go background.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ingestPass returns the background ingestion function, or nil when no
// session log path is configured.
func ingestPass(cfg *config.Config, events *store.Store, runlog *store.RunLog, settings *config.SettingsStore, collector *metrics.Collector, log zerolog.Logger) app.IngestFunc {
	if cfg.Ingest.LogPath == "" {
		return nil
	}
	cursors := store.NewCursorFile(cfg.CursorPath())

	return func() error {
		set := settings.Get()
		adapter := &ingest.SessionLogAdapter{
			Dir:          cfg.Ingest.LogPath,
			SessionsFile: cfg.Ingest.SessionsFile,
			RegistryFile: cfg.Ingest.RegistryFile,
			Store:        events,
			Cursors:      cursors,
			RunLog:       runlog,
			Overrides:    set.SessionLabelOverrides,
			Exclude:      set.ExcludeSessions,
			Log:          log,
		}

		start := time.Now()
		res, err := adapter.Run(false)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		collector.IngestRuns.WithLabelValues(ingest.SourceSessionLog, outcome).Inc()
		collector.IngestDuration.WithLabelValues(ingest.SourceSessionLog).Observe(time.Since(start).Seconds())
		if err == nil {
			collector.IngestEvents.WithLabelValues(ingest.SourceSessionLog).Add(float64(res.NewEvents))
			collector.LastIngestEpoch.SetToCurrentTime()
		}
		return err
	}
}
