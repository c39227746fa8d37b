// Package app wires the long-running background work: the snapshot
// broadcaster, periodic ingestion, daily maintenance, and the spend
// threshold notifier.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/broadcast"
	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/snapshot"
	"github.com/costpilot/costpilot/store"
)

// IngestFunc runs one ingestion pass.
type IngestFunc func() error

// App owns the background loops. Each loop is independent; one failing
// iteration logs and waits for the next tick.
type App struct {
	Events   *store.Store
	Engine   *snapshot.Engine
	Caster   *broadcast.Broadcaster
	Settings *config.SettingsStore
	Ingest   IngestFunc

	IngestInterval time.Duration
	Client         *http.Client
	Log            zerolog.Logger

	// thresholdFired tracks whether the alert webhook fired for the
	// current crossing. It resets when spend drops back under.
	thresholdFired bool
}

// Run starts all loops and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	go a.Caster.Run(ctx)
	go a.ingestLoop(ctx)
	go a.maintenanceLoop(ctx)
	go a.thresholdLoop(ctx)
	<-ctx.Done()
}

func (a *App) ingestLoop(ctx context.Context) {
	if a.Ingest == nil {
		return
	}
	interval := a.IngestInterval
	if interval <= 0 {
		interval = time.Minute
	}
	log := a.Log.With().Str("loop", "ingest").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Ingest(); err != nil {
				log.Warn().Err(err).Msg("ingestion pass failed, retrying next tick")
				continue
			}
			a.Engine.Invalidate()
		}
	}
}

// maintenanceLoop runs the daily jobs shortly after local midnight: a
// backup of the event file, and archival of events past retention.
func (a *App) maintenanceLoop(ctx context.Context) {
	log := a.Log.With().Str("loop", "maintenance").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilNextMidnight(time.Now())):
		}

		if path, err := a.Events.Backup(); err != nil {
			log.Warn().Err(err).Msg("daily backup failed")
		} else {
			log.Info().Str("backup", path).Msg("daily backup written")
		}

		if days := a.Settings.Get().RetentionDays; days > 0 {
			n, path, err := a.Events.Archive(time.Now().AddDate(0, 0, -days))
			if err != nil {
				log.Warn().Err(err).Msg("auto-archive failed")
			} else if n > 0 {
				log.Info().Int("archived", n).Str("file", path).Msg("auto-archived old events")
				a.Engine.Invalidate()
			}
		}

		a.sendDailySummary(ctx, log)
	}
}

// thresholdLoop watches today's spend against the alert threshold and
// fires the webhook once per crossing.
func (a *App) thresholdLoop(ctx context.Context) {
	log := a.Log.With().Str("loop", "threshold").Logger()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		settings := a.Settings.Get()
		if !settings.NotifyOnThreshold || settings.WebhookURL == "" || settings.AlertThresholdUSD <= 0 {
			continue
		}
		snap, err := a.Engine.Snapshot()
		if err != nil {
			log.Warn().Err(err).Msg("snapshot unavailable for threshold check")
			continue
		}

		over := snap.KPI.TodayCost >= settings.AlertThresholdUSD
		switch {
		case over && !a.thresholdFired:
			a.thresholdFired = true
			a.postWebhook(ctx, settings.WebhookURL, map[string]any{
				"type":          "threshold",
				"today_cost":    snap.KPI.TodayCost,
				"threshold_usd": settings.AlertThresholdUSD,
				"ts":            time.Now().Unix(),
			}, log)
		case !over && a.thresholdFired:
			a.thresholdFired = false
		}
	}
}

func (a *App) sendDailySummary(ctx context.Context, log zerolog.Logger) {
	settings := a.Settings.Get()
	if settings.WebhookURL == "" {
		return
	}
	snap, err := a.Engine.Snapshot()
	if err != nil {
		log.Warn().Err(err).Msg("snapshot unavailable for daily summary")
		return
	}
	a.postWebhook(ctx, settings.WebhookURL, map[string]any{
		"type":           "daily_summary",
		"yesterday_cost": snap.KPI.YesterdayCost,
		"week_cost":      snap.KPI.WeekCost,
		"score":          snap.Rules.Score,
		"grade":          snap.Rules.Grade,
		"ts":             time.Now().Unix(),
	}, log)
}

func (a *App) postWebhook(ctx context.Context, url string, payload map[string]any, log zerolog.Logger) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Msg("webhook payload encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("webhook delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("webhook rejected")
		return
	}
	log.Info().Str("type", fmt.Sprint(payload["type"])).Msg("webhook delivered")
}

// untilNextMidnight returns the wait until just past the next local
// midnight. The minute of slack keeps the daily jobs clear of the day
// boundary the snapshot windows are computed on.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 1, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
