package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/store"
)

var (
	logTask       string
	logModel      string
	logCost       float64
	logInput      int64
	logOutput     int64
	logCacheRead  int64
	logCacheWrite int64
	logSession    string
	logStatus     string
	logDuration   float64
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a one-off cost event",
	Long: `Append a single cost event to the event file.

Cost is computed from the pricing table when --cost is omitted but token
counts are given. Short model aliases (sonnet, opus, haiku) resolve to
full identifiers.

Examples:
  costpilot log -t "research run" --cost 1.25
  costpilot log -t "batch job" -m opus --input 120000 --output 8000`,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVarP(&logTask, "task", "t", "", "task name (required)")
	logCmd.Flags().StringVarP(&logModel, "model", "m", "", "model name or alias")
	logCmd.Flags().Float64Var(&logCost, "cost", 0, "cost in USD (computed from tokens when omitted)")
	logCmd.Flags().Int64Var(&logInput, "input", 0, "input tokens")
	logCmd.Flags().Int64Var(&logOutput, "output", 0, "output tokens")
	logCmd.Flags().Int64Var(&logCacheRead, "cache-read", 0, "cache read tokens")
	logCmd.Flags().Int64Var(&logCacheWrite, "cache-write", 0, "cache write tokens")
	logCmd.Flags().StringVar(&logSession, "session", "manual", "session identifier")
	logCmd.Flags().StringVar(&logStatus, "status", event.StatusCompleted, "event status")
	logCmd.Flags().Float64Var(&logDuration, "duration", 0, "duration in seconds")
	logCmd.MarkFlagRequired("task")
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	settings := config.NewSettingsStore(cfg.SettingsPath(), log)
	model := logModel
	if full, ok := settings.Get().ModelAliases[model]; ok && full != "" {
		model = full
	} else {
		model = pricing.ResolveAlias(pricing.DefaultAliases(), model)
	}
	if model == "" {
		model = pricing.DefaultModel
	}

	cost := logCost
	if cost == 0 {
		cost = pricing.Cost(pricing.Default().Resolve(model), logInput, logOutput, logCacheRead, logCacheWrite)
	}

	events := store.New(cfg.EventsPath(), false, log)

	// Warn before writing when this cost is far outside the task's history.
	if history, _, err := events.Load(); err == nil {
		var sum float64
		var n int
		for _, e := range history {
			if e.Task == logTask {
				sum += e.CostUSD
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n)
			if cost > 5*mean && cost > 0.50 {
				fmt.Printf("note: $%.4f is %.1fx the average for %q ($%.4f over %d events)\n",
					cost, cost/mean, logTask, mean, n)
			}
		}
	}

	saved, err := events.Append(event.Event{
		TS:               time.Now().Unix(),
		Task:             logTask,
		Model:            model,
		InputTokens:      logInput,
		OutputTokens:     logOutput,
		CacheReadTokens:  logCacheRead,
		CacheWriteTokens: logCacheWrite,
		CostUSD:          cost,
		Status:           logStatus,
		Session:          logSession,
		Source:           "manual",
		DurationSec:      logDuration,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	fmt.Printf("logged %s: %s ($%.4f, %s)\n", saved.ID, saved.Task, saved.CostUSD, model)
	return nil
}
