package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/ingest"
	"github.com/costpilot/costpilot/store"
)

var (
	ingestMode    string
	ingestFile    string
	ingestDryRun  bool
	ingestNoDedup bool
	ingestReset   bool
	ingestDays    int
	remoteAPIKey  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass",
	Long: `Run one ingestion pass and exit.

Modes:
  session  Scan the configured session log directory (default)
  csv      Import a provider billing CSV (--file required)
  remote   Fetch from the configured usage API (--days back from today)

Examples:
  costpilot ingest
  costpilot ingest --dry-run
  costpilot ingest --mode csv --file usage.csv
  costpilot ingest --mode remote --days 7 --api-key $API_KEY
  costpilot ingest --reset-state`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestMode, "mode", "session", "ingestion mode: session, csv, remote")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "CSV file to import (csv mode)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "scan without writing events or cursors")
	ingestCmd.Flags().BoolVar(&ingestNoDedup, "no-dedup", false, "skip identity dedup (csv mode)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset-state", false, "delete ingestion cursors before running")
	ingestCmd.Flags().IntVar(&ingestDays, "days", 1, "days to fetch back from today (remote mode)")
	ingestCmd.Flags().StringVar(&remoteAPIKey, "api-key", "", "bearer key for the usage API (remote mode)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	events := store.New(cfg.EventsPath(), false, log)
	runlog := store.NewRunLog(cfg.RunLogPath())
	cursors := store.NewCursorFile(cfg.CursorPath())
	settings := config.NewSettingsStore(cfg.SettingsPath(), log)

	if ingestReset {
		if err := cursors.Reset(); err != nil {
			return fmt.Errorf("reset cursors: %w", err)
		}
		log.Info().Msg("ingestion cursors reset")
	}

	var res ingest.Result
	switch ingestMode {
	case "session":
		if cfg.Ingest.LogPath == "" {
			return fmt.Errorf("ingest.log_path not configured")
		}
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
		res, err = adapter.Run(ingestDryRun)
	case "csv":
		if ingestFile == "" {
			return fmt.Errorf("--file is required in csv mode")
		}
		adapter := &ingest.CSVAdapter{Store: events, RunLog: runlog, Log: log}
		res, err = adapter.Run(ingestFile, !ingestNoDedup, ingestDryRun)
	case "remote":
		if cfg.Ingest.RemoteURL == "" {
			return fmt.Errorf("ingest.remote_url not configured")
		}
		if remoteAPIKey == "" {
			return fmt.Errorf("--api-key is required in remote mode")
		}
		adapter := &ingest.RemoteAdapter{
			BaseURL: cfg.Ingest.RemoteURL,
			APIKey:  remoteAPIKey,
			Store:   events,
			RunLog:  runlog,
			Log:     log,
		}
		days := make([]time.Time, 0, ingestDays)
		for i := ingestDays - 1; i >= 0; i-- {
			days = append(days, time.Now().UTC().AddDate(0, 0, -i))
		}
		res, err = adapter.Run(context.Background(), days, ingestDryRun)
	default:
		return fmt.Errorf("unknown mode %q", ingestMode)
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", ingestMode, err)
	}

	prefix := "ingested"
	if res.DryRun {
		prefix = "would ingest"
	}
	fmt.Printf("%s %d events ($%.4f) from %d source(s), %d skipped\n",
		prefix, res.NewEvents, res.TotalCostUSD, res.FilesScanned, res.Skipped)
	return nil
}
