package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "costpilot",
	Short: "Local-first AI usage cost tracking and analytics",
	Long: `CostPilot tracks what your AI usage actually costs.

It ingests billed usage from agent session logs, provider CSV exports,
and usage APIs into one local event file, reconciles it against provider
billing data, and serves a live dashboard with spend analytics and
efficiency scoring.

Quick start:
  costpilot serve            # Start the dashboard server
  costpilot ingest           # Run one ingestion pass
  costpilot log -t "my task" # Log a one-off cost event`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "costpilot.yaml", "config file path")
}

// loadConfig reads the YAML server config, falling back to defaults when
// the file is absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the root logger from the logging config.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Logging.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
