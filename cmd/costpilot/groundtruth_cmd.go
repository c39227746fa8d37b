package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/groundtruth"
)

var groundtruthCmd = &cobra.Command{
	Use:   "groundtruth",
	Short: "Manage the provider billing baseline",
}

var groundtruthImportCmd = &cobra.Command{
	Use:   "import <file.csv> [more.csv...]",
	Short: "Build the ground-truth document from provider CSV exports",
	Long: `Build the ground-truth document from provider usage CSV exports.

The resulting daily and hourly cost baseline overrides tracked costs on
the dashboard wherever billing data exists for a day.

Example:
  costpilot groundtruth import usage_2026_02.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGroundtruthImport,
}

func init() {
	rootCmd.AddCommand(groundtruthCmd)
	groundtruthCmd.AddCommand(groundtruthImportCmd)
}

func runGroundtruthImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	data, err := groundtruth.Build(args, pricing.Default(), time.Now())
	if err != nil {
		return fmt.Errorf("build ground truth: %w", err)
	}

	gt := groundtruth.NewStore(cfg.GroundTruthPath(), log)
	if err := gt.Save(data); err != nil {
		return fmt.Errorf("save ground truth: %w", err)
	}

	var total float64
	for _, day := range data.Daily {
		total += day.CostUSD
	}
	fmt.Printf("imported %d day(s) from %d file(s), total $%.2f -> %s\n",
		len(data.Daily), len(args), total, cfg.GroundTruthPath())
	return nil
}
