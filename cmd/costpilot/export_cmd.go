package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/costpilot/costpilot/store"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all events",
	Long: `Export the full event file as csv, json, or markdown.

Examples:
  costpilot export > events.csv
  costpilot export --format json -o events.json`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv, json, markdown")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	events, _, err := store.New(cfg.EventsPath(), false, log).Load()
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })

	var out io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch exportFormat {
	case "csv":
		cw := csv.NewWriter(out)
		cw.Write([]string{"ts", "date", "task", "model", "cost_usd", "input_tokens", "output_tokens", "status", "session", "source"})
		for _, e := range events {
			cw.Write([]string{
				strconv.FormatInt(e.TS, 10),
				e.Time().Format("2006-01-02 15:04:05"),
				e.Task,
				e.Model,
				strconv.FormatFloat(e.CostUSD, 'f', -1, 64),
				strconv.FormatInt(e.InputTokens, 10),
				strconv.FormatInt(e.OutputTokens, 10),
				e.Status,
				e.Session,
				e.Source,
			})
		}
		cw.Flush()
		return cw.Error()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "markdown":
		fmt.Fprintln(out, "| Date | Task | Model | Cost |")
		fmt.Fprintln(out, "|---|---|---|---|")
		for _, e := range events {
			fmt.Fprintf(out, "| %s | %s | %s | $%.4f |\n",
				e.Time().Format("2006-01-02 15:04"), e.Task, e.Model, e.CostUSD)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", exportFormat)
	}
}
