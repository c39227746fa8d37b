// Package groundtruth imports provider-console usage CSVs and serves the
// resulting daily and hourly billed totals. Ground truth is authoritative
// where it exists; tracked events cover the days it does not.
package groundtruth

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/costpilot/costpilot/domain/pricing"
)

// DayTotal aggregates one UTC day of provider-billed usage.
type DayTotal struct {
	CostUSD   float64  `json:"cost_usd"`
	NoCache   int64    `json:"no_cache"`
	CacheW5m  int64    `json:"cache_w_5m"`
	CacheW1h  int64    `json:"cache_w_1h"`
	CacheRead int64    `json:"cache_read"`
	Output    int64    `json:"output"`
	Models    []string `json:"models,omitempty"`
}

// Data is the full ground-truth document.
type Data struct {
	GeneratedAt string                         `json:"generated_at"`
	SourceFiles []string                       `json:"source_files"`
	Daily       map[string]DayTotal            `json:"daily"`
	Hourly      map[string]map[string]DayTotal `json:"hourly"`
}

// DailyCost returns the billed total for a YYYY-MM-DD date. ok is false
// when the date is absent from the import.
func (d *Data) DailyCost(date string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Daily[date]
	return v.CostUSD, ok
}

// row is one hourly CSV line after parsing.
type row struct {
	date    string
	hour    int
	model   string
	noCache int64
	cw5m    int64
	cw1h    int64
	cread   int64
	output  int64
	cost    float64
}

// importCSV parses one provider usage CSV. Lines missing a date or model
// are skipped silently; the export format includes ragged trailer rows.
func importCSV(path string, table pricing.Table) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f, table)
}

func parseCSV(r io.Reader, table pricing.Table) ([]row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	tokens := func(rec []string, name string) int64 {
		n, err := strconv.ParseInt(field(rec, name), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}

	var rows []row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		model := field(rec, "model_version")
		dateS := field(rec, "usage_date_utc")
		if model == "" || dateS == "" {
			continue
		}
		dt, err := time.Parse("2006-01-02 15:04", dateS)
		if err != nil {
			if dt, err = time.Parse("2006-01-02", dateS); err != nil {
				continue
			}
		}

		rates := table.Resolve(model)
		ro := row{
			date:    dt.Format("2006-01-02"),
			hour:    dt.Hour(),
			model:   model,
			noCache: tokens(rec, "usage_input_tokens_no_cache"),
			cw5m:    tokens(rec, "usage_input_tokens_cache_write_5m"),
			cw1h:    tokens(rec, "usage_input_tokens_cache_write_1h"),
			cread:   tokens(rec, "usage_input_tokens_cache_read"),
			output:  tokens(rec, "usage_output_tokens"),
		}
		ro.cost = round6((float64(ro.noCache)*rates.Input +
			float64(ro.cw5m+ro.cw1h)*rates.CacheWrite +
			float64(ro.cread)*rates.CacheRead +
			float64(ro.output)*rates.Output) / 1_000_000)
		rows = append(rows, ro)
	}
	return rows, nil
}

// Build aggregates CSV files into a ground-truth document.
func Build(paths []string, table pricing.Table, now time.Time) (*Data, error) {
	var all []row
	for _, p := range paths {
		rows, err := importCSV(p, table)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no usable rows in %d csv file(s)", len(paths))
	}

	daily := map[string]*DayTotal{}
	hourly := map[string]map[string]*DayTotal{}
	models := map[string]map[string]struct{}{}
	for _, r := range all {
		d := daily[r.date]
		if d == nil {
			d = &DayTotal{}
			daily[r.date] = d
			hourly[r.date] = map[string]*DayTotal{}
			models[r.date] = map[string]struct{}{}
		}
		d.CostUSD += r.cost
		d.NoCache += r.noCache
		d.CacheW5m += r.cw5m
		d.CacheW1h += r.cw1h
		d.CacheRead += r.cread
		d.Output += r.output
		models[r.date][r.model] = struct{}{}

		hk := strconv.Itoa(r.hour)
		h := hourly[r.date][hk]
		if h == nil {
			h = &DayTotal{}
			hourly[r.date][hk] = h
		}
		h.CostUSD += r.cost
		h.NoCache += r.noCache
		h.CacheW5m += r.cw5m
		h.CacheW1h += r.cw1h
		h.CacheRead += r.cread
		h.Output += r.output
	}

	out := &Data{
		GeneratedAt: now.UTC().Format("2006-01-02T15:04:05Z"),
		Daily:       map[string]DayTotal{},
		Hourly:      map[string]map[string]DayTotal{},
	}
	for _, p := range paths {
		out.SourceFiles = append(out.SourceFiles, baseName(p))
	}
	for date, v := range daily {
		v.CostUSD = round4(v.CostUSD)
		for m := range models[date] {
			v.Models = append(v.Models, m)
		}
		sort.Strings(v.Models)
		out.Daily[date] = *v

		day := map[string]DayTotal{}
		for h := 0; h < 24; h++ {
			hk := strconv.Itoa(h)
			if hv, ok := hourly[date][hk]; ok {
				hv.CostUSD = round4(hv.CostUSD)
				day[hk] = *hv
			} else {
				day[hk] = DayTotal{}
			}
		}
		out.Hourly[date] = day
	}
	return out, nil
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
