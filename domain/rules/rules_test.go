package rules_test

import (
	"testing"
	"time"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/rules"
)

func findRule(r rules.Report, name string) (rules.Finding, bool) {
	for _, f := range r.Findings {
		if f.Rule == name {
			return f, true
		}
	}
	return rules.Finding{}, false
}

// Twenty primary-session messages arriving as ten bursts of two must trip
// the burst rule at high severity with nonzero estimated savings.
func TestEvaluate_BurstDensity(t *testing.T) {
	base := time.Date(2026, 2, 27, 9, 0, 0, 0, time.Local).Unix()
	var today []event.Event
	for burst := 0; burst < 10; burst++ {
		start := base + int64(burst)*900 // 15 min between bursts
		for msg := 0; msg < 2; msg++ {
			today = append(today, event.Event{
				TS:      start + int64(msg)*10,
				Task:    "Primary",
				Session: "agent:main:main",
				CostUSD: 0.10,
			})
		}
	}

	report := rules.Evaluate(today)
	f, ok := findRule(report, "burst_density")
	if !ok {
		t.Fatal("burst_density did not fire")
	}
	if f.Severity != rules.SeverityHigh {
		t.Errorf("severity = %q, want high", f.Severity)
	}
	if f.EstimatedSavingsUSD <= 0 {
		t.Errorf("savings = %v, want > 0", f.EstimatedSavingsUSD)
	}
	if report.Score >= 100 {
		t.Errorf("score = %d, want < 100", report.Score)
	}
}

func TestEvaluate_CleanDayScoresA(t *testing.T) {
	base := time.Date(2026, 2, 27, 9, 0, 0, 0, time.Local).Unix()
	// Three spread-out, cache-warm, mid-tier events trip nothing.
	today := []event.Event{
		{TS: base, Task: "Morning Digest", Model: "claude-haiku-3-5", CostUSD: 0.02, CacheReadTokens: 50_000, InputTokens: 1_000},
		{TS: base + 6*3600, Task: "Primary", Session: "agent:main:main", Model: "claude-sonnet-4-6", CostUSD: 0.10, CacheReadTokens: 80_000, InputTokens: 2_000},
		{TS: base + 12*3600, Task: "Nightly Report", Model: "claude-sonnet-4-6", CostUSD: 0.05, CacheReadTokens: 40_000, InputTokens: 1_500},
	}

	report := rules.Evaluate(today)
	if len(report.Findings) != 0 {
		t.Fatalf("findings = %+v, want none", report.Findings)
	}
	if report.Score != 100 || report.Grade != "A" {
		t.Errorf("score=%d grade=%q, want 100/A", report.Score, report.Grade)
	}
}

func TestEvaluate_ModelTierMix(t *testing.T) {
	base := time.Date(2026, 2, 27, 1, 0, 0, 0, time.Local).Unix()
	today := []event.Event{
		{TS: base, Task: "Analysis", Model: "claude-opus-4-6", CostUSD: 4.00},
		{TS: base + 10*3600, Task: "Digest", Model: "claude-haiku-3-5", CostUSD: 0.50},
	}

	report := rules.Evaluate(today)
	f, ok := findRule(report, "model_tier_mix")
	if !ok {
		t.Fatal("model_tier_mix did not fire")
	}
	if f.Severity != rules.SeverityMedium {
		t.Errorf("severity = %q, want medium", f.Severity)
	}
	if f.EstimatedSavingsUSD <= 0 {
		t.Errorf("savings = %v, want > 0", f.EstimatedSavingsUSD)
	}
}

func TestEvaluate_CacheHitRatio(t *testing.T) {
	base := time.Date(2026, 2, 27, 2, 0, 0, 0, time.Local).Unix()
	// 200k fresh input tokens against 10k cached: ratio well under 30%.
	today := []event.Event{
		{TS: base, Task: "Bulk Job", InputTokens: 200_000, CacheReadTokens: 10_000, CostUSD: 0.60},
		{TS: base + 8*3600, Task: "Other", InputTokens: 1_000, CostUSD: 0.50},
	}

	report := rules.Evaluate(today)
	f, ok := findRule(report, "cache_hit_ratio")
	if !ok {
		t.Fatal("cache_hit_ratio did not fire")
	}
	if f.Severity != rules.SeverityHigh {
		t.Errorf("severity = %q, want high", f.Severity)
	}
}

func TestEvaluate_SequentialClustering(t *testing.T) {
	base := time.Date(2026, 2, 27, 14, 0, 0, 0, time.Local).Unix()
	var today []event.Event
	for i := 0; i < 6; i++ {
		today = append(today, event.Event{TS: base + int64(i)*60, Task: "Retry Loop", CostUSD: 0.01})
	}

	report := rules.Evaluate(today)
	if _, ok := findRule(report, "sequential_clustering"); !ok {
		t.Fatal("sequential_clustering did not fire")
	}
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A"}, {90, "A"}, {89, "B"}, {75, "B"},
		{74, "C"}, {60, "C"}, {59, "D"}, {40, "D"}, {39, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		if got := rules.GradeFor(tt.score); got != tt.want {
			t.Errorf("GradeFor(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestSeverityWeights(t *testing.T) {
	if rules.SeverityHigh.Weight() != 20 || rules.SeverityMedium.Weight() != 10 || rules.SeverityLow.Weight() != 5 {
		t.Error("severity weights changed")
	}
}

func TestEvaluate_ScoreClampedAtZero(t *testing.T) {
	// A day bad enough to trip most rules still reports a score >= 0.
	base := time.Date(2026, 2, 27, 9, 0, 0, 0, time.Local).Unix()
	var today []event.Event
	for burst := 0; burst < 12; burst++ {
		start := base + int64(burst)*600
		for msg := 0; msg < 2; msg++ {
			today = append(today, event.Event{
				TS:          start + int64(msg)*5,
				Task:        "Primary",
				Session:     "agent:main:main",
				Model:       "claude-opus-4-6",
				CostUSD:     2.00,
				InputTokens: 50_000,
				DurationSec: 400,
			})
		}
	}

	report := rules.Evaluate(today)
	if report.Score < 0 {
		t.Errorf("score = %d, want >= 0", report.Score)
	}
	if len(report.Findings) < 3 {
		t.Errorf("findings = %d, want several on a pathological day", len(report.Findings))
	}
}
