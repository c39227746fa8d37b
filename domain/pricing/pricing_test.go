package pricing_test

import (
	"math"
	"testing"

	"github.com/costpilot/costpilot/domain/pricing"
)

func TestResolve_LongestMatchWins(t *testing.T) {
	table := pricing.Table{
		"claude-opus":   {Input: 1},
		"claude-opus-4": {Input: 2},
	}

	got := table.Resolve("claude-opus-4-6")
	if got.Input != 2 {
		t.Errorf("Resolve picked Input=%v, want 2 (longest key)", got.Input)
	}

	got = table.Resolve("claude-opus-3-7")
	if got.Input != 1 {
		t.Errorf("Resolve picked Input=%v, want 1", got.Input)
	}
}

func TestResolve_FallbackToDefaultModel(t *testing.T) {
	table := pricing.Default()
	got := table.Resolve("some-unknown-model")
	want := table["claude-sonnet-4"]
	if got != want {
		t.Errorf("fallback = %+v, want sonnet rates %+v", got, want)
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	table := pricing.Default()
	if table.Resolve("Claude-Sonnet-4-6") != table.Resolve("claude-sonnet-4-6") {
		t.Error("resolution is case sensitive")
	}
}

func TestCost(t *testing.T) {
	r := pricing.Rates{Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75}

	// 1M input + 1M output = 3 + 15.
	got := pricing.Cost(r, 1_000_000, 1_000_000, 0, 0)
	if math.Abs(got-18.0) > 1e-9 {
		t.Errorf("Cost = %v, want 18.0", got)
	}

	// Cache reads are cheap.
	got = pricing.Cost(r, 0, 0, 1_000_000, 0)
	if math.Abs(got-0.30) > 1e-9 {
		t.Errorf("cache read cost = %v, want 0.30", got)
	}
}

func TestResolveAlias(t *testing.T) {
	aliases := pricing.DefaultAliases()
	if got := pricing.ResolveAlias(aliases, "sonnet"); got != "claude-sonnet-4-6" {
		t.Errorf("alias sonnet = %q", got)
	}
	if got := pricing.ResolveAlias(aliases, "claude-opus-4-6"); got != "claude-opus-4-6" {
		t.Errorf("passthrough = %q", got)
	}
}

func TestTierOf(t *testing.T) {
	tests := []struct {
		model string
		want  pricing.Tier
	}{
		{"claude-opus-4-6", pricing.TierHeavy},
		{"claude-sonnet-4-6", pricing.TierMid},
		{"claude-haiku-3-5", pricing.TierLight},
		{"gpt-4o-mini", pricing.TierLight},
		{"weird-model", pricing.TierUnknown},
	}
	for _, tt := range tests {
		if got := pricing.TierOf(tt.model); got != tt.want {
			t.Errorf("TierOf(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestModelLabel(t *testing.T) {
	if got := pricing.ModelLabel("claude-sonnet-4-6"); got != "Claude Sonnet" {
		t.Errorf("ModelLabel = %q", got)
	}
}
