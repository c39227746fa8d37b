package label_test

import (
	"testing"
	"time"

	"github.com/costpilot/costpilot/domain/label"
)

const jobUUID = "12345678-abcd-4def-8123-1234567890ab"

func TestChain_PriorityOrder(t *testing.T) {
	overrides := map[string]string{"agent:main:main": "Override Wins"}
	static := map[string]string{"agent:main:main": "Static"}
	registry := map[string]string{jobUUID: "Nightly Digest"}

	chain := label.NewChain(overrides, static, registry)

	// Override beats everything.
	if got := chain.Resolve(label.Context{Key: "agent:main:main"}); got != "Override Wins" {
		t.Errorf("override: got %q", got)
	}

	// Static beats registry/heuristics.
	chain = label.NewChain(nil, static, registry)
	if got := chain.Resolve(label.Context{Key: "agent:main:main"}); got != "Static" {
		t.Errorf("static: got %q", got)
	}

	// Registry lookup by embedded UUID.
	chain = label.NewChain(nil, nil, registry)
	if got := chain.Resolve(label.Context{Key: "agent:cron:" + jobUUID}); got != "Nightly Digest" {
		t.Errorf("registry: got %q", got)
	}
}

func TestChain_PrimaryHeuristic(t *testing.T) {
	chain := label.NewChain(nil, nil, nil)

	if got := chain.Resolve(label.Context{Key: "agent:main:main"}); got != label.PrimaryLabel {
		t.Errorf("main session: got %q", got)
	}
	// Scheduled jobs containing "cron" never match the primary heuristic.
	got := chain.Resolve(label.Context{Key: "agent:cron:main-job"})
	if got == label.PrimaryLabel {
		t.Error("cron session resolved as primary")
	}
}

func TestChain_ContentDerived(t *testing.T) {
	chain := label.NewChain(nil, nil, nil)
	ts := time.Date(2026, time.February, 27, 4, 12, 0, 0, time.Local).Unix()

	got := chain.Resolve(label.Context{
		Key:            "9f1c2d3e-0000-4000-8000-000000000000",
		FirstCostModel: "claude-sonnet-4-6",
		FirstCostTS:    ts,
	})
	if got != "Sonnet · Feb 27 04:00" {
		t.Errorf("content label = %q", got)
	}
}

func TestChain_ShortIDFallback(t *testing.T) {
	chain := label.NewChain(nil, nil, nil)

	got := chain.Resolve(label.Context{Key: "9f1c2d3e-0000-4000-8000-000000000000"})
	if got != "Session 9f1c2d3e" {
		t.Errorf("fallback = %q", got)
	}
	if !label.IsAnonymous(got) {
		t.Error("fallback label not reported anonymous")
	}
	if label.IsAnonymous("Nightly Digest") {
		t.Error("named label reported anonymous")
	}
}

func TestRegistry_PartialMatch(t *testing.T) {
	reg := label.Registry{jobUUID + "-suffix": "Partial Job"}
	got, ok := reg.Resolve(label.Context{Key: "run-" + jobUUID})
	if !ok || got != "Partial Job" {
		t.Errorf("partial match: got %q ok=%v", got, ok)
	}
}
