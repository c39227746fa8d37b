// Package pricing provides per-model token pricing and cost calculation.
// Rates are USD per million tokens.
package pricing

import (
	"sort"
	"strings"
)

// Rates holds the per-million-token prices for one model family.
type Rates struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
}

// DefaultModel is the fallback pricing key when no table entry matches.
const DefaultModel = "claude-sonnet-4-6"

// Table maps a model-name substring to its rates. Resolution is
// longest-matching-prefix: the longest key contained in the model string
// wins, so "claude-opus-4" beats "claude-opus".
type Table map[string]Rates

// Default is the built-in pricing table.
func Default() Table {
	return Table{
		"claude-opus-4":     {Input: 15.0, Output: 75.0, CacheRead: 1.50, CacheWrite: 18.75},
		"claude-opus":       {Input: 15.0, Output: 75.0, CacheRead: 1.50, CacheWrite: 18.75},
		"claude-sonnet-4":   {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
		"claude-sonnet-3-7": {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
		"claude-sonnet-3-5": {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
		"claude-sonnet":     {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
		"claude-haiku":      {Input: 0.80, Output: 4.0, CacheRead: 0.08, CacheWrite: 1.00},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.60, CacheRead: 0.075},
		"gpt-4o":            {Input: 2.50, Output: 10.0, CacheRead: 1.25},
	}
}

// DefaultAliases maps short model names to canonical identifiers.
func DefaultAliases() map[string]string {
	return map[string]string{
		"sonnet": "claude-sonnet-4-6",
		"opus":   "claude-opus-4-6",
		"haiku":  "claude-haiku-3-5",
	}
}

// Resolve returns the rates for a model identifier. Matching is
// case-insensitive substring containment, most specific (longest) key
// first, falling back to DefaultModel's rates.
func (t Table) Resolve(model string) Rates {
	mv := strings.ToLower(model)

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j] // deterministic tie-break
	})

	for _, k := range keys {
		if strings.Contains(mv, k) {
			return t[k]
		}
	}
	return t.fallback()
}

func (t Table) fallback() Rates {
	if r, ok := t[DefaultModel]; ok {
		return r
	}
	if r, ok := t["claude-sonnet-4"]; ok {
		return r
	}
	return Rates{Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75}
}

// Cost computes the USD cost of a token breakdown at the given rates.
func Cost(r Rates, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int64) float64 {
	return (float64(inputTokens)*r.Input +
		float64(outputTokens)*r.Output +
		float64(cacheReadTokens)*r.CacheRead +
		float64(cacheWriteTokens)*r.CacheWrite) / 1_000_000
}

// ResolveAlias canonicalizes a model alias; unknown names pass through.
func ResolveAlias(aliases map[string]string, model string) string {
	if full, ok := aliases[model]; ok {
		return full
	}
	return model
}

// ModelLabel returns a short human label for a model identifier.
func ModelLabel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return "Claude Opus"
	case strings.Contains(m, "sonnet"):
		return "Claude Sonnet"
	case strings.Contains(m, "haiku"):
		return "Claude Haiku"
	case strings.Contains(m, "gpt-4o-mini"):
		return "GPT-4o mini"
	case strings.Contains(m, "gpt-4o"):
		return "GPT-4o"
	case strings.Contains(m, "gpt-4"):
		return "GPT-4"
	case strings.Contains(m, "gpt-3"):
		return "GPT-3.5"
	case strings.Contains(m, "gemini"):
		return "Gemini"
	case strings.Contains(m, "mistral"):
		return "Mistral"
	}
	if len(m) > 20 {
		return m[:20]
	}
	return m
}

// Tier classifies a model by cost tier for the rule engine.
type Tier int

const (
	TierUnknown Tier = iota
	TierLight        // haiku / mini class
	TierMid          // sonnet / gpt-4o class
	TierHeavy        // opus class
)

// TierOf returns the cost tier of a model identifier.
func TierOf(model string) Tier {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return TierHeavy
	case strings.Contains(m, "haiku"), strings.Contains(m, "mini"):
		return TierLight
	case strings.Contains(m, "sonnet"), strings.Contains(m, "gpt-4o"), strings.Contains(m, "gemini"):
		return TierMid
	}
	return TierUnknown
}
