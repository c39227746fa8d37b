// Package rules scores today's usage against a fixed, ordered set of
// efficiency and anomaly heuristics. Rules are independent and additive -
// several may fire for overlapping causes. All functions are pure.
package rules

import (
	"fmt"
	"strings"

	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/label"
	"github.com/costpilot/costpilot/domain/pricing"
)

// Severity of a triggered rule.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight returns the score penalty for a severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	}
	return 0
}

// Finding is one triggered rule's output.
type Finding struct {
	Rule                string   `json:"rule"`
	Severity            Severity `json:"severity"`
	Finding             string   `json:"finding"`
	Recommendation      string   `json:"recommendation"`
	EstimatedSavingsUSD float64  `json:"estimated_savings_usd"`
	Rationale           string   `json:"rationale"`
}

// Report is the full rule-engine output for one day.
type Report struct {
	Score    int       `json:"score"`
	Grade    string    `json:"grade"`
	Findings []Finding `json:"findings"`
}

// Rule evaluates one heuristic against today's events. Returning ok=false
// means the rule did not trigger.
type Rule func(today []event.Event) (Finding, bool)

// Ruleset returns the fixed evaluation order.
func Ruleset() []Rule {
	return []Rule{
		burstDensity,
		sessionDurationCacheRate,
		primaryCostShare,
		cacheHitRatio,
		sequentialClustering,
		timeOfDayConcentration,
		modelTierMix,
	}
}

// Evaluate runs the full ruleset over today's events. Events are sorted by
// timestamp internally; the input slice is not mutated.
func Evaluate(today []event.Event) Report {
	sorted := make([]event.Event, len(today))
	copy(sorted, today)
	event.SortByTS(sorted)

	var findings []Finding
	score := 100
	for _, rule := range Ruleset() {
		if f, ok := rule(sorted); ok {
			findings = append(findings, f)
			score -= f.Severity.Weight()
		}
	}
	if score < 0 {
		score = 0
	}
	return Report{Score: score, Grade: GradeFor(score), Findings: findings}
}

// GradeFor maps a score to its letter grade.
func GradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	}
	return "F"
}

func isPrimary(e event.Event) bool {
	return e.Task == label.PrimaryLabel || strings.Contains(e.Session, "main")
}

func totalCost(events []event.Event) float64 {
	var sum float64
	for _, e := range events {
		sum += e.CostUSD
	}
	return sum
}

// burstGapSec separates two bursts of primary-session messages.
const burstGapSec = 300

// burstDensity fires when the primary session billed many messages split
// into many short bursts: each burst re-reads the conversation prefix, so
// consolidating prompts recovers a share of the spend.
func burstDensity(today []event.Event) (Finding, bool) {
	var primary []event.Event
	for _, e := range today {
		if isPrimary(e) {
			primary = append(primary, e)
		}
	}
	if len(primary) < 15 {
		return Finding{}, false
	}

	bursts := 1
	for i := 1; i < len(primary); i++ {
		if primary[i].TS-primary[i-1].TS > burstGapSec {
			bursts++
		}
	}
	avgPerBurst := float64(len(primary)) / float64(bursts)
	if bursts < 8 || avgPerBurst > 4 {
		return Finding{}, false
	}

	cost := totalCost(primary)
	sev := SeverityMedium
	if bursts >= 10 {
		sev = SeverityHigh
	}
	return Finding{
		Rule:                "burst_density",
		Severity:            sev,
		Finding:             fmt.Sprintf("%d primary-session messages in %d bursts (avg %.1f msgs/burst)", len(primary), bursts, avgPerBurst),
		Recommendation:      "Batch related questions into fewer, larger prompts",
		EstimatedSavingsUSD: round4(cost * 0.3),
		Rationale:           "Each short burst re-bills the conversation prefix; consolidated prompts amortize it",
	}, true
}

// sessionDurationCacheRate fires for long sessions running with a poor
// cache-hit rate.
func sessionDurationCacheRate(today []event.Event) (Finding, bool) {
	type acc struct {
		dur              float64
		cacheRead, input int64
		cost             float64
	}
	sessions := map[string]*acc{}
	for _, e := range today {
		a := sessions[e.Session]
		if a == nil {
			a = &acc{}
			sessions[e.Session] = a
		}
		a.dur += e.DurationSec
		a.cacheRead += e.CacheReadTokens
		a.input += e.InputTokens
		a.cost += e.CostUSD
	}
	for id, a := range sessions {
		denom := a.cacheRead + a.input
		if a.dur < 3600 || denom == 0 {
			continue
		}
		hitRate := float64(a.cacheRead) / float64(denom)
		if hitRate < 0.5 {
			return Finding{
				Rule:                "long_session_low_cache",
				Severity:            SeverityMedium,
				Finding:             fmt.Sprintf("session %s ran %.0f min with %.0f%% cache-hit rate", shortSession(id), a.dur/60, hitRate*100),
				Recommendation:      "Keep long sessions warm or restart them to rebuild the prompt cache",
				EstimatedSavingsUSD: round4(a.cost * (0.5 - hitRate)),
				Rationale:           "Long sessions below 50% cache hits pay full input price for repeated context",
			}, true
		}
	}
	return Finding{}, false
}

// primaryCostShare fires when the interactive session dominates spend.
func primaryCostShare(today []event.Event) (Finding, bool) {
	total := totalCost(today)
	if total < 1.0 {
		return Finding{}, false
	}
	var primary float64
	for _, e := range today {
		if isPrimary(e) {
			primary += e.CostUSD
		}
	}
	share := primary / total
	if share <= 0.6 {
		return Finding{}, false
	}
	return Finding{
		Rule:                "primary_cost_share",
		Severity:            SeverityMedium,
		Finding:             fmt.Sprintf("primary session is %.0f%% of today's spend ($%.2f of $%.2f)", share*100, primary, total),
		Recommendation:      "Move repeatable work into scheduled jobs on cheaper models",
		EstimatedSavingsUSD: round4(primary * 0.25),
		Rationale:           "Interactive sessions carry full conversation context; batch jobs run lean",
	}, true
}

// cacheHitRatio fires when the overall day runs cold on the prompt cache.
func cacheHitRatio(today []event.Event) (Finding, bool) {
	var cacheRead, input int64
	for _, e := range today {
		cacheRead += e.CacheReadTokens
		input += e.InputTokens
	}
	denom := cacheRead + input
	if denom < 100_000 {
		return Finding{}, false
	}
	ratio := float64(cacheRead) / float64(denom)
	if ratio >= 0.3 {
		return Finding{}, false
	}
	// Cached reads cost ~10% of fresh input; the cold share pays the rest.
	missed := float64(input) * 0.9 * pricing.Default().Resolve(pricing.DefaultModel).Input / 1_000_000
	return Finding{
		Rule:                "cache_hit_ratio",
		Severity:            SeverityHigh,
		Finding:             fmt.Sprintf("cache-hit ratio %.0f%% across %d input tokens", ratio*100, denom),
		Recommendation:      "Enable or extend prompt caching on recurring system prompts",
		EstimatedSavingsUSD: round4(missed * 0.5),
		Rationale:           "Below 30% cache hits, most context is re-billed at full input price",
	}, true
}

// sequentialClustering fires when one task runs back-to-back many times
// inside an hour.
func sequentialClustering(today []event.Event) (Finding, bool) {
	run := 1
	for i := 1; i < len(today); i++ {
		same := today[i].Task != "" && today[i].Task == today[i-1].Task
		if same && today[i].TS-today[i-1].TS <= 3600 {
			run++
			if run >= 5 {
				cost := totalCost(today)
				return Finding{
					Rule:                "sequential_clustering",
					Severity:            SeverityLow,
					Finding:             fmt.Sprintf("task %q ran %d+ times back-to-back within an hour", today[i].Task, run),
					Recommendation:      "Combine repeated runs into a single batched invocation",
					EstimatedSavingsUSD: round4(cost * 0.05),
					Rationale:           "Per-run setup tokens are paid once per invocation",
				}, true
			}
		} else {
			run = 1
		}
	}
	return Finding{}, false
}

// timeOfDayConcentration fires when most of the spend lands in one 3-hour
// window - usually a runaway scheduled job rather than organic use.
func timeOfDayConcentration(today []event.Event) (Finding, bool) {
	total := totalCost(today)
	if total < 1.0 || len(today) < 5 {
		return Finding{}, false
	}
	hourly := [24]float64{}
	for _, e := range today {
		hourly[e.Time().Hour()] += e.CostUSD
	}
	for start := 0; start < 24; start++ {
		window := hourly[start] + hourly[(start+1)%24] + hourly[(start+2)%24]
		if window/total > 0.5 {
			return Finding{
				Rule:                "time_concentration",
				Severity:            SeverityLow,
				Finding:             fmt.Sprintf("%.0f%% of spend between %02d:00 and %02d:00", window/total*100, start, (start+3)%24),
				Recommendation:      "Check scheduled jobs in that window for redundant work",
				EstimatedSavingsUSD: 0,
				Rationale:           "Spend concentrated in one window usually traces to a single scheduler entry",
			}, true
		}
	}
	return Finding{}, false
}

// modelTierMix fires when heavy-tier models dominate spend.
func modelTierMix(today []event.Event) (Finding, bool) {
	total := totalCost(today)
	if total < 1.0 {
		return Finding{}, false
	}
	var heavy float64
	for _, e := range today {
		if pricing.TierOf(e.Model) == pricing.TierHeavy {
			heavy += e.CostUSD
		}
	}
	share := heavy / total
	if share <= 0.5 {
		return Finding{}, false
	}
	return Finding{
		Rule:                "model_tier_mix",
		Severity:            SeverityMedium,
		Finding:             fmt.Sprintf("heavy-tier models are %.0f%% of today's spend", share*100),
		Recommendation:      "Route drafting and classification work to mid- or light-tier models",
		EstimatedSavingsUSD: round4(heavy * 0.6),
		Rationale:           "Heavy-tier output tokens cost 5x the mid tier for much of the same work",
	}, true
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "(unnamed)"
	}
	return id
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
