// Package label resolves human-readable labels for ingestion sessions.
//
// Resolution is an ordered chain of strategies; the first one that
// succeeds wins. Order: explicit override, static alias table, job
// registry lookup by embedded identifier, primary-session heuristic,
// content-derived label, generic short id.
package label

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Context carries everything a resolver may inspect for one session.
type Context struct {
	// Key is the session key (e.g. "agent:main:main") or, when no key
	// mapping exists, the raw session UUID.
	Key string

	// FirstCostModel and FirstCostTS describe the first billed message of
	// the session's log file, when one was found. Zero values when not.
	FirstCostModel string
	FirstCostTS    int64
}

// Resolver attempts to produce a label for a session.
type Resolver interface {
	Resolve(ctx Context) (string, bool)
}

// Chain composes resolvers with first-success short-circuiting. A Chain
// always resolves: the terminal short-id fallback never fails.
type Chain []Resolver

// Resolve walks the chain and returns the first successful label.
func (c Chain) Resolve(ctx Context) string {
	for _, r := range c {
		if lbl, ok := r.Resolve(ctx); ok {
			return lbl
		}
	}
	return shortID(ctx.Key)
}

// NewChain builds the standard chain.
func NewChain(overrides map[string]string, static map[string]string, registry map[string]string) Chain {
	return Chain{
		Overrides(overrides),
		Static(static),
		Registry(registry),
		Primary{},
		Content{},
		ShortID{},
	}
}

// Overrides resolves via explicit per-session config overrides.
type Overrides map[string]string

func (o Overrides) Resolve(ctx Context) (string, bool) {
	lbl, ok := o[ctx.Key]
	return lbl, ok && lbl != ""
}

// Static resolves via the built-in session alias table.
type Static map[string]string

func (s Static) Resolve(ctx Context) (string, bool) {
	lbl, ok := s[ctx.Key]
	return lbl, ok && lbl != ""
}

var uuidRe = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// Registry resolves by looking up UUIDs embedded in the session key against
// an external job registry (job id -> job name). Exact id match first, then
// partial containment either way.
type Registry map[string]string

func (r Registry) Resolve(ctx Context) (string, bool) {
	if len(r) == 0 {
		return "", false
	}
	uuids := uuidRe.FindAllString(ctx.Key, -1)
	for _, uid := range uuids {
		if name, ok := r[uid]; ok && name != "" {
			return name, true
		}
	}
	for _, uid := range uuids {
		for jobID, name := range r {
			if name == "" {
				continue
			}
			if strings.Contains(jobID, uid) || strings.Contains(uid, jobID) {
				return name, true
			}
		}
	}
	return "", false
}

// PrimaryLabel is the label for the operator's main interactive session.
const PrimaryLabel = "Primary"

// Primary resolves interactive main sessions: a key containing "main" that
// is not a scheduled job.
type Primary struct{}

func (Primary) Resolve(ctx Context) (string, bool) {
	if strings.Contains(ctx.Key, "main") && !strings.Contains(ctx.Key, "cron") {
		return PrimaryLabel, true
	}
	return "", false
}

// Content derives a label from the session's first billed message: short
// model name plus the hour it started, e.g. "Sonnet · Feb 27 04:00".
type Content struct{}

func (Content) Resolve(ctx Context) (string, bool) {
	if ctx.FirstCostTS == 0 {
		return "", false
	}
	short := "AI"
	m := strings.ToLower(ctx.FirstCostModel)
	switch {
	case strings.Contains(m, "sonnet"):
		short = "Sonnet"
	case strings.Contains(m, "opus"):
		short = "Opus"
	case strings.Contains(m, "haiku"):
		short = "Haiku"
	}
	dt := time.Unix(ctx.FirstCostTS, 0)
	return fmt.Sprintf("%s · %s %d %02d:00", short, dt.Format("Jan"), dt.Day(), dt.Hour()), true
}

// ShortID is the terminal fallback: "Session " plus the first 8 characters
// of the key.
type ShortID struct{}

func (ShortID) Resolve(ctx Context) (string, bool) {
	return shortID(ctx.Key), true
}

func shortID(key string) string {
	if len(key) > 8 {
		key = key[:8]
	}
	return "Session " + key
}

// IsAnonymous reports whether a label is a ShortID fallback, i.e. still a
// candidate for enrichment from log content.
func IsAnonymous(label string) bool {
	return strings.HasPrefix(label, "Session ")
}
