package snapshot

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/groundtruth"
	"github.com/costpilot/costpilot/pkg/cache"
	"github.com/costpilot/costpilot/store"
)

// cacheTTL bounds how stale a served snapshot can be under rapid polling.
const cacheTTL = time.Second

// slowBuildWarn is the build duration above which the engine suggests
// archiving old events.
const slowBuildWarn = 500 * time.Millisecond

// Engine serves snapshots with a short-TTL cache keyed on the event file's
// mtime, so bursts of dashboard polls cost one build.
type Engine struct {
	events   *store.Store
	gt       *groundtruth.Store
	settings *config.SettingsStore
	log      zerolog.Logger
	clock    func() time.Time

	cached *cache.Value[*Snapshot]

	// BuildObserver, when set, receives the duration of every snapshot
	// build. Used to feed metrics.
	BuildObserver func(d time.Duration)
}

// NewEngine wires an engine over the three data sources.
func NewEngine(events *store.Store, gt *groundtruth.Store, settings *config.SettingsStore, log zerolog.Logger) *Engine {
	return &Engine{
		events:   events,
		gt:       gt,
		settings: settings,
		log:      log.With().Str("component", "snapshot").Logger(),
		clock:    time.Now,
		cached:   cache.New[*Snapshot](cacheTTL),
	}
}

// SetClock overrides the engine clock. Test hook.
func (en *Engine) SetClock(fn func() time.Time) { en.clock = fn }

// Invalidate drops the cached snapshot so the next call rebuilds.
func (en *Engine) Invalidate() { en.cached.Invalidate() }

// Snapshot returns the current analytics document, from cache when the
// event file is unchanged and the cached copy is under a second old.
func (en *Engine) Snapshot() (*Snapshot, error) {
	now := en.clock()
	key := strconv.FormatInt(en.events.ModTime().UnixNano(), 10)
	if snap, ok := en.cached.Get(key, now); ok {
		return snap, nil
	}

	snap, err := en.build(now, "")
	if err != nil {
		return nil, err
	}
	en.cached.Put(key, snap, now)
	return snap, nil
}

// SnapshotForTag rebuilds the document over only the events whose task
// carries the given tag. Not cached; tag views are rare.
func (en *Engine) SnapshotForTag(tag string) (*Snapshot, error) {
	return en.build(en.clock(), tag)
}

func (en *Engine) build(now time.Time, tag string) (*Snapshot, error) {
	t0 := time.Now()

	events, malformed, err := en.events.Load()
	if err != nil {
		return nil, err
	}
	demoMode := false
	if len(events) > 0 && events[0].Source == "demo" {
		demoMode = true
	}
	if tag != "" {
		events = filterTag(events, tag)
	}
	gt, _ := en.gt.Load()

	snap := Build(Input{
		Events:    events,
		DemoMode:  demoMode,
		Malformed: malformed,
		GT:        gt,
		Settings:  en.settings.Get(),
		Now:       now,
	})

	elapsed := time.Since(t0)
	if en.BuildObserver != nil {
		en.BuildObserver(elapsed)
	}
	if elapsed > slowBuildWarn {
		en.log.Warn().
			Dur("elapsed", elapsed).
			Int("events", len(events)).
			Msg("snapshot build slow, consider archiving old events")
	}
	return snap, nil
}

func filterTag(events []event.Event, tag string) []event.Event {
	var out []event.Event
	for _, e := range events {
		for _, t := range event.Tags(e.Task) {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
