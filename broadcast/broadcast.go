// Package broadcast fans the current snapshot out to dashboard clients.
// Each subscriber owns a buffered queue; a subscriber that stops draining
// is dropped rather than allowed to stall the loop.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/snapshot"
)

// queueDepth is the per-subscriber buffer. A client more than this many
// snapshots behind is considered dead.
const queueDepth = 8

// Source produces the current snapshot.
type Source func() (*snapshot.Snapshot, error)

// Broadcaster periodically pulls a snapshot and pushes it to every
// subscriber.
type Broadcaster struct {
	source   Source
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan *snapshot.Snapshot
	nextID int

	// Dropped, when set, is called with the subscriber count after a dead
	// client is removed. Used to feed metrics.
	Dropped func(remaining int)
}

// New returns a broadcaster pulling from source every interval.
func New(source Source, interval time.Duration, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		source:   source,
		interval: interval,
		log:      log.With().Str("component", "broadcast").Logger(),
		subs:     map[int]chan *snapshot.Snapshot{},
	}
}

// Subscribe registers a client. The current snapshot is queued immediately
// so new dashboards render without waiting a tick. The returned cancel
// func must be called when the client goes away.
func (b *Broadcaster) Subscribe() (<-chan *snapshot.Snapshot, func()) {
	ch := make(chan *snapshot.Snapshot, queueDepth)

	if snap, err := b.source(); err == nil {
		ch <- snap
	} else {
		b.log.Warn().Err(err).Msg("initial snapshot unavailable for new subscriber")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug().Int("subscribers", n).Msg("client subscribed")

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the current client count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run drives the broadcast loop until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case <-ticker.C:
			snap, err := b.source()
			if err != nil {
				b.log.Warn().Err(err).Msg("snapshot build failed, skipping tick")
				continue
			}
			b.push(snap)
		}
	}
}

// push enqueues without blocking. A full queue means the client stopped
// reading; it gets dropped so one stalled connection cannot back up the
// rest.
func (b *Broadcaster) push(snap *snapshot.Snapshot) {
	b.mu.Lock()
	var dead []int
	for id, ch := range b.subs {
		select {
		case ch <- snap:
		default:
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		close(b.subs[id])
		delete(b.subs, id)
	}
	remaining := len(b.subs)
	b.mu.Unlock()

	if len(dead) > 0 {
		b.log.Info().Int("dropped", len(dead)).Int("remaining", remaining).Msg("dropped stalled subscribers")
		if b.Dropped != nil {
			b.Dropped(remaining)
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
