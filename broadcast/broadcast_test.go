package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/broadcast"
	"github.com/costpilot/costpilot/snapshot"
)

func staticSource(snap *snapshot.Snapshot) broadcast.Source {
	return func() (*snapshot.Snapshot, error) { return snap, nil }
}

func TestSubscribe_ImmediateSnapshot(t *testing.T) {
	snap := &snapshot.Snapshot{TS: 42}
	b := broadcast.New(staticSource(snap), time.Hour, zerolog.Nop())

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if got.TS != 42 {
			t.Errorf("initial snapshot TS = %d", got.TS)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate snapshot on subscribe")
	}
}

func TestRun_PushesOnTick(t *testing.T) {
	snap := &snapshot.Snapshot{TS: 1}
	b := broadcast.New(staticSource(snap), 10*time.Millisecond, zerolog.Nop())

	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch // drain the subscribe-time snapshot

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go b.Run(ctx)

	select {
	case got := <-ch:
		if got.TS != 1 {
			t.Errorf("ticked snapshot TS = %d", got.TS)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot pushed on tick")
	}
}

func TestRun_DropsStalledSubscriber(t *testing.T) {
	snap := &snapshot.Snapshot{TS: 1}
	b := broadcast.New(staticSource(snap), 5*time.Millisecond, zerolog.Nop())

	ch, cancel := b.Subscribe()
	defer cancel()
	// Never drain ch: the queue fills and the client must be dropped.

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go b.Run(ctx)

	deadline := time.After(2 * time.Second)
	for b.Subscribers() > 0 {
		select {
		case <-deadline:
			t.Fatal("stalled subscriber never dropped")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The channel is closed on drop.
	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}

func TestCancel_RemovesSubscriber(t *testing.T) {
	b := broadcast.New(staticSource(&snapshot.Snapshot{}), time.Hour, zerolog.Nop())
	_, cancel := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}
	cancel()
	cancel() // double cancel is safe
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d after cancel", b.Subscribers())
	}
}

func TestRun_ContextStopClosesChannels(t *testing.T) {
	b := broadcast.New(staticSource(&snapshot.Snapshot{}), 5*time.Millisecond, zerolog.Nop())
	ch, _ := b.Subscribe()
	<-ch

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Run(ctx); close(done) }()
	stop()
	<-done

	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d after shutdown", b.Subscribers())
	}
}
