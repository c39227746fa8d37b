package cache_test

import (
	"testing"
	"time"

	"github.com/costpilot/costpilot/pkg/cache"
)

func TestValue_FreshHit(t *testing.T) {
	c := cache.New[int](time.Second)
	now := time.Now()

	c.Put("k1", 42, now)
	got, ok := c.Get("k1", now.Add(500*time.Millisecond))
	if !ok || got != 42 {
		t.Errorf("Get = %d, %v; want 42, true", got, ok)
	}
}

func TestValue_TTLExpiry(t *testing.T) {
	c := cache.New[int](time.Second)
	now := time.Now()

	c.Put("k1", 42, now)
	if _, ok := c.Get("k1", now.Add(time.Second)); ok {
		t.Error("value served at exactly TTL age, want miss")
	}
}

func TestValue_KeyMismatch(t *testing.T) {
	c := cache.New[string](time.Minute)
	now := time.Now()

	c.Put("mtime:100", "snapshot", now)
	if _, ok := c.Get("mtime:101", now); ok {
		t.Error("stale validity key served")
	}
}

func TestValue_Invalidate(t *testing.T) {
	c := cache.New[int](time.Minute)
	now := time.Now()

	c.Put("k1", 7, now)
	c.Invalidate()
	if _, ok := c.Get("k1", now); ok {
		t.Error("invalidated value served")
	}
}

func TestValue_EmptyMiss(t *testing.T) {
	c := cache.New[int](time.Minute)
	if _, ok := c.Get("", time.Now()); ok {
		t.Error("empty cache reported a hit")
	}
}
