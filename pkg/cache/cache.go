// Package cache provides a tiny single-value cache with a TTL and a
// validity key. The cached value is served only while it is younger than
// the TTL and the caller's validity key still matches the one recorded at
// fill time. Safe for concurrent use.
package cache

import (
	"sync"
	"time"
)

// Value caches one value of type T.
type Value[T any] struct {
	ttl time.Duration

	mu       sync.Mutex
	val      T
	key      string
	filledAt time.Time
	filled   bool
}

// New returns an empty cache with the given TTL.
func New[T any](ttl time.Duration) *Value[T] {
	return &Value[T]{ttl: ttl}
}

// Get returns the cached value if it is fresh: filled, younger than the
// TTL, and recorded under the same validity key.
func (c *Value[T]) Get(key string, now time.Time) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.filled || c.key != key || now.Sub(c.filledAt) >= c.ttl {
		var zero T
		return zero, false
	}
	return c.val, true
}

// Put stores a value under a validity key.
func (c *Value[T]) Put(key string, val T, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = val
	c.key = key
	c.filledAt = now
	c.filled = true
}

// Invalidate drops the cached value.
func (c *Value[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.val = zero
	c.key = ""
	c.filled = false
}
