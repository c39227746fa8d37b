package web

import (
	"sync"
	"time"
)

// rateLimiter allows one request per interval per key. It protects the
// export endpoint, which walks the whole event file.
type rateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{
		interval: interval,
		last:     map[string]time.Time{},
		now:      time.Now,
	}
}

// Allow reports whether key may proceed, recording the attempt if so.
func (l *rateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if prev, ok := l.last[key]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[key] = now

	// Drop stale entries so the map does not grow with one-off clients.
	if len(l.last) > 1000 {
		for k, t := range l.last {
			if now.Sub(t) > l.interval {
				delete(l.last, k)
			}
		}
	}
	return true
}
