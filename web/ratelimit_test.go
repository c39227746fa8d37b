package web

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(5 * time.Second)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("1.2.3.4") {
		t.Fatal("first request denied")
	}
	if l.Allow("1.2.3.4") {
		t.Error("immediate retry allowed")
	}
	if !l.Allow("5.6.7.8") {
		t.Error("different client denied")
	}

	now = now.Add(5 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Error("request after interval denied")
	}
}
