package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newRateLimiter(2, time.Minute)
	r.now = func() time.Time { return now }

	if !r.allow() || !r.allow() {
		t.Fatal("first two requests should pass")
	}
	if r.allow() {
		t.Fatal("third request in the window should be rejected")
	}

	now = now.Add(time.Minute)
	if !r.allow() {
		t.Fatal("a new window should reset the counter")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := newRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !r.allow() {
			t.Fatal("a zero limit must never reject")
		}
	}
}
