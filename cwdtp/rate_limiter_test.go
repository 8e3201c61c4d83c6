package cwdtp

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d unexpectedly denied", i)
		}
	}
	if rl.Allow(now) {
		t.Fatal("4th event within the window should have been denied")
	}
}

func TestRateLimiterSlidingWindowRecovers(t *testing.T) {
	rl := NewRateLimiter(1, 100*time.Millisecond)
	start := time.Now()
	if !rl.Allow(start) {
		t.Fatal("first event should be allowed")
	}
	if rl.Allow(start.Add(10 * time.Millisecond)) {
		t.Fatal("second event inside the window should be denied")
	}
	if !rl.Allow(start.Add(200 * time.Millisecond)) {
		t.Fatal("event after the window elapsed should be allowed")
	}
}

func TestNewRateLimiterDefaultsInvalidInputs(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimitEvents || rl.window != DefaultRateLimitWindow {
		t.Fatalf("expected defaults, got limit=%d window=%v", rl.limit, rl.window)
	}
}
