package api

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request over the limit should be rejected")
	}
	// Other IPs have their own budget.
	if !rl.Allow("10.0.0.2") {
		t.Fatal("distinct IP should not share the exhausted bucket")
	}
}

func TestRateLimiterDisabledWhenLimitZero(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("zero limit must disable limiting")
		}
	}
}

func TestRateLimiterEvictsExpiredBuckets(t *testing.T) {
	window := 10 * time.Millisecond
	rl := NewRateLimiter(5, window)

	for i := 0; i < 4; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}

	time.Sleep(2 * window)

	// The next request sweeps: only its own bucket survives.
	rl.Allow("10.0.1.1")

	rl.mu.Lock()
	size := len(rl.clients)
	rl.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected expired buckets evicted, map holds %d entries", size)
	}
}
