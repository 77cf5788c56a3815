/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package suppress

import (
	"testing"
	"time"
)

func TestRateLimitBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 60, BurstSize: 3})
	now := time.Now()

	// First 3 rapid calls drain the burst, next 2 are denied.
	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("db", now)
		if !ok {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	for i := 0; i < 2; i++ {
		ok, st := rl.Allow("db", now)
		if ok {
			t.Fatalf("call %d should be denied", i+4)
		}
		if st.AvailableTokens >= 1 {
			t.Fatalf("denied with %f tokens available", st.AvailableTokens)
		}
	}

	// After 60s at 60 tokens/min the bucket refills; one more is allowed.
	ok, _ := rl.Allow("db", now.Add(60*time.Second))
	if !ok {
		t.Fatal("call after refill window should be allowed")
	}
}

func TestRateLimitTokenBounds(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 120, BurstSize: 5})
	now := time.Now()

	// Drive an arbitrary mix of rapid calls and waits; the token count
	// must stay inside [0, burst] at every observation.
	offsets := []time.Duration{0, 0, 0, 0, 0, 0, time.Second, time.Second,
		10 * time.Second, 10 * time.Second, time.Hour, time.Hour, time.Hour}
	at := now
	for i, off := range offsets {
		at = at.Add(off)
		_, st := rl.Allow("svc", at)
		if st.AvailableTokens < 0 || st.AvailableTokens > 5 {
			t.Fatalf("call %d: tokens %f out of [0,5]", i, st.AvailableTokens)
		}
	}
}

func TestRateLimitConservation(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 60, BurstSize: 2})
	now := time.Now()

	const calls = 20
	for i := 0; i < calls; i++ {
		rl.Allow("svc", now.Add(time.Duration(i)*100*time.Millisecond))
	}
	st, ok := rl.State("svc", now.Add(2*time.Second))
	if !ok {
		t.Fatal("expected bucket for svc")
	}
	if st.AlertCount+st.SuppressedCount != calls {
		t.Fatalf("allowed %d + suppressed %d != %d calls", st.AlertCount, st.SuppressedCount, calls)
	}
}

func TestRateLimitZeroRate(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 0, BurstSize: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, _ := rl.Allow("s", now)
		if !ok {
			t.Fatalf("burst call %d should be allowed", i+1)
		}
	}
	// With zero rate nothing ever refills, even much later.
	ok, _ := rl.Allow("s", now.Add(24*time.Hour))
	if ok {
		t.Fatal("zero-rate source must deny after initial burst")
	}
}

func TestRateLimitPerSourceIsolation(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 60, BurstSize: 1})
	now := time.Now()

	if ok, _ := rl.Allow("a", now); !ok {
		t.Fatal("first call for a should pass")
	}
	if ok, _ := rl.Allow("a", now); ok {
		t.Fatal("second call for a should be denied")
	}
	// b has its own bucket seeded full.
	if ok, _ := rl.Allow("b", now); !ok {
		t.Fatal("first call for b should pass")
	}
}

func TestRateLimitSweep(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{TokensPerMinute: 60, BurstSize: 1, EntryTTL: time.Minute})
	now := time.Now()

	rl.Allow("old", now)
	rl.Allow("fresh", now.Add(2*time.Minute))

	if n := rl.Sweep(now.Add(2*time.Minute + time.Second)); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := rl.State("old", now.Add(3*time.Minute)); ok {
		t.Fatal("idle bucket should be gone")
	}
	if _, ok := rl.State("fresh", now.Add(3*time.Minute)); !ok {
		t.Fatal("fresh bucket should survive")
	}
}
