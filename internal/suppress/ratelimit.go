/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package suppress implements the cheap, source-scoped suppression stages
// that run before filters and rules: per-source token-bucket rate limiting
// and time-windowed duplicate detection.
package suppress

import (
	"sync"
	"time"
)

// RateLimitConfig configures per-source token buckets.
type RateLimitConfig struct {
	// TokensPerMinute is the sustained refill rate. Zero means a source
	// gets its initial burst and nothing more.
	TokensPerMinute float64

	// BurstSize is the bucket capacity. New sources start full.
	BurstSize float64

	// EntryTTL controls idle bucket eviction. Buckets untouched for this
	// long are dropped on the next sweep. Zero disables eviction.
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		TokensPerMinute: 60,
		BurstSize:       10,
		EntryTTL:        30 * time.Minute,
	}
}

// BucketState is a snapshot of one source's bucket.
type BucketState struct {
	Source          string
	TokensPerMinute float64
	BurstSize       float64
	AvailableTokens float64
	LastRefill      time.Time
	LastAlertTime   time.Time
	AlertCount      int64
	SuppressedCount int64
}

type bucket struct {
	mu              sync.Mutex
	tokensPerMinute float64
	burstSize       float64
	available       float64
	lastRefill      time.Time
	lastAlertTime   time.Time
	alertCount      int64
	suppressedCount int64
}

// refill adds tokens for the elapsed time, capped at capacity. Caller
// holds the bucket lock.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.available += elapsed.Seconds() * b.tokensPerMinute / 60
	if b.available > b.burstSize {
		b.available = b.burstSize
	}
	b.lastRefill = now
}

func (b *bucket) snapshot(source string) BucketState {
	return BucketState{
		Source:          source,
		TokensPerMinute: b.tokensPerMinute,
		BurstSize:       b.burstSize,
		AvailableTokens: b.available,
		LastRefill:      b.lastRefill,
		LastAlertTime:   b.lastAlertTime,
		AlertCount:      b.alertCount,
		SuppressedCount: b.suppressedCount,
	}
}

// RateLimiter tracks one token bucket per alert source. Buckets are
// created lazily, refilled lazily on each check, and evicted when idle.
//
// RateLimiter is safe for concurrent use; decisions for a single source
// serialize through that bucket's lock, never a global one.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow decides whether an alert from source may proceed at the given
// time. One token is consumed on allow; a denial increments the bucket's
// suppressed count. The returned state reflects the bucket after the
// decision.
func (rl *RateLimiter) Allow(source string, now time.Time) (bool, BucketState) {
	b := rl.bucketFor(source, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	b.lastAlertTime = now

	if b.available >= 1 {
		b.available--
		b.alertCount++
		return true, b.snapshot(source)
	}
	b.suppressedCount++
	return false, b.snapshot(source)
}

// State returns the bucket snapshot for a source, refreshed to now.
// The second return is false when the source has no bucket.
func (rl *RateLimiter) State(source string, now time.Time) (BucketState, bool) {
	rl.mu.RLock()
	b, ok := rl.buckets[source]
	rl.mu.RUnlock()
	if !ok {
		return BucketState{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.snapshot(source), true
}

// Sweep drops buckets idle longer than EntryTTL. Call it periodically;
// a no-op when eviction is disabled.
func (rl *RateLimiter) Sweep(now time.Time) int {
	if rl.cfg.EntryTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-rl.cfg.EntryTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for source, b := range rl.buckets {
		b.mu.Lock()
		idle := b.lastAlertTime.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(rl.buckets, source)
			evicted++
		}
	}
	return evicted
}

// bucketFor returns the bucket for source, creating it seeded at full
// capacity on first sight.
func (rl *RateLimiter) bucketFor(source string, now time.Time) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[source]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[source]; ok {
		return b
	}
	b = &bucket{
		tokensPerMinute: rl.cfg.TokensPerMinute,
		burstSize:       rl.cfg.BurstSize,
		available:       rl.cfg.BurstSize,
		lastRefill:      now,
		lastAlertTime:   now,
	}
	rl.buckets[source] = b
	return b
}
