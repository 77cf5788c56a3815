/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package deliver

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy controls per-channel send retries.
type RetryPolicy struct {
	// MaxAttempts caps total attempts including the first. Must be >= 1.
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// Multiplier grows the backoff exponentially. Must be >= 1.
	Multiplier float64

	// MaxBackoff caps the delay. Zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Second,
	}
}

// Validate rejects malformed policies.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("retry initial backoff must be >= 0")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("retry max backoff must be >= 0")
	}
	return nil
}

// delay returns the backoff before the attempt after failedAttempt.
func (p RetryPolicy) delay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	exponent := float64(failedAttempt - 1)
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, exponent))
	if d <= 0 {
		d = p.InitialBackoff
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
