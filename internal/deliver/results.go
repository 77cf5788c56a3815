/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package deliver

import (
	"errors"
	"time"
)

// ErrNoEligibleChannels reports a fan-out that found nothing to deliver
// to. Zero-channel delivery is a distinct condition, not a silent
// success.
var ErrNoEligibleChannels = errors.New("no eligible channels")

// ChannelResult is the terminal outcome for one channel.
type ChannelResult struct {
	Channel  string
	Success  bool
	Duration time.Duration
	Err      error
	Attempts int
}

// Results aggregates one alert's fan-out. The derived totals always
// equal the sums over Channels.
type Results struct {
	AlertID     string
	StartedAt   time.Time
	CompletedAt time.Time
	Channels    []ChannelResult
}

// SuccessCount returns the number of channels that accepted the alert.
func (r *Results) SuccessCount() int {
	n := 0
	for _, c := range r.Channels {
		if c.Success {
			n++
		}
	}
	return n
}

// FailureCount returns the number of channels that terminally failed.
func (r *Results) FailureCount() int {
	return len(r.Channels) - r.SuccessCount()
}

// TotalChannels returns how many channels took part in the fan-out.
func (r *Results) TotalChannels() int { return len(r.Channels) }

// TotalTime sums per-channel delivery durations.
func (r *Results) TotalTime() time.Duration {
	var t time.Duration
	for _, c := range r.Channels {
		t += c.Duration
	}
	return t
}

// AllSuccessful reports whether every channel succeeded. False for a
// zero-channel fan-out.
func (r *Results) AllSuccessful() bool {
	return len(r.Channels) > 0 && r.FailureCount() == 0
}

// AllFailed reports whether every channel failed. False for a
// zero-channel fan-out.
func (r *Results) AllFailed() bool {
	return len(r.Channels) > 0 && r.SuccessCount() == 0
}
