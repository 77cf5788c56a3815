/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package deliver fans alerts out to output channels. Each channel gets
// its own timeout, retry policy, and circuit breaker; the fan-out as a
// whole is bounded by a semaphore shared across all Deliver calls.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/channel"
	"github.com/stackwatch/alertpipe/internal/health"
	"github.com/stackwatch/alertpipe/internal/metrics"
)

// Target binds a channel into the orchestrator with its delivery
// parameters.
type Target struct {
	Channel channel.Channel

	// Fallback marks the channel as part of the minimal emergency path.
	Fallback bool

	// MinSeverity is the subscription floor: without explicit routing,
	// the channel receives alerts at or above this severity.
	MinSeverity alert.Severity

	// Timeout bounds each send attempt.
	Timeout time.Duration

	Retry RetryPolicy
}

// Options tunes one Deliver call.
type Options struct {
	// Targets, when non-empty, restricts the fan-out to the named
	// channels regardless of subscriptions.
	Targets []string

	// FallbackOnly restricts the fan-out to fallback channels
	// (emergency mode).
	FallbackOnly bool
}

// Orchestrator dispatches alerts to channels concurrently. Safe for
// concurrent use; total in-flight channel sends across all Deliver
// calls never exceed the configured bound.
type Orchestrator struct {
	log    logr.Logger
	health *health.Monitor
	met    *metrics.Metrics
	sem    chan struct{}

	mu      sync.RWMutex
	targets []Target
}

// NewOrchestrator creates an orchestrator. maxConcurrent bounds
// in-flight channel sends system-wide; met may be nil.
func NewOrchestrator(log logr.Logger, mon *health.Monitor, met *metrics.Metrics, maxConcurrent int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 8
	}
	return &Orchestrator{
		log:    log,
		health: mon,
		met:    met,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// AddChannel registers a delivery target. Invalid targets are rejected
// here, not at delivery time.
func (o *Orchestrator) AddChannel(t Target) error {
	if t.Channel == nil {
		return fmt.Errorf("target channel must not be nil")
	}
	if t.Channel.Name() == "" {
		return fmt.Errorf("channel name must not be empty")
	}
	if t.Timeout <= 0 {
		t.Timeout = 5 * time.Second
	}
	if t.Retry.MaxAttempts == 0 {
		t.Retry = DefaultRetryPolicy()
	}
	if err := t.Retry.Validate(); err != nil {
		return fmt.Errorf("channel %q: %w", t.Channel.Name(), err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.targets {
		if existing.Channel.Name() == t.Channel.Name() {
			return fmt.Errorf("channel %q already registered", t.Channel.Name())
		}
	}
	o.targets = append(o.targets, t)
	o.health.Register(t.Channel.Name())
	return nil
}

// Channels returns the registered channels, for health sweeps.
func (o *Orchestrator) Channels() []channel.Channel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]channel.Channel, 0, len(o.targets))
	for _, t := range o.targets {
		out = append(out, t.Channel)
	}
	return out
}

// Deliver fans the alert out to every eligible channel and blocks until
// all attempts complete. Individual channel failures live in the
// results, never in the returned error; the only error is
// ErrNoEligibleChannels.
func (o *Orchestrator) Deliver(ctx context.Context, a alert.Alert, opts Options) (*Results, error) {
	eligible := o.eligible(a, opts)
	res := &Results{AlertID: a.ID, StartedAt: time.Now()}
	if len(eligible) == 0 {
		res.CompletedAt = res.StartedAt
		return res, ErrNoEligibleChannels
	}

	outcomes := make([]*ChannelResult, len(eligible))
	var g errgroup.Group
	for i, t := range eligible {
		i, t := i, t
		g.Go(func() error {
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = &ChannelResult{
					Channel: t.Channel.Name(),
					Err:     ctx.Err(),
				}
				return nil
			}
			defer func() { <-o.sem }()

			if cr, ok := o.deliverOne(ctx, t, a); ok {
				outcomes[i] = &cr
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, cr := range outcomes {
		if cr == nil {
			continue // skipped by a breaker race, not part of the fan-out
		}
		res.Channels = append(res.Channels, *cr)
		if o.met != nil {
			o.met.ObserveDelivery(cr.Channel, cr.Success, cr.Duration)
		}
	}
	res.CompletedAt = time.Now()

	if len(res.Channels) == 0 {
		return res, ErrNoEligibleChannels
	}
	return res, nil
}

// deliverOne runs the retry loop for a single channel under its
// breaker. ok is false when the breaker skipped the channel entirely.
func (o *Orchestrator) deliverOne(ctx context.Context, t Target, a alert.Alert) (ChannelResult, bool) {
	name := t.Channel.Name()

	var attempts int
	start := time.Now()
	err := o.health.Execute(name, func() error {
		// The breaker has admitted us by now, so its state is settled:
		// a half-open trial is a single probe, never retried. Deciding
		// earlier would race an Open→HalfOpen transition and let the
		// one permitted trial run the whole retry loop.
		maxAttempts := t.Retry.MaxAttempts
		if o.health.HalfOpen(name) {
			maxAttempts = 1
		}

		var last error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			attempts = attempt
			actx, cancel := context.WithTimeout(ctx, t.Timeout)
			last = t.Channel.Send(actx, a)
			cancel()
			if last == nil {
				return nil
			}
			o.log.V(1).Info("delivery attempt failed",
				"channel", name, "attempt", attempt, "error", last.Error())
			if attempt < maxAttempts {
				select {
				case <-time.After(t.Retry.delay(attempt)):
				case <-ctx.Done():
					return last
				}
			}
		}
		return last
	})
	dur := time.Since(start)

	if errors.Is(err, health.ErrOpen) || errors.Is(err, health.ErrTrialInFlight) {
		return ChannelResult{}, false
	}
	return ChannelResult{
		Channel:  name,
		Success:  err == nil,
		Duration: dur,
		Err:      err,
		Attempts: attempts,
	}, true
}

// eligible selects the channels that should receive the alert.
func (o *Orchestrator) eligible(a alert.Alert, opts Options) []Target {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []Target
	for _, t := range o.targets {
		name := t.Channel.Name()
		if !t.Channel.IsEnabled() {
			continue
		}
		if opts.FallbackOnly && !t.Fallback {
			continue
		}
		if !o.health.Allows(name) {
			continue
		}
		switch {
		case len(opts.Targets) > 0:
			if !containsName(opts.Targets, name) {
				continue
			}
		case len(a.Routes) > 0:
			if !containsName(a.Routes, name) {
				continue
			}
		default:
			if a.Severity < t.MinSeverity {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
