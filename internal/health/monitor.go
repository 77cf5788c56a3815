/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package health tracks per-channel delivery health behind a circuit
// breaker. Live deliveries and the periodic health-check sweep feed the
// same breaker, so a channel that fails either way opens its circuit.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/stackwatch/alertpipe/internal/channel"
)

// State is the breaker state for one channel.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func fromBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ErrOpen is returned when a channel's circuit is open and the call was
// skipped without invoking the channel.
var ErrOpen = errors.New("channel circuit open")

// ErrTrialInFlight is returned when a half-open channel already has its
// single trial in flight.
var ErrTrialInFlight = errors.New("half-open trial already in flight")

// Config configures every channel's breaker.
type Config struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures.
	FailureThreshold uint32

	// Cooldown is how long an open circuit waits before permitting a
	// half-open trial.
	Cooldown time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 30 * time.Second}
}

// Info is a point-in-time health snapshot for one channel.
type Info struct {
	Channel             string
	State               State
	Healthy             bool
	ConsecutiveFailures uint32
	TotalSuccesses      uint32
	TotalFailures       uint32
	LastMessage         string
	LastChecked         time.Time
	LastTransition      time.Time
}

type channelState struct {
	cb *gobreaker.CircuitBreaker

	mu             sync.Mutex
	lastMessage    string
	lastChecked    time.Time
	lastTransition time.Time
}

// Monitor owns one breaker per registered channel. Safe for concurrent
// use: transition decisions are serialized inside each breaker.
type Monitor struct {
	log          logr.Logger
	cfg          Config
	onTransition func(channel string, from, to State)

	mu       sync.RWMutex
	channels map[string]*channelState
}

// NewMonitor creates a monitor. onTransition, when non-nil, observes
// every breaker state change (used for metrics); it must not block.
func NewMonitor(log logr.Logger, cfg Config, onTransition func(channel string, from, to State)) *Monitor {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Monitor{
		log:          log,
		cfg:          cfg,
		onTransition: onTransition,
		channels:     make(map[string]*channelState),
	}
}

// Register creates the breaker for a channel. Registering an existing
// name is a no-op.
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[name]; ok {
		return
	}

	cs := &channelState{}
	threshold := m.cfg.FailureThreshold
	cs.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one half-open trial at a time
		Timeout:     m.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(chName string, from, to gobreaker.State) {
			cs.mu.Lock()
			cs.lastTransition = time.Now()
			cs.mu.Unlock()
			m.log.Info("channel breaker transition",
				"channel", chName, "from", fromBreaker(from), "to", fromBreaker(to))
			if m.onTransition != nil {
				m.onTransition(chName, fromBreaker(from), fromBreaker(to))
			}
		},
	})
	m.channels[name] = cs
}

// Allows reports whether deliveries to the channel may currently be
// attempted (circuit not open). Unregistered channels are allowed.
func (m *Monitor) Allows(name string) bool {
	cs := m.state(name)
	if cs == nil {
		return true
	}
	return cs.cb.State() != gobreaker.StateOpen
}

// Execute runs fn under the channel's breaker. The outcome counts toward
// the breaker: an error from fn is a failure, nil a success. When the
// circuit is open, fn is not invoked and ErrOpen is returned; when a
// half-open trial is already in flight, ErrTrialInFlight is returned.
func (m *Monitor) Execute(name string, fn func() error) error {
	cs := m.state(name)
	if cs == nil {
		return fn()
	}

	_, err := cs.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	cs.mu.Lock()
	cs.lastChecked = time.Now()
	if err != nil {
		cs.lastMessage = err.Error()
	} else {
		cs.lastMessage = "ok"
	}
	cs.mu.Unlock()

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return ErrOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrTrialInFlight
	}
	return err
}

// HalfOpen reports whether the channel's breaker is half-open, meaning
// the next delivery is the single recovery trial.
func (m *Monitor) HalfOpen(name string) bool {
	cs := m.state(name)
	return cs != nil && cs.cb.State() == gobreaker.StateHalfOpen
}

// Snapshot returns the channel's current health info.
func (m *Monitor) Snapshot(name string) (Info, bool) {
	cs := m.state(name)
	if cs == nil {
		return Info{}, false
	}
	return cs.info(name), true
}

// Snapshots returns health info for every registered channel.
func (m *Monitor) Snapshots() []Info {
	m.mu.RLock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(names))
	for _, name := range names {
		if info, ok := m.Snapshot(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// Sweep probes every given channel's HealthCheck through its breaker.
// Disabled channels are skipped. Intended to run on a scheduler
// independent of live traffic.
func (m *Monitor) Sweep(ctx context.Context, channels []channel.Channel) {
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		m.Register(ch.Name())
		err := m.Execute(ch.Name(), func() error {
			return ch.HealthCheck(ctx)
		})
		if err != nil && !errors.Is(err, ErrOpen) && !errors.Is(err, ErrTrialInFlight) {
			m.log.V(1).Info("health check failed", "channel", ch.Name(), "error", err.Error())
		}
	}
}

func (m *Monitor) state(name string) *channelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

func (cs *channelState) info(name string) Info {
	st := cs.cb.State()
	counts := cs.cb.Counts()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return Info{
		Channel:             name,
		State:               fromBreaker(st),
		Healthy:             st == gobreaker.StateClosed && counts.ConsecutiveFailures == 0,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalSuccesses:      counts.TotalSuccesses,
		TotalFailures:       counts.TotalFailures,
		LastMessage:         cs.lastMessage,
		LastChecked:         cs.lastChecked,
		LastTransition:      cs.lastTransition,
	}
}
