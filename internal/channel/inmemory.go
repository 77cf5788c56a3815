/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// InMemory buffers delivered alerts in memory. It doubles as a fallback
// sink and as a test double: failures can be scripted per send.
type InMemory struct {
	name string

	mu       sync.Mutex
	enabled  bool
	sent     []alert.Alert
	failNext int
	failAll  bool
	sends    int
}

// NewInMemory creates an enabled in-memory channel.
func NewInMemory(name string) *InMemory {
	return &InMemory{name: name, enabled: true}
}

func (m *InMemory) Name() string { return m.name }

func (m *InMemory) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetEnabled toggles the channel.
func (m *InMemory) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// FailNext makes the next n sends fail.
func (m *InMemory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailAll makes every send fail until cleared.
func (m *InMemory) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

func (m *InMemory) Send(_ context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if m.failAll {
		return errors.New("inmemory channel failing")
	}
	if m.failNext > 0 {
		m.failNext--
		return errors.New("inmemory channel scripted failure")
	}
	m.sent = append(m.sent, a)
	return nil
}

func (m *InMemory) HealthCheck(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("inmemory channel failing")
	}
	return nil
}

// Sent returns a copy of all successfully delivered alerts.
func (m *InMemory) Sent() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]alert.Alert(nil), m.sent...)
}

// SendAttempts returns the total number of Send invocations, including
// failed ones.
func (m *InMemory) SendAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}
