/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/stackwatch/alertpipe/internal/channel"
)

var errDown = errors.New("down")

func failing() func() error {
	return func() error { return errDown }
}

func succeeding() func() error {
	return func() error { return nil }
}

func TestBreakerOpensOnThirdConsecutiveFailure(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 3, Cooldown: time.Minute}, nil)
	m.Register("web")

	for i := 0; i < 2; i++ {
		if err := m.Execute("web", failing()); !errors.Is(err, errDown) {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if !m.Allows("web") {
			t.Fatalf("breaker must stay closed after %d failures", i+1)
		}
	}
	if err := m.Execute("web", failing()); !errors.Is(err, errDown) {
		t.Fatalf("third failure: %v", err)
	}
	if m.Allows("web") {
		t.Fatal("breaker must open on the 3rd consecutive failure")
	}

	info, _ := m.Snapshot("web")
	if info.State != StateOpen {
		t.Fatalf("expected open, got %s", info.State)
	}
}

func TestBreakerCounterResetsOnSuccess(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 3, Cooldown: time.Minute}, nil)
	m.Register("web")

	m.Execute("web", failing())
	m.Execute("web", failing())
	m.Execute("web", succeeding()) // resets the consecutive counter
	m.Execute("web", failing())
	m.Execute("web", failing())

	if !m.Allows("web") {
		t.Fatal("2 failures + success + 2 failures must not open the breaker")
	}
}

func TestOpenSkipsWithoutInvoking(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 2, Cooldown: time.Minute}, nil)
	m.Register("web")

	m.Execute("web", failing())
	m.Execute("web", failing())

	invoked := false
	err := m.Execute("web", func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("open breaker must not invoke the function")
	}
}

func TestHalfOpenSingleTrialThenClose(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, nil)
	m.Register("web")

	m.Execute("web", failing())
	m.Execute("web", failing())
	if m.Allows("web") {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)
	if !m.HalfOpen("web") {
		t.Fatal("breaker should be half-open after cooldown")
	}

	// One successful trial closes the circuit.
	if err := m.Execute("web", succeeding()); err != nil {
		t.Fatalf("trial: %v", err)
	}
	info, _ := m.Snapshot("web")
	if info.State != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", info.State)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, nil)
	m.Register("web")

	m.Execute("web", failing())
	m.Execute("web", failing())
	time.Sleep(60 * time.Millisecond)

	if err := m.Execute("web", failing()); !errors.Is(err, errDown) {
		t.Fatalf("trial: %v", err)
	}
	if m.Allows("web") {
		t.Fatal("failed trial must reopen the breaker")
	}
}

func TestHalfOpenOnlyOneTrialInFlight(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 1, Cooldown: 50 * time.Millisecond}, nil)
	m.Register("web")

	m.Execute("web", failing())
	time.Sleep(60 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		m.Execute("web", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Second call while the trial is in flight is rejected.
	err := m.Execute("web", succeeding())
	if !errors.Is(err, ErrTrialInFlight) {
		t.Fatalf("expected ErrTrialInFlight, got %v", err)
	}
	close(release)
}

func TestTransitionCallback(t *testing.T) {
	var transitions []string
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 1, Cooldown: time.Minute},
		func(ch string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		})
	m.Register("web")

	m.Execute("web", failing())
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestSweepFeedsBreaker(t *testing.T) {
	m := NewMonitor(logr.Discard(), Config{FailureThreshold: 2, Cooldown: time.Minute}, nil)
	mem := channel.NewInMemory("mem")
	mem.FailAll(true)
	chans := []channel.Channel{mem}

	m.Sweep(context.Background(), chans)
	m.Sweep(context.Background(), chans)

	if m.Allows("mem") {
		t.Fatal("two failed health checks should open the breaker")
	}

	// Disabled channels are not probed.
	mem2 := channel.NewInMemory("mem2")
	mem2.SetEnabled(false)
	m.Sweep(context.Background(), []channel.Channel{mem2})
	if _, ok := m.Snapshot("mem2"); ok {
		t.Fatal("disabled channel should not be registered by sweep")
	}
}

func TestUnregisteredChannelPassesThrough(t *testing.T) {
	m := NewMonitor(logr.Discard(), DefaultConfig(), nil)
	if !m.Allows("ghost") {
		t.Fatal("unregistered channels are allowed")
	}
	if err := m.Execute("ghost", succeeding()); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
