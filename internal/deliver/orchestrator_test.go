/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package deliver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/channel"
	"github.com/stackwatch/alertpipe/internal/health"
)

func quickRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, Multiplier: 1}
}

func newOrchestrator(t *testing.T, maxConcurrent int) (*Orchestrator, *health.Monitor) {
	t.Helper()
	mon := health.NewMonitor(logr.Discard(), health.Config{FailureThreshold: 3, Cooldown: 50 * time.Millisecond}, nil)
	return NewOrchestrator(logr.Discard(), mon, nil, maxConcurrent), mon
}

func raise(sev alert.Severity) alert.Alert {
	return alert.New("m", sev, "src", time.Now())
}

func TestDeliverFanOutAggregation(t *testing.T) {
	o, _ := newOrchestrator(t, 4)
	ok1 := channel.NewInMemory("ok1")
	ok2 := channel.NewInMemory("ok2")
	bad := channel.NewInMemory("bad")
	bad.FailAll(true)

	for _, ch := range []*channel.InMemory{ok1, ok2, bad} {
		require.NoError(t, o.AddChannel(Target{Channel: ch, Retry: quickRetry(1)}))
	}

	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	require.NoError(t, err)

	// Aggregation identity: successes + failures == total == len(results).
	assert.Equal(t, 3, res.TotalChannels())
	assert.Equal(t, 3, len(res.Channels))
	assert.Equal(t, res.TotalChannels(), res.SuccessCount()+res.FailureCount())
	assert.Equal(t, 2, res.SuccessCount())
	assert.Equal(t, 1, res.FailureCount())
	assert.False(t, res.AllSuccessful())
	assert.False(t, res.AllFailed())
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	flaky := channel.NewInMemory("flaky")
	flaky.FailNext(2)
	require.NoError(t, o.AddChannel(Target{Channel: flaky, Retry: quickRetry(3)}))

	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)

	cr := res.Channels[0]
	assert.True(t, cr.Success)
	assert.Equal(t, 3, cr.Attempts)
	assert.Equal(t, 3, flaky.SendAttempts())
}

func TestDeliverTerminalFailureReportsAttempts(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	dead := channel.NewInMemory("dead")
	dead.FailAll(true)
	require.NoError(t, o.AddChannel(Target{Channel: dead, Retry: quickRetry(2)}))

	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)

	cr := res.Channels[0]
	assert.False(t, cr.Success)
	assert.Error(t, cr.Err)
	assert.Equal(t, 2, cr.Attempts)
}

func TestBreakerOpensAndSkipsChannel(t *testing.T) {
	o, mon := newOrchestrator(t, 2)
	dead := channel.NewInMemory("dead")
	dead.FailAll(true)
	require.NoError(t, o.AddChannel(Target{Channel: dead, Retry: quickRetry(1)}))

	// Threshold is 3 consecutive terminal failures.
	for i := 0; i < 3; i++ {
		res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
		require.NoError(t, err)
		require.Len(t, res.Channels, 1)
	}
	require.False(t, mon.Allows("dead"))

	// 4th alert: the open channel is not even eligible, no Send happens.
	before := dead.SendAttempts()
	_, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	assert.ErrorIs(t, err, ErrNoEligibleChannels)
	assert.Equal(t, before, dead.SendAttempts())
}

func TestBreakerRecoversThroughHalfOpenTrial(t *testing.T) {
	o, mon := newOrchestrator(t, 2)
	ch := channel.NewInMemory("ch")
	ch.FailAll(true)
	require.NoError(t, o.AddChannel(Target{Channel: ch, Retry: quickRetry(2)}))

	for i := 0; i < 3; i++ {
		o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	}
	require.False(t, mon.Allows("ch"))

	// Channel recovers; wait out the cooldown.
	ch.FailAll(false)
	time.Sleep(60 * time.Millisecond)

	before := ch.SendAttempts()
	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.True(t, res.Channels[0].Success)
	// The half-open trial is exactly one Send, never retried.
	assert.Equal(t, before+1, ch.SendAttempts())
	assert.Equal(t, 1, res.Channels[0].Attempts)

	info, ok := mon.Snapshot("ch")
	require.True(t, ok)
	assert.Equal(t, health.StateClosed, info.State)
}

func TestFailedHalfOpenTrialIsNotRetried(t *testing.T) {
	o, mon := newOrchestrator(t, 2)
	ch := channel.NewInMemory("ch")
	ch.FailAll(true)
	require.NoError(t, o.AddChannel(Target{Channel: ch, Retry: quickRetry(3)}))

	for i := 0; i < 3; i++ {
		o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	}
	require.False(t, mon.Allows("ch"))

	// Channel is still broken when the cooldown elapses: the trial must
	// be a single Send even though the retry policy allows three.
	time.Sleep(60 * time.Millisecond)

	before := ch.SendAttempts()
	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.False(t, res.Channels[0].Success)
	assert.Equal(t, 1, res.Channels[0].Attempts)
	assert.Equal(t, before+1, ch.SendAttempts())

	info, ok := mon.Snapshot("ch")
	require.True(t, ok)
	assert.Equal(t, health.StateOpen, info.State)
}

func TestSubscriptionBySeverity(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	pager := channel.NewInMemory("pager")
	logch := channel.NewInMemory("log")
	require.NoError(t, o.AddChannel(Target{Channel: pager, MinSeverity: alert.SeverityCritical, Retry: quickRetry(1)}))
	require.NoError(t, o.AddChannel(Target{Channel: logch, MinSeverity: alert.SeverityLow, Retry: quickRetry(1)}))

	res, err := o.Deliver(context.Background(), raise(alert.SeverityMedium), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalChannels())
	assert.Equal(t, "log", res.Channels[0].Channel)
}

func TestExplicitTargetsOverrideSubscription(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	a := channel.NewInMemory("a")
	b := channel.NewInMemory("b")
	require.NoError(t, o.AddChannel(Target{Channel: a, Retry: quickRetry(1)}))
	require.NoError(t, o.AddChannel(Target{Channel: b, Retry: quickRetry(1)}))

	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{Targets: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, "b", res.Channels[0].Channel)
}

func TestAlertRoutesRestrictChannels(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	a := channel.NewInMemory("a")
	b := channel.NewInMemory("b")
	require.NoError(t, o.AddChannel(Target{Channel: a, Retry: quickRetry(1)}))
	require.NoError(t, o.AddChannel(Target{Channel: b, Retry: quickRetry(1)}))

	routed := raise(alert.SeverityHigh).AddRoute("a")
	res, err := o.Deliver(context.Background(), routed, Options{})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, "a", res.Channels[0].Channel)
}

func TestFallbackOnly(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	normal := channel.NewInMemory("normal")
	console := channel.NewInMemory("console")
	require.NoError(t, o.AddChannel(Target{Channel: normal, Retry: quickRetry(1)}))
	require.NoError(t, o.AddChannel(Target{Channel: console, Fallback: true, Retry: quickRetry(1)}))

	res, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{FallbackOnly: true})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, "console", res.Channels[0].Channel)
}

func TestDisabledChannelExcluded(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	ch := channel.NewInMemory("ch")
	ch.SetEnabled(false)
	require.NoError(t, o.AddChannel(Target{Channel: ch, Retry: quickRetry(1)}))

	_, err := o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
	assert.ErrorIs(t, err, ErrNoEligibleChannels)
}

func TestDuplicateChannelRejected(t *testing.T) {
	o, _ := newOrchestrator(t, 2)
	require.NoError(t, o.AddChannel(Target{Channel: channel.NewInMemory("ch")}))
	assert.Error(t, o.AddChannel(Target{Channel: channel.NewInMemory("ch")}))
}

// gateChannel blocks inside Send so tests can observe concurrency.
type gateChannel struct {
	name     string
	inFlight atomic.Int32
	max      atomic.Int32
	hold     time.Duration
}

func (g *gateChannel) Name() string    { return g.name }
func (g *gateChannel) IsEnabled() bool { return true }

func (g *gateChannel) Send(ctx context.Context, _ alert.Alert) error {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		prev := g.max.Load()
		if cur <= prev || g.max.CompareAndSwap(prev, cur) {
			break
		}
	}
	select {
	case <-time.After(g.hold):
	case <-ctx.Done():
	}
	return nil
}

func (g *gateChannel) HealthCheck(context.Context) error { return nil }

func TestConcurrencyBoundSharedAcrossDeliveries(t *testing.T) {
	o, _ := newOrchestrator(t, 2)

	var gates []*gateChannel
	for _, name := range []string{"c1", "c2", "c3", "c4"} {
		g := &gateChannel{name: name, hold: 30 * time.Millisecond}
		gates = append(gates, g)
		require.NoError(t, o.AddChannel(Target{Channel: g, Retry: quickRetry(1)}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Deliver(context.Background(), raise(alert.SeverityHigh), Options{})
		}()
	}
	wg.Wait()

	// With a systemwide bound of 2, no channel can ever observe more
	// than 2 sends in flight.
	for _, g := range gates {
		assert.LessOrEqual(t, g.max.Load(), int32(2), "channel %s", g.name)
	}
}

func TestRetryDelayGrowth(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3)) // capped
	assert.Equal(t, 300*time.Millisecond, p.delay(4))
}

func TestRetryPolicyValidation(t *testing.T) {
	assert.Error(t, RetryPolicy{MaxAttempts: 0}.Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 1, Multiplier: 0.5}.Validate())
	assert.NoError(t, DefaultRetryPolicy().Validate())
}
