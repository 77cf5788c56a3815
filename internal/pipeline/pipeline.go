/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package pipeline wires the alert processing stages into one
// concurrently-invokable service: storm guard, duplicate suppression,
// per-source rate limiting, filter chain, rule engine, then fan-out
// delivery with per-channel circuit breaking.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/config"
	"github.com/stackwatch/alertpipe/internal/deliver"
	"github.com/stackwatch/alertpipe/internal/filter"
	"github.com/stackwatch/alertpipe/internal/health"
	"github.com/stackwatch/alertpipe/internal/metrics"
	"github.com/stackwatch/alertpipe/internal/rules"
	"github.com/stackwatch/alertpipe/internal/suppress"
)

// ErrAlertNotFound is returned by Acknowledge and Resolve when the
// alert is not in the active index.
var ErrAlertNotFound = errors.New("alert not found")

// Stage names the pipeline stage that suppressed an alert.
type Stage string

const (
	StageStorm     Stage = "storm"
	StageDuplicate Stage = "duplicate"
	StageRateLimit Stage = "ratelimit"
	StageFilter    Stage = "filter"
	StageRule      Stage = "rule"
)

// Outcome classifies what happened to a raised alert.
type Outcome string

const (
	// OutcomeDelivered means the fan-out ran; per-channel detail is in
	// ProcessResult.Delivery.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSuppressed means a stage dropped the alert before delivery.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeNoChannels means the alert passed every stage but no
	// channel was eligible to receive it.
	OutcomeNoChannels Outcome = "no_channels"
)

// RaiseRequest describes one alert to raise.
type RaiseRequest struct {
	Message       string
	Severity      alert.Severity
	Source        string
	Tag           string
	CorrelationID string
	Metadata      map[string]string

	// RuleContext carries extra values rule conditions can reference
	// via ctx.<key>.
	RuleContext rules.Context
}

// ProcessResult reports how one Raise call ended.
type ProcessResult struct {
	Alert          alert.Alert
	Outcome        Outcome
	Stage          Stage // set when Outcome is OutcomeSuppressed
	Delivery       *deliver.Results
	ProcessingTime time.Duration
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithEscalation installs a severity-escalation policy applied when
// duplicates accumulate.
func WithEscalation(fn suppress.EscalationFunc) Option {
	return func(p *Pipeline) { p.escalate = fn }
}

type counters struct {
	raised          uint64
	delivered       uint64
	suppressed      map[Stage]uint64
	bySeverity      map[alert.Severity]uint64
	sendSuccesses   uint64
	sendFailures    uint64
	emergencyTrips  uint64
	processingTotal time.Duration
	processed       uint64
}

// Pipeline is the alert service. Safe for concurrent use by any number
// of producers.
type Pipeline struct {
	log      logr.Logger
	met      *metrics.Metrics
	now      func() time.Time
	escalate suppress.EscalationFunc

	storm   *rate.Limiter
	dups    *suppress.DuplicateSuppressor
	limiter *suppress.RateLimiter
	filters *filter.Chain
	engine  *rules.Engine
	health  *health.Monitor
	orch    *deliver.Orchestrator

	emergencyAfter int

	mu          sync.Mutex
	stats       counters
	active      map[string]alert.Alert
	history     *ring
	emergency   bool
	consecBlank int // fan-outs in a row where every channel failed
}

// New builds a pipeline from validated configuration. Channels, rules,
// and filters declared in cfg are registered; more can be added with
// AddChannel, AddRule, and AddFilter before traffic starts.
func New(log logr.Logger, cfg config.Config, reg prometheus.Registerer, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	met := metrics.New(reg)
	p := &Pipeline{
		log: log.WithName("pipeline"),
		met: met,
		now: time.Now,
		dups: suppress.NewDuplicateSuppressor(suppress.DuplicateConfig{
			Window: cfg.Limits.DuplicateWindow,
		}),
		limiter: suppress.NewRateLimiter(suppress.RateLimitConfig{
			TokensPerMinute: cfg.Limits.TokensPerMinute,
			BurstSize:       cfg.Limits.BurstSize,
			EntryTTL:        cfg.Limits.BucketTTL,
		}),
		filters:        filter.NewChain(log.WithName("filters"), false),
		engine:         rules.NewEngine(log.WithName("rules")),
		emergencyAfter: cfg.Emergency.ConsecutiveFailures,
		active:         make(map[string]alert.Alert),
		history:        newRing(cfg.History.Size),
		stats: counters{
			suppressed: make(map[Stage]uint64),
			bySeverity: make(map[alert.Severity]uint64),
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.escalate != nil {
		p.dups = suppress.NewDuplicateSuppressor(suppress.DuplicateConfig{
			Window:   cfg.Limits.DuplicateWindow,
			Escalate: p.escalate,
		})
	}

	if cfg.Limits.StormRatePerSecond > 0 {
		burst := cfg.Limits.StormBurst
		if burst < 1 {
			burst = int(cfg.Limits.StormRatePerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		p.storm = rate.NewLimiter(rate.Limit(cfg.Limits.StormRatePerSecond), burst)
	}

	p.health = health.NewMonitor(log.WithName("health"), health.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, func(channel string, from, to health.State) {
		met.BreakerTransitions.WithLabelValues(channel, string(to)).Inc()
	})
	p.orch = deliver.NewOrchestrator(log.WithName("deliver"), p.health, met, cfg.Delivery.MaxConcurrentOperations)

	if err := p.assemble(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// AddChannel registers a delivery target.
func (p *Pipeline) AddChannel(t deliver.Target) error { return p.orch.AddChannel(t) }

// AddFilter registers a filter on the chain.
func (p *Pipeline) AddFilter(f filter.Filter, reg filter.Registration) error {
	return p.filters.Add(f, reg)
}

// AddRule registers a rule with the engine.
func (p *Pipeline) AddRule(r rules.Rule) error { return p.engine.Add(r) }

// Filters exposes the chain for enable/disable management.
func (p *Pipeline) Filters() *filter.Chain { return p.filters }

// Rules exposes the engine for rule management.
func (p *Pipeline) Rules() *rules.Engine { return p.engine }

// Raise runs one alert through the pipeline. It never returns an error
// for suppression or channel failure; those are reported on the result.
func (p *Pipeline) Raise(ctx context.Context, req RaiseRequest) (*ProcessResult, error) {
	start := p.now()

	a := alert.New(req.Message, req.Severity, req.Source, start)
	if req.Tag != "" {
		a.Tag = req.Tag
	}
	a.CorrelationID = req.CorrelationID
	for k, v := range req.Metadata {
		a = a.SetMetadata(k, v)
	}

	p.met.AlertsRaised.WithLabelValues(a.Severity.String()).Inc()
	p.noteRaised(a.Severity)

	if p.storm != nil && !p.storm.AllowN(start, 1) {
		return p.suppress(a, StageStorm, "alert storm guard", start)
	}

	if v := p.dups.Check(a, start); v.Duplicate {
		p.mergeDuplicate(v)
		p.log.V(1).Info("duplicate suppressed",
			"source", a.Source, "tag", a.Tag, "count", v.Count, "severity", v.Severity.String())
		return p.suppress(a, StageDuplicate, "duplicate within window", start)
	}

	if allowed, _ := p.limiter.Allow(a.Source, start); !allowed {
		return p.suppress(a, StageRateLimit, "source rate limited", start)
	}

	chainRes := p.filters.Evaluate(a)
	for _, step := range chainRes.Steps {
		if step.Err != nil {
			p.met.FilterErrors.WithLabelValues(step.Filter).Inc()
		}
	}
	if chainRes.Final == filter.DecisionSuppress {
		return p.suppress(a, StageFilter, "filtered by "+chainRes.SuppressedBy, start)
	}
	a = chainRes.Alert

	a, ok := p.engine.Apply(a, req.RuleContext, start)
	if !ok {
		return p.suppress(a, StageRule, "suppressed by rule", start)
	}

	p.mu.Lock()
	p.active[a.ID] = a
	fallbackOnly := p.emergency
	p.mu.Unlock()

	elapsed := p.now().Sub(start)
	p.met.ProcessingDuration.Observe(elapsed.Seconds())
	p.mu.Lock()
	p.stats.processingTotal += elapsed
	p.stats.processed++
	p.mu.Unlock()

	res, err := p.orch.Deliver(ctx, a, deliver.Options{FallbackOnly: fallbackOnly})
	out := &ProcessResult{Alert: a, Delivery: res, ProcessingTime: elapsed}
	switch {
	case errors.Is(err, deliver.ErrNoEligibleChannels):
		out.Outcome = OutcomeNoChannels
	case err != nil:
		return nil, err
	default:
		out.Outcome = OutcomeDelivered
		p.noteDelivery(res)
	}
	return out, nil
}

// Acknowledge transitions an active alert and returns the new value.
func (p *Pipeline) Acknowledge(id, by string) (alert.Alert, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.active[id]
	if !ok {
		return alert.Alert{}, ErrAlertNotFound
	}
	next, err := a.Acknowledge(by, p.now())
	if err != nil {
		return alert.Alert{}, err
	}
	p.active[id] = next
	return next, nil
}

// Resolve transitions an alert out of the active index into history.
func (p *Pipeline) Resolve(id, by string) (alert.Alert, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.active[id]
	if !ok {
		return alert.Alert{}, ErrAlertNotFound
	}
	next, err := a.Resolve(by, p.now())
	if err != nil {
		return alert.Alert{}, err
	}
	delete(p.active, id)
	p.history.add(next)
	return next, nil
}

// Active returns the alerts currently awaiting acknowledgement or
// resolution.
func (p *Pipeline) Active() []alert.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]alert.Alert, 0, len(p.active))
	for _, a := range p.active {
		out = append(out, a)
	}
	return out
}

// History returns retained resolved and suppressed alerts, oldest
// first.
func (p *Pipeline) History() []alert.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.list()
}

// ChannelHealth returns a health snapshot per registered channel.
func (p *Pipeline) ChannelHealth() []health.Info { return p.health.Snapshots() }

// EmergencyMode reports whether the pipeline is routing fallback-only.
func (p *Pipeline) EmergencyMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emergency
}

// Sweep evicts stale suppression state and probes channel health.
// Intended to run periodically from a scheduler goroutine.
func (p *Pipeline) Sweep(ctx context.Context) {
	now := p.now()
	p.limiter.Sweep(now)
	p.dups.Sweep(now)
	p.health.Sweep(ctx, p.orch.Channels())
}

func (p *Pipeline) suppress(a alert.Alert, stage Stage, reason string, start time.Time) (*ProcessResult, error) {
	sup, err := a.MarkSuppressed(reason, p.now())
	if err != nil {
		sup = a
	}
	p.met.AlertsSuppressed.WithLabelValues(string(stage)).Inc()
	elapsed := p.now().Sub(start)
	p.met.ProcessingDuration.Observe(elapsed.Seconds())

	p.mu.Lock()
	p.stats.suppressed[stage]++
	p.stats.processingTotal += elapsed
	p.stats.processed++
	p.history.add(sup)
	p.mu.Unlock()

	return &ProcessResult{
		Alert:          sup,
		Outcome:        OutcomeSuppressed,
		Stage:          stage,
		ProcessingTime: elapsed,
	}, nil
}

// mergeDuplicate folds a duplicate's merged count and possibly
// escalated severity into the surviving active alert. The survivor may
// already be resolved or may have been suppressed downstream of the
// duplicate check; then there is nothing to update.
func (p *Pipeline) mergeDuplicate(v suppress.Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	survivor, ok := p.active[v.SurvivorID]
	if !ok {
		return
	}
	survivor = survivor.WithCount(v.Count)
	if v.Severity != survivor.Severity {
		survivor = survivor.WithSeverity(v.Severity)
	}
	p.active[v.SurvivorID] = survivor
}

func (p *Pipeline) noteRaised(sev alert.Severity) {
	p.mu.Lock()
	p.stats.raised++
	p.stats.bySeverity[sev]++
	p.mu.Unlock()
}

func (p *Pipeline) noteDelivery(res *deliver.Results) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.delivered++
	p.stats.sendSuccesses += uint64(res.SuccessCount())
	p.stats.sendFailures += uint64(res.FailureCount())

	switch {
	case res.TotalChannels() > 0 && res.AllFailed():
		p.consecBlank++
		if p.emergencyAfter > 0 && p.consecBlank >= p.emergencyAfter && !p.emergency {
			p.emergency = true
			p.stats.emergencyTrips++
			p.met.EmergencyMode.Set(1)
			p.log.Info("emergency mode engaged", "consecutive_failed_fanouts", p.consecBlank)
		}
	case res.SuccessCount() > 0:
		p.consecBlank = 0
		if p.emergency && res.AllSuccessful() {
			p.emergency = false
			p.met.EmergencyMode.Set(0)
			p.log.Info("emergency mode cleared")
		}
	}
}
