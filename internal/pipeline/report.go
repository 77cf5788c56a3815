/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package pipeline

import (
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/health"
)

// Statistics is a point-in-time snapshot of pipeline activity since
// start.
type Statistics struct {
	TotalRaised     uint64
	TotalDelivered  uint64
	TotalSuppressed uint64

	// SuppressedByStage breaks TotalSuppressed down per stage.
	SuppressedByStage map[Stage]uint64

	// BySeverity counts raised alerts per severity.
	BySeverity map[alert.Severity]uint64

	// SendSuccesses and SendFailures count individual channel sends,
	// so one fan-out may add several of each.
	SendSuccesses uint64
	SendFailures  uint64

	ActiveAlerts         int
	HistorySize          int
	EmergencyActivations uint64
	EmergencyMode        bool

	// AverageProcessing is mean upstream latency per alert, excluding
	// channel I/O.
	AverageProcessing time.Duration
}

// Statistics returns current pipeline counters.
func (p *Pipeline) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Statistics{
		TotalRaised:          p.stats.raised,
		TotalDelivered:       p.stats.delivered,
		SuppressedByStage:    make(map[Stage]uint64, len(p.stats.suppressed)),
		BySeverity:           make(map[alert.Severity]uint64, len(p.stats.bySeverity)),
		SendSuccesses:        p.stats.sendSuccesses,
		SendFailures:         p.stats.sendFailures,
		ActiveAlerts:         len(p.active),
		HistorySize:          p.history.len(),
		EmergencyActivations: p.stats.emergencyTrips,
		EmergencyMode:        p.emergency,
	}
	for stage, n := range p.stats.suppressed {
		s.SuppressedByStage[stage] = n
		s.TotalSuppressed += n
	}
	for sev, n := range p.stats.bySeverity {
		s.BySeverity[sev] = n
	}
	if p.stats.processed > 0 {
		s.AverageProcessing = p.stats.processingTotal / time.Duration(p.stats.processed)
	}
	return s
}

// HealthReport aggregates pipeline health into a 0–100 score.
type HealthReport struct {
	Score       int
	GeneratedAt time.Time

	EmergencyMode       bool
	DeliveryFailureRate float64 // failed sends / total sends
	FilterErrorRate     float64 // filter errors / filter evaluations
	SuppressionRate     float64 // suppressed / raised
	AverageProcessing   time.Duration
	OpenChannels        int
	TotalChannels       int

	Channels []health.Info
}

// latencyBudget is the upstream processing time treated as fully
// healthy; the latency penalty scales past it.
const latencyBudget = time.Millisecond

// HealthReport computes the aggregate health score. 100 means every
// channel is closed, deliveries succeed, and filters run clean.
//
// Penalty weights: delivery failures 40, open breakers 25, filter
// errors 15, latency 10, emergency mode 10.
func (p *Pipeline) HealthReport() HealthReport {
	stats := p.Statistics()
	channels := p.health.Snapshots()

	r := HealthReport{
		GeneratedAt:       p.now(),
		EmergencyMode:     stats.EmergencyMode,
		AverageProcessing: stats.AverageProcessing,
		TotalChannels:     len(channels),
		Channels:          channels,
	}

	if total := stats.SendSuccesses + stats.SendFailures; total > 0 {
		r.DeliveryFailureRate = float64(stats.SendFailures) / float64(total)
	}
	if stats.TotalRaised > 0 {
		r.SuppressionRate = float64(stats.TotalSuppressed) / float64(stats.TotalRaised)
	}
	var evals, errs int64
	for _, fm := range p.filters.Stats() {
		evals += fm.Evaluations
		errs += fm.Errors
	}
	if evals > 0 {
		r.FilterErrorRate = float64(errs) / float64(evals)
	}
	for _, ch := range channels {
		if ch.State == health.StateOpen {
			r.OpenChannels++
		}
	}

	score := 100.0
	score -= 40 * r.DeliveryFailureRate
	if r.TotalChannels > 0 {
		score -= 25 * float64(r.OpenChannels) / float64(r.TotalChannels)
	}
	score -= 15 * r.FilterErrorRate
	if over := r.AverageProcessing - latencyBudget; over > 0 {
		penalty := float64(over) / float64(10*latencyBudget) * 10
		if penalty > 10 {
			penalty = 10
		}
		score -= penalty
	}
	if r.EmergencyMode {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	r.Score = int(score + 0.5)
	return r
}
