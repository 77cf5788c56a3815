/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the alert pipeline.
//
// Metrics are registered against an injected Registerer rather than the
// package-global default, so embedding applications control exposure.
//
// Metric naming follows Prometheus conventions:
//   - alertpipe_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every pipeline metric.
type Metrics struct {
	// AlertsRaised counts alerts entering the pipeline by severity.
	AlertsRaised *prometheus.CounterVec

	// AlertsSuppressed counts suppressed alerts by pipeline stage
	// (duplicate, ratelimit, filter, rule).
	AlertsSuppressed *prometheus.CounterVec

	// Deliveries counts per-channel delivery outcomes.
	Deliveries *prometheus.CounterVec

	// DeliveryDuration is a histogram of per-channel delivery latency.
	DeliveryDuration *prometheus.HistogramVec

	// ProcessingDuration is a histogram of end-to-end pipeline latency
	// excluding channel I/O wait.
	ProcessingDuration prometheus.Histogram

	// BreakerTransitions counts circuit-breaker state changes.
	BreakerTransitions *prometheus.CounterVec

	// FilterErrors counts filter evaluation errors by filter name.
	FilterErrors *prometheus.CounterVec

	// EmergencyMode reports whether the pipeline is in emergency mode.
	EmergencyMode prometheus.Gauge
}

// New creates and registers the metric set. Pass
// prometheus.DefaultRegisterer to expose on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertpipe_alerts_raised_total",
				Help: "Total alerts raised into the pipeline by severity.",
			},
			[]string{"severity"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertpipe_alerts_suppressed_total",
				Help: "Total alerts suppressed, by pipeline stage.",
			},
			[]string{"stage"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertpipe_deliveries_total",
				Help: "Total channel delivery outcomes by channel and status.",
			},
			[]string{"channel", "status"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertpipe_delivery_duration_seconds",
				Help:    "Per-channel delivery duration in seconds.",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel"},
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alertpipe_processing_duration_seconds",
				Help:    "Pipeline processing duration in seconds, excluding delivery I/O.",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertpipe_breaker_transitions_total",
				Help: "Circuit breaker state transitions by channel and target state.",
			},
			[]string{"channel", "to"},
		),
		FilterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertpipe_filter_errors_total",
				Help: "Filter evaluation errors by filter.",
			},
			[]string{"filter"},
		),
		EmergencyMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alertpipe_emergency_mode",
				Help: "1 while the pipeline is in emergency fallback mode.",
			},
		),
	}

	reg.MustRegister(
		m.AlertsRaised,
		m.AlertsSuppressed,
		m.Deliveries,
		m.DeliveryDuration,
		m.ProcessingDuration,
		m.BreakerTransitions,
		m.FilterErrors,
		m.EmergencyMode,
	)
	return m
}

// ObserveDelivery records one channel delivery outcome.
func (m *Metrics) ObserveDelivery(channel string, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.Deliveries.WithLabelValues(channel, status).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(d.Seconds())
}
