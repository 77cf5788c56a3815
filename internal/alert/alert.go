/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package alert defines the alert value type and its lifecycle.
//
// Alerts are immutable values: every state transition returns a new copy
// carrying the actor and timestamp of the transition. The pipeline owns an
// alert only while processing it; afterwards it lives in a bounded history
// buffer or is discarded.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity orders alerts from least to most urgent.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityWarning
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a severity name to its value.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", s)
	}
}

// State tracks the alert lifecycle.
type State string

const (
	StateActive       State = "active"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
	StateSuppressed   State = "suppressed"
)

// Alert is a single alert event. Treat it as immutable: transitions and
// rule actions return modified copies.
type Alert struct {
	ID            string            `json:"id"`
	Message       string            `json:"message"`
	Severity      Severity          `json:"severity"`
	Source        string            `json:"source"`
	Tag           string            `json:"tag,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	OperationID   string            `json:"operation_id,omitempty"`
	State         State             `json:"state"`
	CreatedAt     time.Time         `json:"created_at"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	SuppressedAt   *time.Time `json:"suppressed_at,omitempty"`
	SuppressReason string     `json:"suppress_reason,omitempty"`

	// Count is the number of occurrences merged into this alert. It only
	// ever increases.
	Count int `json:"count"`

	// Routes restricts delivery to the named channels. Empty means the
	// orchestrator picks channels by subscription.
	Routes []string `json:"routes,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates an active alert with a fresh ID and count 1.
func New(message string, severity Severity, source string, now time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Source:    source,
		State:     StateActive,
		CreatedAt: now,
		Count:     1,
	}
}

// Acknowledge returns an acknowledged copy. Valid only from Active.
func (a Alert) Acknowledge(by string, at time.Time) (Alert, error) {
	if a.State != StateActive {
		return a, fmt.Errorf("cannot acknowledge alert in state %q", a.State)
	}
	out := a.clone()
	out.State = StateAcknowledged
	out.AcknowledgedAt = &at
	out.AcknowledgedBy = by
	return out, nil
}

// Resolve returns a resolved copy. Valid from Active or Acknowledged;
// resolving an active alert acknowledges it first with the same actor.
func (a Alert) Resolve(by string, at time.Time) (Alert, error) {
	switch a.State {
	case StateActive, StateAcknowledged:
	default:
		return a, fmt.Errorf("cannot resolve alert in state %q", a.State)
	}
	out := a.clone()
	if out.State == StateActive {
		out.AcknowledgedAt = &at
		out.AcknowledgedBy = by
	}
	out.State = StateResolved
	out.ResolvedAt = &at
	out.ResolvedBy = by
	return out, nil
}

// MarkSuppressed returns a suppressed copy. Suppressed is terminal.
func (a Alert) MarkSuppressed(reason string, at time.Time) (Alert, error) {
	switch a.State {
	case StateActive, StateAcknowledged:
	default:
		return a, fmt.Errorf("cannot suppress alert in state %q", a.State)
	}
	out := a.clone()
	out.State = StateSuppressed
	out.SuppressedAt = &at
	out.SuppressReason = reason
	return out, nil
}

// WithSeverity returns a copy with the given severity.
func (a Alert) WithSeverity(s Severity) Alert {
	out := a.clone()
	out.Severity = s
	return out
}

// WithCount returns a copy with the given occurrence count. Counts never
// decrease; lower values are ignored.
func (a Alert) WithCount(n int) Alert {
	if n <= a.Count {
		return a
	}
	out := a.clone()
	out.Count = n
	return out
}

// AddTag returns a copy with tag appended to the extra tag list.
// Duplicates are skipped.
func (a Alert) AddTag(tag string) Alert {
	for _, t := range a.Tags {
		if t == tag {
			return a
		}
	}
	out := a.clone()
	out.Tags = append(out.Tags, tag)
	return out
}

// AddRoute returns a copy with the named channel appended to its routes.
func (a Alert) AddRoute(channel string) Alert {
	for _, r := range a.Routes {
		if r == channel {
			return a
		}
	}
	out := a.clone()
	out.Routes = append(out.Routes, channel)
	return out
}

// SetMetadata returns a copy with the key set in its metadata.
func (a Alert) SetMetadata(key, value string) Alert {
	out := a.clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata[key] = value
	return out
}

// clone deep-copies the alert so returned values never alias the
// original's slices or map.
func (a Alert) clone() Alert {
	out := a
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	if a.Routes != nil {
		out.Routes = append([]string(nil), a.Routes...)
	}
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
