/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package rules

import (
	"strings"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// RuleType classifies what a rule is for. The engine treats most types
// identically; RateLimit rules additionally track occurrences per window.
type RuleType string

const (
	TypeFilter         RuleType = "filter"
	TypeSuppression    RuleType = "suppression"
	TypeRateLimit      RuleType = "ratelimit"
	TypeThreshold      RuleType = "threshold"
	TypeTransformation RuleType = "transformation"
	TypeRouting        RuleType = "routing"
)

// ActionType names a rule action.
type ActionType string

const (
	ActionSuppress       ActionType = "suppress"
	ActionModifySeverity ActionType = "modify_severity"
	ActionAddTag         ActionType = "add_tag"
	ActionRoute          ActionType = "route"
	ActionAddMetadata    ActionType = "add_metadata"
)

// Action is one mutation applied when a rule matches. Actions run in
// list order; Suppress short-circuits the rest.
type Action struct {
	Type     ActionType
	Severity alert.Severity // modify_severity
	Tag      string         // add_tag
	Channel  string         // route
	Key      string         // add_metadata
	Value    string         // add_metadata
}

// Condition compares an alert (or request-context) property against an
// expected value.
//
// Recognized properties: severity, source, tag, message, count,
// meta.<key> on the alert, and ctx.<key> in the request context.
type Condition struct {
	Property string
	Op       Comparator
	Want     Value
}

// Context carries per-request values conditions can reference.
type Context map[string]Value

// Rule is one alert-processing rule: predicates plus ordered actions.
type Rule struct {
	ID      string
	Name    string
	Type    RuleType
	Enabled bool

	// Priority orders evaluation: lower numbers run first.
	Priority int

	// Optional targeting predicates. Zero values match everything;
	// patterns support case-insensitive `*` wildcards.
	Severity       *alert.Severity
	SourcePattern  string
	TagPattern     string
	MessagePattern string

	// Threshold compares the alert's occurrence count.
	Threshold           float64
	ThresholdComparator Comparator

	// RateLimit rules match only once occurrences inside Window exceed
	// MaxOccurrences.
	Window         time.Duration
	MaxOccurrences int

	Conditions []Condition
	Actions    []Action
}

// Statistics counts rule activity. Counters only increase; Reset zeroes
// them explicitly.
type Statistics struct {
	MatchCount   int64
	AppliedCount int64
	LastMatched  time.Time
	LastApplied  time.Time
}

// Matches reports whether every configured predicate holds for the alert
// in the given context. Rate-limit occurrence tracking lives in the
// engine; this covers the static predicates only.
func (r *Rule) Matches(a alert.Alert, rctx Context) bool {
	if r.Severity != nil && a.Severity != *r.Severity {
		return false
	}
	if r.SourcePattern != "" && !MatchPattern(r.SourcePattern, a.Source) {
		return false
	}
	if r.TagPattern != "" && !matchAnyTag(r.TagPattern, a) {
		return false
	}
	if r.MessagePattern != "" && !MatchPattern(r.MessagePattern, a.Message) {
		return false
	}
	if r.ThresholdComparator != "" {
		if !compareOrdered(float64(a.Count), r.ThresholdComparator, r.Threshold) {
			return false
		}
	}
	for _, c := range r.Conditions {
		have, ok := resolveProperty(c.Property, a, rctx)
		if !ok {
			return false
		}
		if !Compare(have, c.Op, c.Want) {
			return false
		}
	}
	return true
}

func matchAnyTag(pattern string, a alert.Alert) bool {
	if MatchPattern(pattern, a.Tag) {
		return true
	}
	for _, t := range a.Tags {
		if MatchPattern(pattern, t) {
			return true
		}
	}
	return false
}

// resolveProperty looks up a condition property on the alert or context.
func resolveProperty(prop string, a alert.Alert, rctx Context) (Value, bool) {
	switch prop {
	case "severity":
		return Sev(a.Severity), true
	case "source":
		return String(a.Source), true
	case "tag":
		return String(a.Tag), true
	case "message":
		return String(a.Message), true
	case "count":
		return Number(float64(a.Count)), true
	}
	if key, ok := strings.CutPrefix(prop, "meta."); ok {
		v, ok := a.Metadata[key]
		if !ok {
			return Value{}, false
		}
		return String(v), true
	}
	if key, ok := strings.CutPrefix(prop, "ctx."); ok {
		v, ok := rctx[key]
		return v, ok
	}
	return Value{}, false
}
