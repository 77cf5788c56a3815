/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// ruleState pairs a rule with its mutable bookkeeping.
type ruleState struct {
	rule  Rule
	mu    sync.Mutex
	stats Statistics

	// occurrence timestamps for ratelimit-type rules, pruned per window
	occurrences []time.Time
}

// Engine evaluates rules against alerts in ascending priority order.
// Safe for concurrent use.
type Engine struct {
	log logr.Logger

	mu    sync.RWMutex
	rules []*ruleState // kept sorted by priority, then name
}

// NewEngine creates an empty rule engine.
func NewEngine(log logr.Logger) *Engine {
	return &Engine{log: log}
}

// Add registers a rule. Invalid rules are rejected here, not at
// evaluation time.
func (e *Engine) Add(r Rule) error {
	if err := Validate(r); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.rules {
		if st.rule.ID == r.ID {
			return fmt.Errorf("rule %q already registered", r.ID)
		}
	}
	e.rules = append(e.rules, &ruleState{rule: r})
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].rule.Priority != e.rules[j].rule.Priority {
			return e.rules[i].rule.Priority < e.rules[j].rule.Priority
		}
		return e.rules[i].rule.Name < e.rules[j].rule.Name
	})
	return nil
}

// Remove deletes a rule by ID.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, st := range e.rules {
		if st.rule.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a rule without removing it.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.rules {
		if st.rule.ID == id {
			st.rule.Enabled = enabled
			return true
		}
	}
	return false
}

// Validate rejects malformed rules.
func Validate(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.Priority < 0 {
		return fmt.Errorf("rule %q: priority must be >= 0", r.ID)
	}
	if r.Threshold < 0 {
		return fmt.Errorf("rule %q: threshold must be >= 0", r.ID)
	}
	if r.ThresholdComparator != "" {
		if _, err := ParseComparator(string(r.ThresholdComparator)); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	if r.Type == TypeRateLimit {
		if r.Window <= 0 {
			return fmt.Errorf("rule %q: ratelimit rule needs a positive window", r.ID)
		}
		if r.MaxOccurrences <= 0 {
			return fmt.Errorf("rule %q: ratelimit rule needs max occurrences >= 1", r.ID)
		}
	}
	for i, c := range r.Conditions {
		if c.Property == "" {
			return fmt.Errorf("rule %q: condition %d has no property", r.ID, i)
		}
		if _, err := ParseComparator(string(c.Op)); err != nil {
			return fmt.Errorf("rule %q: condition %d: %w", r.ID, i, err)
		}
	}
	for i, act := range r.Actions {
		switch act.Type {
		case ActionSuppress, ActionModifySeverity:
		case ActionAddTag:
			if act.Tag == "" {
				return fmt.Errorf("rule %q: action %d: add_tag needs a tag", r.ID, i)
			}
		case ActionRoute:
			if act.Channel == "" {
				return fmt.Errorf("rule %q: action %d: route needs a channel", r.ID, i)
			}
		case ActionAddMetadata:
			if act.Key == "" {
				return fmt.Errorf("rule %q: action %d: add_metadata needs a key", r.ID, i)
			}
		default:
			return fmt.Errorf("rule %q: action %d: unknown type %q", r.ID, i, act.Type)
		}
	}
	return nil
}

// Apply runs all enabled rules against the alert in ascending priority
// order. It returns the possibly transformed alert and ok=false when a
// matching rule suppressed it.
func (e *Engine) Apply(a alert.Alert, rctx Context, now time.Time) (alert.Alert, bool) {
	e.mu.RLock()
	states := make([]*ruleState, len(e.rules))
	copy(states, e.rules)
	e.mu.RUnlock()

	current := a
	for _, st := range states {
		if !st.rule.Enabled {
			continue
		}
		if !st.rule.Matches(current, rctx) {
			continue
		}
		if st.rule.Type == TypeRateLimit && !st.recordOccurrence(now) {
			// Under the occurrence cap: the rule stays dormant.
			continue
		}

		st.mu.Lock()
		st.stats.MatchCount++
		st.stats.LastMatched = now
		st.mu.Unlock()

		next, suppressed := applyActions(st.rule.Actions, current)

		st.mu.Lock()
		st.stats.AppliedCount++
		st.stats.LastApplied = now
		st.mu.Unlock()

		if suppressed {
			e.log.V(1).Info("alert suppressed by rule", "rule", st.rule.Name, "alert", current.ID)
			return current, false
		}
		current = next
	}
	return current, true
}

// recordOccurrence tracks one occurrence for a ratelimit rule and
// reports whether the rule should now fire (occurrences beyond the cap
// inside the window).
func (st *ruleState) recordOccurrence(now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := now.Add(-st.rule.Window)
	i := 0
	for i < len(st.occurrences) && st.occurrences[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.occurrences = st.occurrences[i:]
	}
	st.occurrences = append(st.occurrences, now)
	return len(st.occurrences) > st.rule.MaxOccurrences
}

// applyActions runs actions in order. A suppress action stops the list.
func applyActions(actions []Action, a alert.Alert) (alert.Alert, bool) {
	current := a
	for _, act := range actions {
		switch act.Type {
		case ActionSuppress:
			return current, true
		case ActionModifySeverity:
			current = current.WithSeverity(act.Severity)
		case ActionAddTag:
			current = current.AddTag(act.Tag)
		case ActionRoute:
			current = current.AddRoute(act.Channel)
		case ActionAddMetadata:
			current = current.SetMetadata(act.Key, act.Value)
		}
	}
	return current, false
}

// RuleStats is a point-in-time view of one rule's statistics.
type RuleStats struct {
	ID       string
	Name     string
	Priority int
	Enabled  bool
	Stats    Statistics
}

// Stats snapshots statistics for every rule in evaluation order.
func (e *Engine) Stats() []RuleStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleStats, 0, len(e.rules))
	for _, st := range e.rules {
		st.mu.Lock()
		out = append(out, RuleStats{
			ID:       st.rule.ID,
			Name:     st.rule.Name,
			Priority: st.rule.Priority,
			Enabled:  st.rule.Enabled,
			Stats:    st.stats,
		})
		st.mu.Unlock()
	}
	return out
}

// ResetStats zeroes all rule statistics.
func (e *Engine) ResetStats() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, st := range e.rules {
		st.mu.Lock()
		st.stats = Statistics{}
		st.mu.Unlock()
	}
}
