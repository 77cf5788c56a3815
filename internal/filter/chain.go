/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package filter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Registration configures one filter's error handling in the chain.
type Registration struct {
	ErrorMode ErrorMode

	// MaxConsecutiveErrors auto-disables the filter once exceeded.
	// Zero means never auto-disable.
	MaxConsecutiveErrors int
}

type entry struct {
	filter Filter
	reg    Registration

	mu                sync.Mutex
	disabled          bool
	consecutiveErrors int

	evaluations   int64
	suppressed    int64
	errorCount    int64
	totalDuration time.Duration
}

// Step records one filter's outcome during a chain evaluation.
type Step struct {
	Filter   string
	Decision Decision
	Err      error
	Duration time.Duration
	Skipped  bool
}

// ChainResult is the outcome of evaluating the whole chain.
type ChainResult struct {
	// Final is Allow or Suppress; Modify and Defer collapse to Allow.
	Final Decision

	// Alert is the possibly modified alert to hand downstream. Only
	// meaningful when Final is Allow.
	Alert alert.Alert

	// SuppressedBy names the filter that suppressed, if any.
	SuppressedBy string

	Steps []Step
}

// Chain evaluates filters in descending priority order, short-circuiting
// on the first Suppress unless configured to collect all results.
// Safe for concurrent use.
type Chain struct {
	log        logr.Logger
	collectAll bool

	mu      sync.RWMutex
	entries []*entry // sorted by descending priority, then name
}

// NewChain creates an empty chain. With collectAll set, a Suppress still
// decides the outcome but later filters run anyway so their metrics
// stay meaningful.
func NewChain(log logr.Logger, collectAll bool) *Chain {
	return &Chain{log: log, collectAll: collectAll}
}

// Add registers a filter.
func (c *Chain) Add(f Filter, reg Registration) error {
	if f.Name() == "" {
		return fmt.Errorf("filter name must not be empty")
	}
	if reg.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("filter %q: max consecutive errors must be >= 0", f.Name())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.filter.Name() == f.Name() {
			return fmt.Errorf("filter %q already registered", f.Name())
		}
	}
	c.entries = append(c.entries, &entry{filter: f, reg: reg})
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].filter.Priority() != c.entries[j].filter.Priority() {
			return c.entries[i].filter.Priority() > c.entries[j].filter.Priority()
		}
		return c.entries[i].filter.Name() < c.entries[j].filter.Name()
	})
	return nil
}

// Enable re-enables a filter that was auto-disabled.
func (c *Chain) Enable(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.filter.Name() == name {
			e.mu.Lock()
			e.disabled = false
			e.consecutiveErrors = 0
			e.mu.Unlock()
			return true
		}
	}
	return false
}

// Evaluate runs the chain over the alert.
func (c *Chain) Evaluate(a alert.Alert) ChainResult {
	c.mu.RLock()
	entries := make([]*entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	out := ChainResult{Final: DecisionAllow, Alert: a}
	decided := false

	for _, e := range entries {
		e.mu.Lock()
		skip := e.disabled
		e.mu.Unlock()
		if skip {
			out.Steps = append(out.Steps, Step{Filter: e.filter.Name(), Skipped: true})
			continue
		}

		start := time.Now()
		res, err := e.filter.Evaluate(out.Alert)
		dur := time.Since(start)

		if err != nil {
			res = c.handleError(e, err)
		}
		e.record(res, err, dur)

		out.Steps = append(out.Steps, Step{
			Filter:   e.filter.Name(),
			Decision: res.Decision,
			Err:      err,
			Duration: dur,
		})

		switch res.Decision {
		case DecisionModify:
			if !decided && res.Alert != nil {
				out.Alert = *res.Alert
			}
		case DecisionSuppress:
			if !decided {
				out.Final = DecisionSuppress
				out.SuppressedBy = e.filter.Name()
				decided = true
			}
			if !c.collectAll {
				return out
			}
		}
	}
	return out
}

// handleError maps a filter error to a decision per its error mode.
func (c *Chain) handleError(e *entry, err error) Result {
	name := e.filter.Name()
	switch e.reg.ErrorMode {
	case AllowOnError:
		c.log.V(1).Info("filter error, allowing", "filter", name, "error", err.Error())
		return Allow()
	case SuppressOnError:
		c.log.V(1).Info("filter error, suppressing", "filter", name, "error", err.Error())
		return Suppress()
	default: // LogAndContinue, DisableOnError
		c.log.Error(err, "filter evaluation failed", "filter", name)
		return Defer()
	}
}

// record updates the entry's metrics and consecutive-error bookkeeping.
func (e *entry) record(res Result, err error, dur time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluations++
	e.totalDuration += dur
	if res.Decision == DecisionSuppress {
		e.suppressed++
	}
	if err != nil {
		e.errorCount++
		e.consecutiveErrors++
		if e.reg.MaxConsecutiveErrors > 0 && e.consecutiveErrors > e.reg.MaxConsecutiveErrors {
			e.disabled = true
		}
	} else {
		e.consecutiveErrors = 0
	}
}

// Metrics is a point-in-time view of one filter's activity.
type Metrics struct {
	Name            string
	Priority        int
	Disabled        bool
	Evaluations     int64
	Suppressed      int64
	Errors          int64
	AverageDuration time.Duration
}

// Stats snapshots metrics for every filter in evaluation order.
func (c *Chain) Stats() []Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Metrics, 0, len(c.entries))
	for _, e := range c.entries {
		e.mu.Lock()
		m := Metrics{
			Name:        e.filter.Name(),
			Priority:    e.filter.Priority(),
			Disabled:    e.disabled,
			Evaluations: e.evaluations,
			Suppressed:  e.suppressed,
			Errors:      e.errorCount,
		}
		if e.evaluations > 0 {
			m.AverageDuration = e.totalDuration / time.Duration(e.evaluations)
		}
		e.mu.Unlock()
		out = append(out, m)
	}
	return out
}
