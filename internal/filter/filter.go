/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package filter implements the ordered, short-circuiting filter chain
// that runs between source-scoped suppression and the rule engine.
package filter

import (
	"fmt"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Decision is a filter's verdict for one alert.
type Decision int

const (
	// DecisionDefer expresses no opinion; evaluation continues.
	DecisionDefer Decision = iota
	// DecisionAllow lets the alert through this filter.
	DecisionAllow
	// DecisionSuppress drops the alert and short-circuits the chain.
	DecisionSuppress
	// DecisionModify replaces the in-flight alert for subsequent filters.
	DecisionModify
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionDefer:
		return "defer"
	case DecisionAllow:
		return "allow"
	case DecisionSuppress:
		return "suppress"
	case DecisionModify:
		return "modify"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Result carries a decision and, for Modify, the replacement alert.
type Result struct {
	Decision Decision
	Alert    *alert.Alert
}

// Allow is the no-op allow result.
func Allow() Result { return Result{Decision: DecisionAllow} }

// Suppress drops the alert.
func Suppress() Result { return Result{Decision: DecisionSuppress} }

// Defer expresses no opinion.
func Defer() Result { return Result{Decision: DecisionDefer} }

// Modify replaces the in-flight alert.
func Modify(a alert.Alert) Result { return Result{Decision: DecisionModify, Alert: &a} }

// Filter evaluates one alert. Implementations must be safe for
// concurrent use; the chain may evaluate them from many goroutines.
type Filter interface {
	Name() string
	Priority() int
	Evaluate(a alert.Alert) (Result, error)
}

// ErrorMode selects how the chain treats a filter that returns an error.
type ErrorMode int

const (
	// LogAndContinue records the error and treats the filter as deferring.
	LogAndContinue ErrorMode = iota
	// AllowOnError treats an erroring filter as allowing.
	AllowOnError
	// SuppressOnError treats an erroring filter as suppressing.
	SuppressOnError
	// DisableOnError behaves like LogAndContinue but is the conventional
	// mode to pair with MaxConsecutiveErrors auto-disable.
	DisableOnError
)

// String returns the mode name.
func (m ErrorMode) String() string {
	switch m {
	case LogAndContinue:
		return "log_and_continue"
	case AllowOnError:
		return "allow_on_error"
	case SuppressOnError:
		return "suppress_on_error"
	case DisableOnError:
		return "disable_on_error"
	default:
		return fmt.Sprintf("error_mode(%d)", int(m))
	}
}

// Func adapts a plain function into a Filter.
type Func struct {
	name     string
	priority int
	fn       func(alert.Alert) (Result, error)
}

// NewFunc wraps fn as a named filter with the given priority.
func NewFunc(name string, priority int, fn func(alert.Alert) (Result, error)) *Func {
	return &Func{name: name, priority: priority, fn: fn}
}

func (f *Func) Name() string  { return f.name }
func (f *Func) Priority() int { return f.priority }

func (f *Func) Evaluate(a alert.Alert) (Result, error) { return f.fn(a) }
