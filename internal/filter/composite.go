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

	"github.com/stackwatch/alertpipe/internal/alert"
)

// LogicOp combines child filter verdicts in a composite filter.
type LogicOp string

const (
	OpAnd LogicOp = "and"
	OpOr  LogicOp = "or"
	OpXor LogicOp = "xor"
	OpNot LogicOp = "not"
)

// Composite combines child filters with a logical operator. Children
// vote: Allow and Modify count as pass, Suppress as fail, Defer as an
// abstention. If every child abstains the composite defers.
//
// Modifications from passing children propagate in child order when the
// composite as a whole allows.
type Composite struct {
	name     string
	priority int
	op       LogicOp
	children []Filter
}

// NewComposite builds a composite filter. Not requires exactly one
// child; the other operators at least one.
func NewComposite(name string, priority int, op LogicOp, children ...Filter) (*Composite, error) {
	switch op {
	case OpAnd, OpOr, OpXor:
		if len(children) == 0 {
			return nil, fmt.Errorf("composite %q: %s needs at least one child", name, op)
		}
	case OpNot:
		if len(children) != 1 {
			return nil, fmt.Errorf("composite %q: not takes exactly one child", name)
		}
	default:
		return nil, fmt.Errorf("composite %q: unknown operator %q", name, op)
	}
	return &Composite{name: name, priority: priority, op: op, children: children}, nil
}

func (c *Composite) Name() string  { return c.name }
func (c *Composite) Priority() int { return c.priority }

func (c *Composite) Evaluate(a alert.Alert) (Result, error) {
	current := a
	passes := 0
	votes := 0
	modified := false
	for _, child := range c.children {
		res, err := child.Evaluate(current)
		if err != nil {
			return Defer(), fmt.Errorf("composite %q: child %q: %w", c.name, child.Name(), err)
		}
		switch res.Decision {
		case DecisionDefer:
			continue
		case DecisionAllow:
			votes++
			passes++
		case DecisionModify:
			votes++
			passes++
			if res.Alert != nil {
				current = *res.Alert
				modified = true
			}
		case DecisionSuppress:
			votes++
		}
	}
	if votes == 0 {
		return Defer(), nil
	}

	var pass bool
	switch c.op {
	case OpAnd:
		pass = passes == votes
	case OpOr:
		pass = passes > 0
	case OpXor:
		pass = passes == 1
	case OpNot:
		pass = passes == 0
	}
	if !pass {
		return Suppress(), nil
	}
	if modified {
		return Modify(current), nil
	}
	return Allow(), nil
}
