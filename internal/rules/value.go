/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package rules implements the rule engine: condition matching against
// alerts and ordered action application.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Kind discriminates Value variants.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindSeverity
)

// Value is a tagged variant used for rule parameters and condition
// operands. It keeps rule evaluation type-safe while staying
// configurable from plain data.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	sev  alert.Severity
}

// String constructs a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number constructs a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Sev constructs a severity value.
func Sev(s alert.Severity) Value { return Value{kind: KindSeverity, sev: s} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Text renders the value for logs and error messages.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindSeverity:
		return v.sev.String()
	default:
		return fmt.Sprintf("value(kind=%d)", int(v.kind))
	}
}

// Comparator names a comparison between a property and an expected value.
type Comparator string

const (
	OpEqual          Comparator = "eq"
	OpNotEqual       Comparator = "ne"
	OpGreater        Comparator = "gt"
	OpGreaterOrEqual Comparator = "gte"
	OpLess           Comparator = "lt"
	OpLessOrEqual    Comparator = "lte"
	OpContains       Comparator = "contains"
	OpMatches        Comparator = "matches" // wildcard pattern, see MatchPattern
)

// ParseComparator validates a comparator name.
func ParseComparator(s string) (Comparator, error) {
	switch Comparator(s) {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpContains, OpMatches:
		return Comparator(s), nil
	}
	return "", fmt.Errorf("unknown comparator %q", s)
}

// Compare evaluates `have op want`. Mismatched kinds compare false except
// ne, which compares true.
func Compare(have Value, op Comparator, want Value) bool {
	if have.kind != want.kind {
		return op == OpNotEqual
	}
	switch have.kind {
	case KindNumber:
		return compareOrdered(have.num, op, want.num)
	case KindSeverity:
		return compareOrdered(float64(have.sev), op, float64(want.sev))
	case KindBool:
		switch op {
		case OpEqual:
			return have.b == want.b
		case OpNotEqual:
			return have.b != want.b
		}
		return false
	case KindString:
		h, w := strings.ToLower(have.str), strings.ToLower(want.str)
		switch op {
		case OpEqual:
			return h == w
		case OpNotEqual:
			return h != w
		case OpContains:
			return strings.Contains(h, w)
		case OpMatches:
			return MatchPattern(want.str, have.str)
		}
		return false
	}
	return false
}

func compareOrdered(have float64, op Comparator, want float64) bool {
	switch op {
	case OpEqual:
		return have == want
	case OpNotEqual:
		return have != want
	case OpGreater:
		return have > want
	case OpGreaterOrEqual:
		return have >= want
	case OpLess:
		return have < want
	case OpLessOrEqual:
		return have <= want
	}
	return false
}

// MatchPattern reports whether s matches a case-insensitive wildcard
// pattern where `*` spans any run of characters. A pattern without
// wildcards is an exact (case-insensitive) match.
func MatchPattern(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	p := strings.ToLower(pattern)
	t := strings.ToLower(s)
	if !strings.Contains(p, "*") {
		return p == t
	}

	parts := strings.Split(p, "*")
	// Anchored prefix.
	if parts[0] != "" {
		if !strings.HasPrefix(t, parts[0]) {
			return false
		}
		t = t[len(parts[0]):]
	}
	// Anchored suffix.
	last := parts[len(parts)-1]
	if last != "" {
		if !strings.HasSuffix(t, last) {
			return false
		}
		t = t[:len(t)-len(last)]
	}
	// Interior segments must appear in order.
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(t, part)
		if idx < 0 {
			return false
		}
		t = t[idx+len(part):]
	}
	return true
}
