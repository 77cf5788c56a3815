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
	"hash/fnv"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/rules"
)

// NewSeverityFloor suppresses alerts below min.
func NewSeverityFloor(name string, priority int, min alert.Severity) *Func {
	return NewFunc(name, priority, func(a alert.Alert) (Result, error) {
		if a.Severity < min {
			return Suppress(), nil
		}
		return Allow(), nil
	})
}

// NewSourceAllow suppresses alerts whose source does not match the
// wildcard pattern. Matching is case-insensitive; `*` matches any run
// of characters.
func NewSourceAllow(name string, priority int, pattern string) *Func {
	return NewFunc(name, priority, func(a alert.Alert) (Result, error) {
		if pattern == "" || rules.MatchPattern(pattern, a.Source) {
			return Allow(), nil
		}
		return Suppress(), nil
	})
}

// NewSample passes a deterministic fraction of alerts through, keyed on
// the alert fingerprint fields so repeated occurrences of one alert are
// sampled consistently. Rate must be in [0,1].
func NewSample(name string, priority int, rate float64) (*Func, error) {
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("sample rate %v outside [0,1]", rate)
	}
	return NewFunc(name, priority, func(a alert.Alert) (Result, error) {
		if rate >= 1 {
			return Allow(), nil
		}
		h := fnv.New32a()
		h.Write([]byte(a.Source))
		h.Write([]byte{0})
		h.Write([]byte(a.Tag))
		h.Write([]byte{0})
		h.Write([]byte(a.Message))
		if float64(h.Sum32())/float64(^uint32(0)) < rate {
			return Allow(), nil
		}
		return Suppress(), nil
	}), nil
}
