/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package suppress

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// EscalationFunc optionally escalates severity when duplicates repeat.
// It receives the merged occurrence count and the original severity and
// returns the severity the surviving alert should carry.
type EscalationFunc func(count int, s alert.Severity) alert.Severity

// DuplicateConfig configures the duplicate suppressor.
type DuplicateConfig struct {
	// Window is how long a fingerprint stays live. Duplicates inside the
	// window are merged into the first occurrence and suppressed.
	Window time.Duration

	// Escalate, when non-nil, is consulted on every duplicate so policy
	// can raise severity on repetition. Nil leaves severity alone.
	Escalate EscalationFunc
}

// DefaultDuplicateConfig returns production defaults.
func DefaultDuplicateConfig() DuplicateConfig {
	return DuplicateConfig{Window: time.Minute}
}

type dupEntry struct {
	alertID   string
	firstSeen time.Time
	lastSeen  time.Time
	count     int
	severity  alert.Severity
}

// Verdict is the outcome of a duplicate check. On a duplicate it names
// the surviving first occurrence so callers can fold the merged count
// and possibly escalated severity back into it.
type Verdict struct {
	Duplicate bool

	// Count is the total occurrences merged in the current window,
	// including the alert just checked.
	Count int

	// Severity is the severity the surviving alert should carry after
	// any escalation policy ran.
	Severity alert.Severity

	// SurvivorID is the ID of the first occurrence in the window.
	SurvivorID string
}

// DuplicateSuppressor detects repeated alerts by fingerprint within a
// time window. Safe for concurrent use.
type DuplicateSuppressor struct {
	cfg DuplicateConfig

	mu      sync.Mutex
	entries map[string]*dupEntry
}

// NewDuplicateSuppressor creates a duplicate suppressor.
func NewDuplicateSuppressor(cfg DuplicateConfig) *DuplicateSuppressor {
	return &DuplicateSuppressor{
		cfg:     cfg,
		entries: make(map[string]*dupEntry),
	}
}

// Check reports whether the alert is a duplicate of a live entry. On a
// duplicate the entry's count is incremented and the escalation policy,
// if any, runs against the merged count; the verdict tells the caller
// which surviving alert to update. First occurrences insert a fresh
// entry and come back with Duplicate false.
func (d *DuplicateSuppressor) Check(a alert.Alert, now time.Time) Verdict {
	key := Fingerprint(a)

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if ok && now.Sub(e.firstSeen) <= d.cfg.Window {
		e.count++
		e.lastSeen = now
		if d.cfg.Escalate != nil {
			e.severity = d.cfg.Escalate(e.count, e.severity)
		}
		return Verdict{
			Duplicate:  true,
			Count:      e.count,
			Severity:   e.severity,
			SurvivorID: e.alertID,
		}
	}

	// Expired or unseen: start a new window.
	d.entries[key] = &dupEntry{
		alertID:   a.ID,
		firstSeen: now,
		lastSeen:  now,
		count:     1,
		severity:  a.Severity,
	}
	return Verdict{Count: 1, Severity: a.Severity, SurvivorID: a.ID}
}

// Count returns the live occurrence count for an alert's fingerprint,
// or zero if none.
func (d *DuplicateSuppressor) Count(a alert.Alert, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[Fingerprint(a)]
	if !ok || now.Sub(e.firstSeen) > d.cfg.Window {
		return 0
	}
	return e.count
}

// Sweep evicts entries whose window has elapsed.
func (d *DuplicateSuppressor) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	evicted := 0
	for key, e := range d.entries {
		if now.Sub(e.firstSeen) > d.cfg.Window {
			delete(d.entries, key)
			evicted++
		}
	}
	return evicted
}

// Fingerprint derives the duplicate-detection key from source, tag, and
// the normalized message.
func Fingerprint(a alert.Alert) string {
	msg := strings.Join(strings.Fields(strings.ToLower(a.Message)), " ")
	data := a.Source + "\x00" + a.Tag + "\x00" + msg
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}
