/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package pipeline

import "github.com/stackwatch/alertpipe/internal/alert"

// ring is a fixed-capacity alert history. Not safe for concurrent use;
// callers hold the pipeline lock.
type ring struct {
	buf  []alert.Alert
	head int // next write position
	full bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		return &ring{}
	}
	return &ring{buf: make([]alert.Alert, capacity)}
}

func (r *ring) add(a alert.Alert) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.head] = a
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

// list returns retained alerts oldest first.
func (r *ring) list() []alert.Alert {
	n := r.len()
	out := make([]alert.Alert, 0, n)
	if r.full {
		out = append(out, r.buf[r.head:]...)
	}
	out = append(out, r.buf[:r.head]...)
	return out
}
