/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

func TestRingWrapAround(t *testing.T) {
	r := newRing(3)
	now := time.Now()
	for i := 0; i < 7; i++ {
		r.add(alert.New(fmt.Sprintf("a%d", i), alert.SeverityLow, "s", now))
	}
	if r.len() != 3 {
		t.Fatalf("len = %d, want 3", r.len())
	}
	got := r.list()
	want := []string{"a4", "a5", "a6"}
	for i, a := range got {
		if a.Message != want[i] {
			t.Fatalf("list[%d] = %q, want %q", i, a.Message, want[i])
		}
	}
}

func TestRingPartial(t *testing.T) {
	r := newRing(5)
	r.add(alert.New("first", alert.SeverityLow, "s", time.Now()))
	r.add(alert.New("second", alert.SeverityLow, "s", time.Now()))
	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}
	got := r.list()
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("unexpected order: %q, %q", got[0].Message, got[1].Message)
	}
}

func TestRingZeroCapacity(t *testing.T) {
	r := newRing(0)
	r.add(alert.New("dropped", alert.SeverityLow, "s", time.Now()))
	if r.len() != 0 || len(r.list()) != 0 {
		t.Fatal("zero-capacity ring retained an alert")
	}
}
