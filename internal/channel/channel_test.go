/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

func sampleAlert() alert.Alert {
	a := alert.New("conn failed", alert.SeverityWarning, "db", time.Now())
	a.Tag = "timeout"
	return a.WithCount(3)
}

func TestConsoleFormatsLine(t *testing.T) {
	var sb strings.Builder
	c := NewConsole("console", &sb)

	if err := c.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}
	line := sb.String()
	for _, want := range []string{"[WARNING]", "conn failed", "source=db", "tag=timeout", "count=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestInMemoryScriptedFailures(t *testing.T) {
	m := NewInMemory("mem")
	m.FailNext(2)

	ctx := context.Background()
	if err := m.Send(ctx, sampleAlert()); err == nil {
		t.Fatal("first send should fail")
	}
	if err := m.Send(ctx, sampleAlert()); err == nil {
		t.Fatal("second send should fail")
	}
	if err := m.Send(ctx, sampleAlert()); err != nil {
		t.Fatalf("third send should pass: %v", err)
	}
	if got := len(m.Sent()); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
	if got := m.SendAttempts(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestInMemoryHealthFollowsFailAll(t *testing.T) {
	m := NewInMemory("mem")
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthy channel: %v", err)
	}
	m.FailAll(true)
	if err := m.HealthCheck(context.Background()); err == nil {
		t.Fatal("failing channel should report unhealthy")
	}
}

func TestWebhookSend(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook("hook", srv.URL, map[string]string{"X-Token": "secret"})
	if err := wh.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Severity != "warning" || got.Source != "db" || got.Count != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook("hook", srv.URL, nil)
	if err := wh.Send(context.Background(), sampleAlert()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhookHealthCheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	wh := NewWebhook("hook", srv.URL, nil)
	if err := wh.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthy endpoint: %v", err)
	}
	// 4xx still counts as reachable.
	status = http.StatusMethodNotAllowed
	if err := wh.HealthCheck(context.Background()); err != nil {
		t.Fatalf("4xx should count as healthy: %v", err)
	}
	status = http.StatusInternalServerError
	if err := wh.HealthCheck(context.Background()); err == nil {
		t.Fatal("5xx should count as unhealthy")
	}
}
