/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Webhook posts alerts as JSON to an HTTP endpoint.
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	enabled bool
	client  *http.Client
}

// NewWebhook creates a webhook channel. Headers are optional auth or
// routing headers added to every request.
func NewWebhook(name, url string, headers map[string]string) *Webhook {
	return &Webhook{
		name:    name,
		url:     url,
		headers: headers,
		enabled: true,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string    { return w.name }
func (w *Webhook) IsEnabled() bool { return w.enabled }

// SetEnabled toggles the channel.
func (w *Webhook) SetEnabled(enabled bool) { w.enabled = enabled }

type webhookPayload struct {
	ID            string            `json:"id"`
	Message       string            `json:"message"`
	Severity      string            `json:"severity"`
	Source        string            `json:"source"`
	Tag           string            `json:"tag,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Count         int               `json:"count"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     string            `json:"timestamp"`
}

func (w *Webhook) Send(ctx context.Context, a alert.Alert) error {
	payload := webhookPayload{
		ID:            a.ID,
		Message:       a.Message,
		Severity:      a.Severity.String(),
		Source:        a.Source,
		Tag:           a.Tag,
		Tags:          a.Tags,
		CorrelationID: a.CorrelationID,
		Count:         a.Count,
		Metadata:      a.Metadata,
		Timestamp:     a.CreatedAt.Format(time.RFC3339),
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// HealthCheck issues a HEAD request to the endpoint. Many receivers
// reject HEAD; anything but a 5xx or transport error counts as healthy.
func (w *Webhook) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return fmt.Errorf("webhook health request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook health returned %d", resp.StatusCode)
	}
	return nil
}
