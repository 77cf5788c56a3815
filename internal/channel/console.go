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
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Console writes alerts as single formatted lines to a writer.
type Console struct {
	name    string
	enabled bool

	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console channel writing to w.
func NewConsole(name string, w io.Writer) *Console {
	return &Console{name: name, enabled: true, w: w}
}

func (c *Console) Name() string    { return c.name }
func (c *Console) IsEnabled() bool { return c.enabled }

// SetEnabled toggles the channel.
func (c *Console) SetEnabled(enabled bool) { c.enabled = enabled }

func (c *Console) Send(_ context.Context, a alert.Alert) error {
	line := fmt.Sprintf("%s [%s] %s source=%s", a.CreatedAt.Format(time.RFC3339),
		strings.ToUpper(a.Severity.String()), a.Message, a.Source)
	if a.Tag != "" {
		line += " tag=" + a.Tag
	}
	if a.Count > 1 {
		line += fmt.Sprintf(" count=%d", a.Count)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, line); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

func (c *Console) HealthCheck(context.Context) error { return nil }
