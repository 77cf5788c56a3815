/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package channel defines the uniform output-channel contract and a few
// thin adapters. Real transports (SMTP, platform consoles, files) live
// behind the same interface outside this module.
package channel

import (
	"context"

	"github.com/stackwatch/alertpipe/internal/alert"
)

// Channel is the contract every output backend implements.
type Channel interface {
	// Name identifies the channel for routing, health, and metrics.
	Name() string

	// IsEnabled reports whether the channel should receive deliveries.
	IsEnabled() bool

	// Send delivers one alert. The orchestrator measures duration and
	// applies timeout via ctx.
	Send(ctx context.Context, a alert.Alert) error

	// HealthCheck probes the backend without delivering. A nil error
	// means healthy.
	HealthCheck(ctx context.Context) error
}
