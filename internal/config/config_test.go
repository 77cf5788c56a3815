/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alertpipe.yaml")
	doc := `
limits:
  tokens_per_minute: 120
  burst_size: 5
  duplicate_window: 30s
breaker:
  failure_threshold: 2
  cooldown: 10s
channels:
  - name: ops-console
    type: console
    enabled: true
  - name: pager
    type: webhook
    enabled: true
    url: https://hooks.example.com/pager
    min_severity: high
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.TokensPerMinute != 120 {
		t.Fatalf("tokens_per_minute = %v, want 120", cfg.Limits.TokensPerMinute)
	}
	if cfg.Limits.DuplicateWindow != 30*time.Second {
		t.Fatalf("duplicate_window = %v, want 30s", cfg.Limits.DuplicateWindow)
	}
	if cfg.Breaker.FailureThreshold != 2 {
		t.Fatalf("failure_threshold = %d, want 2", cfg.Breaker.FailureThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Delivery.MaxConcurrentOperations != 8 {
		t.Fatalf("max_concurrent_operations = %d, want default 8", cfg.Delivery.MaxConcurrentOperations)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(cfg.Channels))
	}
	if cfg.Channels[1].MinSeverity != "high" {
		t.Fatalf("pager min_severity = %q", cfg.Channels[1].MinSeverity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative rate", func(c *Config) { c.Limits.TokensPerMinute = -1 }},
		{"zero burst", func(c *Config) { c.Limits.BurstSize = 0 }},
		{"zero window", func(c *Config) { c.Limits.DuplicateWindow = 0 }},
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"zero cooldown", func(c *Config) { c.Breaker.Cooldown = 0 }},
		{"zero concurrency", func(c *Config) { c.Delivery.MaxConcurrentOperations = 0 }},
		{"zero retries", func(c *Config) { c.Delivery.MaxRetries = 0 }},
		{"negative history", func(c *Config) { c.History.Size = -1 }},
		{"unnamed channel", func(c *Config) {
			c.Channels = []ChannelConfig{{Type: "console"}}
		}},
		{"duplicate channel", func(c *Config) {
			c.Channels = []ChannelConfig{
				{Name: "a", Type: "console"},
				{Name: "a", Type: "console"},
			}
		}},
		{"webhook without url", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "w", Type: "webhook"}}
		}},
		{"unknown channel type", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "x", Type: "carrier-pigeon"}}
		}},
		{"sample rate out of range", func(c *Config) {
			c.Filters = []FilterConfig{{Name: "s", Type: "sample", SampleRate: 1.5}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error %v is not ErrInvalidConfig", err)
			}
		})
	}
}
