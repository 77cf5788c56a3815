/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config provides configuration records for the alert pipeline.
// Records are plain data: how they were produced (file, code, remote
// config) is the caller's concern. Loading from YAML is provided for
// the daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure so callers can test
// for the class with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root pipeline configuration.
type Config struct {
	Limits    LimitsConfig    `yaml:"limits"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	History   HistoryConfig   `yaml:"history"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Channels  []ChannelConfig `yaml:"channels"`
	Rules     []RuleConfig    `yaml:"rules"`
	Filters   []FilterConfig  `yaml:"filters"`

	// LogLevel controls daemon logging (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// MetricsAddr is the daemon's metrics listen address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LimitsConfig configures the suppression stages.
type LimitsConfig struct {
	TokensPerMinute float64       `yaml:"tokens_per_minute"`
	BurstSize       float64       `yaml:"burst_size"`
	BucketTTL       time.Duration `yaml:"bucket_ttl"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`

	// StormRatePerSecond is the pipeline-wide ingest cap across all
	// sources. Zero disables the storm guard.
	StormRatePerSecond float64 `yaml:"storm_rate_per_second"`
	StormBurst         int     `yaml:"storm_burst"`
}

// BreakerConfig configures per-channel circuit breaking.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// DeliveryConfig configures the fan-out orchestrator.
type DeliveryConfig struct {
	MaxConcurrentOperations int           `yaml:"max_concurrent_operations"`
	ChannelTimeout          time.Duration `yaml:"channel_timeout"`
	MaxRetries              int           `yaml:"max_retries"`
	InitialBackoff          time.Duration `yaml:"initial_backoff"`
	BackoffMultiplier       float64       `yaml:"backoff_multiplier"`
	MaxBackoff              time.Duration `yaml:"max_backoff"`
}

// HistoryConfig bounds in-memory alert retention.
type HistoryConfig struct {
	Size int `yaml:"size"`
}

// EmergencyConfig configures system-degradation fallback.
type EmergencyConfig struct {
	// ConsecutiveFailures is how many fully failed fan-outs in a row
	// trip emergency mode. Zero disables it.
	ConsecutiveFailures int `yaml:"consecutive_failures"`
}

// ChannelConfig declares one output channel.
type ChannelConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"` // console | webhook | memory
	Enabled     bool              `yaml:"enabled"`
	Fallback    bool              `yaml:"fallback"`
	MinSeverity string            `yaml:"min_severity"`
	URL         string            `yaml:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// RuleConfig declares one alert rule as plain data.
type RuleConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Type           string            `yaml:"type"`
	Enabled        bool              `yaml:"enabled"`
	Priority       int               `yaml:"priority"`
	Severity       string            `yaml:"severity,omitempty"`
	SourcePattern  string            `yaml:"source_pattern,omitempty"`
	TagPattern     string            `yaml:"tag_pattern,omitempty"`
	MessagePattern string            `yaml:"message_pattern,omitempty"`
	Threshold           float64           `yaml:"threshold,omitempty"`
	ThresholdComparator string            `yaml:"threshold_comparator,omitempty"`
	Window              time.Duration     `yaml:"window,omitempty"`
	MaxOccurrences      int               `yaml:"max_occurrences,omitempty"`
	Conditions     []ConditionConfig `yaml:"conditions,omitempty"`
	Actions        []ActionConfig    `yaml:"actions,omitempty"`
}

// ConditionConfig declares one rule condition.
type ConditionConfig struct {
	Property string `yaml:"property"`
	Op       string `yaml:"op"`
	Value    string `yaml:"value"`

	// ValueKind selects how Value parses: string (default), number,
	// bool, severity.
	ValueKind string `yaml:"value_kind,omitempty"`
}

// ActionConfig declares one rule action.
type ActionConfig struct {
	Type     string `yaml:"type"`
	Severity string `yaml:"severity,omitempty"`
	Tag      string `yaml:"tag,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Value    string `yaml:"value,omitempty"`
}

// FilterConfig declares one built-in filter.
type FilterConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // severity_floor | source_allow | sample
	Priority int    `yaml:"priority"`

	// ErrorMode: log_and_continue | allow_on_error | suppress_on_error |
	// disable_on_error.
	ErrorMode            string `yaml:"error_mode,omitempty"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors,omitempty"`

	MinSeverity   string  `yaml:"min_severity,omitempty"`   // severity_floor
	SourcePattern string  `yaml:"source_pattern,omitempty"` // source_allow
	SampleRate    float64 `yaml:"sample_rate,omitempty"`    // sample, in [0,1]
}

// Default returns configuration with production defaults and no
// channels, rules, or filters.
func Default() Config {
	return Config{
		Limits: LimitsConfig{
			TokensPerMinute: 60,
			BurstSize:       10,
			BucketTTL:       30 * time.Minute,
			DuplicateWindow: time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxConcurrentOperations: 8,
			ChannelTimeout:          5 * time.Second,
			MaxRetries:              3,
			InitialBackoff:          100 * time.Millisecond,
			BackoffMultiplier:       2,
			MaxBackoff:              5 * time.Second,
		},
		History:     HistoryConfig{Size: 200},
		Emergency:   EmergencyConfig{ConsecutiveFailures: 5},
		LogLevel:    "info",
		MetricsAddr: ":9090",
	}
}

// Load reads YAML from path over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration at load time.
func (c Config) Validate() error {
	if c.Limits.TokensPerMinute < 0 {
		return fmt.Errorf("%w: tokens_per_minute must be >= 0", ErrInvalidConfig)
	}
	if c.Limits.BurstSize <= 0 {
		return fmt.Errorf("%w: burst_size must be > 0", ErrInvalidConfig)
	}
	if c.Limits.DuplicateWindow <= 0 {
		return fmt.Errorf("%w: duplicate_window must be > 0", ErrInvalidConfig)
	}
	if c.Limits.StormRatePerSecond < 0 {
		return fmt.Errorf("%w: storm_rate_per_second must be >= 0", ErrInvalidConfig)
	}
	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("%w: failure_threshold must be >= 1", ErrInvalidConfig)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("%w: breaker cooldown must be > 0", ErrInvalidConfig)
	}
	if c.Delivery.MaxConcurrentOperations < 1 {
		return fmt.Errorf("%w: max_concurrent_operations must be >= 1", ErrInvalidConfig)
	}
	if c.Delivery.MaxRetries < 1 {
		return fmt.Errorf("%w: max_retries must be >= 1", ErrInvalidConfig)
	}
	if c.History.Size < 0 {
		return fmt.Errorf("%w: history size must be >= 0", ErrInvalidConfig)
	}

	seen := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: channel name must not be empty", ErrInvalidConfig)
		}
		if seen[ch.Name] {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidConfig, ch.Name)
		}
		seen[ch.Name] = true
		switch ch.Type {
		case "console", "memory":
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("%w: webhook channel %q needs a url", ErrInvalidConfig, ch.Name)
			}
		default:
			return fmt.Errorf("%w: channel %q has unknown type %q", ErrInvalidConfig, ch.Name, ch.Type)
		}
	}

	for _, f := range c.Filters {
		if f.Name == "" {
			return fmt.Errorf("%w: filter name must not be empty", ErrInvalidConfig)
		}
		if f.Type == "sample" && (f.SampleRate < 0 || f.SampleRate > 1) {
			return fmt.Errorf("%w: filter %q sample_rate must be in [0,1]", ErrInvalidConfig, f.Name)
		}
		if f.MaxConsecutiveErrors < 0 {
			return fmt.Errorf("%w: filter %q max_consecutive_errors must be >= 0", ErrInvalidConfig, f.Name)
		}
	}
	return nil
}
