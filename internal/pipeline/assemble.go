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
	"os"
	"strconv"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/channel"
	"github.com/stackwatch/alertpipe/internal/config"
	"github.com/stackwatch/alertpipe/internal/deliver"
	"github.com/stackwatch/alertpipe/internal/filter"
	"github.com/stackwatch/alertpipe/internal/rules"
)

// assemble registers the channels, filters, and rules declared in cfg.
// Definitions are plain data records; this is the single place they
// bind to concrete implementations.
func (p *Pipeline) assemble(cfg config.Config) error {
	retry := deliver.RetryPolicy{
		MaxAttempts:    cfg.Delivery.MaxRetries,
		InitialBackoff: cfg.Delivery.InitialBackoff,
		Multiplier:     cfg.Delivery.BackoffMultiplier,
		MaxBackoff:     cfg.Delivery.MaxBackoff,
	}
	if err := retry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	for _, cc := range cfg.Channels {
		t, err := buildChannel(cc)
		if err != nil {
			return err
		}
		t.Timeout = cfg.Delivery.ChannelTimeout
		t.Retry = retry
		if err := p.orch.AddChannel(t); err != nil {
			return fmt.Errorf("%w: channel %q: %v", config.ErrInvalidConfig, cc.Name, err)
		}
	}

	for _, fc := range cfg.Filters {
		f, err := buildFilter(fc)
		if err != nil {
			return err
		}
		reg := filter.Registration{MaxConsecutiveErrors: fc.MaxConsecutiveErrors}
		if reg.ErrorMode, err = parseErrorMode(fc.ErrorMode); err != nil {
			return fmt.Errorf("%w: filter %q: %v", config.ErrInvalidConfig, fc.Name, err)
		}
		if err := p.filters.Add(f, reg); err != nil {
			return fmt.Errorf("%w: filter %q: %v", config.ErrInvalidConfig, fc.Name, err)
		}
	}

	for _, rc := range cfg.Rules {
		r, err := buildRule(rc)
		if err != nil {
			return err
		}
		if err := p.engine.Add(r); err != nil {
			return fmt.Errorf("%w: rule %q: %v", config.ErrInvalidConfig, rc.ID, err)
		}
	}
	return nil
}

func buildChannel(cc config.ChannelConfig) (deliver.Target, error) {
	t := deliver.Target{Fallback: cc.Fallback}
	if cc.MinSeverity != "" {
		sev, err := alert.ParseSeverity(cc.MinSeverity)
		if err != nil {
			return t, fmt.Errorf("%w: channel %q: %v", config.ErrInvalidConfig, cc.Name, err)
		}
		t.MinSeverity = sev
	}

	switch cc.Type {
	case "console":
		ch := channel.NewConsole(cc.Name, os.Stdout)
		ch.SetEnabled(cc.Enabled)
		t.Channel = ch
	case "memory":
		ch := channel.NewInMemory(cc.Name)
		ch.SetEnabled(cc.Enabled)
		t.Channel = ch
	case "webhook":
		ch := channel.NewWebhook(cc.Name, cc.URL, cc.Headers)
		ch.SetEnabled(cc.Enabled)
		t.Channel = ch
	default:
		return t, fmt.Errorf("%w: channel %q has unknown type %q", config.ErrInvalidConfig, cc.Name, cc.Type)
	}
	return t, nil
}

func buildFilter(fc config.FilterConfig) (filter.Filter, error) {
	switch fc.Type {
	case "severity_floor":
		sev, err := alert.ParseSeverity(fc.MinSeverity)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", config.ErrInvalidConfig, fc.Name, err)
		}
		return filter.NewSeverityFloor(fc.Name, fc.Priority, sev), nil
	case "source_allow":
		return filter.NewSourceAllow(fc.Name, fc.Priority, fc.SourcePattern), nil
	case "sample":
		f, err := filter.NewSample(fc.Name, fc.Priority, fc.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", config.ErrInvalidConfig, fc.Name, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: filter %q has unknown type %q", config.ErrInvalidConfig, fc.Name, fc.Type)
	}
}

func parseErrorMode(s string) (filter.ErrorMode, error) {
	switch s {
	case "", "log_and_continue":
		return filter.LogAndContinue, nil
	case "allow_on_error":
		return filter.AllowOnError, nil
	case "suppress_on_error":
		return filter.SuppressOnError, nil
	case "disable_on_error":
		return filter.DisableOnError, nil
	default:
		return filter.LogAndContinue, fmt.Errorf("unknown error mode %q", s)
	}
}

func buildRule(rc config.RuleConfig) (rules.Rule, error) {
	r := rules.Rule{
		ID:             rc.ID,
		Name:           rc.Name,
		Type:           rules.RuleType(rc.Type),
		Enabled:        rc.Enabled,
		Priority:       rc.Priority,
		SourcePattern:  rc.SourcePattern,
		TagPattern:     rc.TagPattern,
		MessagePattern: rc.MessagePattern,
		Threshold:      rc.Threshold,
		Window:         rc.Window,
		MaxOccurrences: rc.MaxOccurrences,
	}
	if rc.ThresholdComparator != "" {
		op, err := rules.ParseComparator(rc.ThresholdComparator)
		if err != nil {
			return r, fmt.Errorf("%w: rule %q: %v", config.ErrInvalidConfig, rc.ID, err)
		}
		r.ThresholdComparator = op
	}
	if rc.Severity != "" {
		sev, err := alert.ParseSeverity(rc.Severity)
		if err != nil {
			return r, fmt.Errorf("%w: rule %q: %v", config.ErrInvalidConfig, rc.ID, err)
		}
		r.Severity = &sev
	}

	for _, cc := range rc.Conditions {
		op, err := rules.ParseComparator(cc.Op)
		if err != nil {
			return r, fmt.Errorf("%w: rule %q: %v", config.ErrInvalidConfig, rc.ID, err)
		}
		want, err := parseValue(cc.Value, cc.ValueKind)
		if err != nil {
			return r, fmt.Errorf("%w: rule %q condition %q: %v", config.ErrInvalidConfig, rc.ID, cc.Property, err)
		}
		r.Conditions = append(r.Conditions, rules.Condition{
			Property: cc.Property,
			Op:       op,
			Want:     want,
		})
	}

	for _, ac := range rc.Actions {
		action := rules.Action{
			Type:    rules.ActionType(ac.Type),
			Tag:     ac.Tag,
			Channel: ac.Channel,
			Key:     ac.Key,
			Value:   ac.Value,
		}
		if ac.Severity != "" {
			sev, err := alert.ParseSeverity(ac.Severity)
			if err != nil {
				return r, fmt.Errorf("%w: rule %q: %v", config.ErrInvalidConfig, rc.ID, err)
			}
			action.Severity = sev
		}
		r.Actions = append(r.Actions, action)
	}
	return r, nil
}

func parseValue(raw, kind string) (rules.Value, error) {
	switch kind {
	case "", "string":
		return rules.String(raw), nil
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return rules.Value{}, fmt.Errorf("not a number: %q", raw)
		}
		return rules.Number(f), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return rules.Value{}, fmt.Errorf("not a bool: %q", raw)
		}
		return rules.Bool(b), nil
	case "severity":
		sev, err := alert.ParseSeverity(raw)
		if err != nil {
			return rules.Value{}, err
		}
		return rules.Sev(sev), nil
	default:
		return rules.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}
