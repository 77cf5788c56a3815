/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// The `alertpipe` daemon runs the alert pipeline as a standalone
// process: alert events arrive as JSON lines on stdin, deliveries go to
// the channels declared in the config file, and Prometheus metrics plus
// a health report are served over HTTP.
//
// Usage:
//
//	alertpipe -config alertpipe.yaml
//	echo '{"message":"disk full","severity":"critical","source":"node-3"}' | alertpipe
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stackwatch/alertpipe/internal/alert"
	"github.com/stackwatch/alertpipe/internal/config"
	"github.com/stackwatch/alertpipe/internal/pipeline"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// event is one stdin line.
type event struct {
	Message       string            `json:"message"`
	Severity      string            `json:"severity"`
	Source        string            `json:"source"`
	Tag           string            `json:"tag,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func main() {
	var (
		configPath  string
		metricsAddr string
		logLevel    string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file. Empty uses defaults with a console channel.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metrics endpoint binds to. Overrides the config file.")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error). Overrides the config file.")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit.")
	flag.Parse()

	if showVersion {
		fmt.Printf("alertpipe %s (commit: %s, built: %s)\n", version, gitCommit, buildDate)
		return
	}

	if err := run(configPath, metricsAddr, logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "alertpipe: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr, logLevel string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.Channels = []config.ChannelConfig{
			{Name: "console", Type: "console", Enabled: true, Fallback: true},
		}
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, flush, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer flush()
	log.Info("starting alertpipe", "version", version, "commit", gitCommit)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	p, err := pipeline.New(log, cfg, reg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go sweeper(ctx, p)
	go serve(ctx, log, p, reg, cfg.MetricsAddr)

	if err := ingest(ctx, log, p, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutting down")
	return nil
}

func buildLogger(level string) (logr.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	z, err := zc.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}

// ingest reads JSON alert events line by line until stdin closes or the
// context is cancelled. Malformed lines are logged and skipped.
func ingest(ctx context.Context, log logr.Logger, p *pipeline.Pipeline, in *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Error(err, "skipping malformed event")
			continue
		}
		sev, err := alert.ParseSeverity(ev.Severity)
		if err != nil {
			log.Error(err, "skipping event with bad severity", "severity", ev.Severity)
			continue
		}

		res, err := p.Raise(ctx, pipeline.RaiseRequest{
			Message:       ev.Message,
			Severity:      sev,
			Source:        ev.Source,
			Tag:           ev.Tag,
			CorrelationID: ev.CorrelationID,
			Metadata:      ev.Metadata,
		})
		if err != nil {
			log.Error(err, "raise failed", "source", ev.Source)
			continue
		}
		switch res.Outcome {
		case pipeline.OutcomeDelivered:
			log.V(1).Info("delivered", "id", res.Alert.ID,
				"ok", res.Delivery.SuccessCount(), "failed", res.Delivery.FailureCount())
		case pipeline.OutcomeSuppressed:
			log.V(1).Info("suppressed", "id", res.Alert.ID, "stage", string(res.Stage))
		case pipeline.OutcomeNoChannels:
			log.Info("no eligible channels", "id", res.Alert.ID)
		}
	}
	return scanner.Err()
}

func sweeper(ctx context.Context, p *pipeline.Pipeline) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

func serve(ctx context.Context, log logr.Logger, p *pipeline.Pipeline, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		report := p.HealthReport()
		w.Header().Set("Content-Type", "application/json")
		if report.Score < 50 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.Statistics())
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err, "metrics server failed")
	}
}
