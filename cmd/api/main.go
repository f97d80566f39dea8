/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command api runs the coordination core's control surface: it accepts
// submissions, enqueues them, and serves status/result/review/arbitrate
// reads. It never drives a job itself (pkg/orchestrator.Run is a
// worker-only operation); see cmd/worker for that side.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docfusion/docfusion/internal/config"
	"github.com/docfusion/docfusion/internal/platform"
	"github.com/docfusion/docfusion/pkg/api"
	"github.com/docfusion/docfusion/pkg/arbitration"
	"github.com/docfusion/docfusion/pkg/merge"
	"github.com/docfusion/docfusion/pkg/metrics"
	"github.com/docfusion/docfusion/pkg/orchestrator"
	"github.com/docfusion/docfusion/pkg/tracker"
	"github.com/docfusion/docfusion/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to deployment config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("docfusion-api dev")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, zapLogger, err := platform.NewLoggers(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build loggers: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync() //nolint:errcheck

	states, err := platform.NewStateStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("failed to build state store")
	}
	queue, err := platform.NewQueue(cfg.Store, cfg.Strategy.JobTimeout)
	if err != nil {
		logger.WithError(err).Fatal("failed to build queue")
	}

	tr := tracker.New(states, logger)
	merger := merge.New()
	dispatcher := webhook.New(&http.Client{Timeout: 30 * time.Second}, cfg.Webhook.RetryDelays, logger)
	arbitrationSvc := arbitration.New(states, tr, merger, dispatcher, logger)

	// The API process doesn't drive extraction itself, but ReadResult
	// is shared with the worker's Orchestrator, so it wires a minimal
	// Orchestrator too, with a nil registry/executor: those fields are
	// only touched by Run, which only the worker calls.
	orch := orchestrator.New(tr, nil, nil, nil, nil, nil, merger, arbitrationSvc, nil, states, nil, orchestrator.DefaultConfig(), logger)

	apiCfg := api.DefaultConfig()
	apiCfg.Port = cfg.Server.APIPort

	server := api.NewServer(apiCfg, api.Deps{
		Tracker:      tr,
		Orchestrator: orch,
		Arbitration:  arbitrationSvc,
		Queue:        queue,
	}, zapLogger)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	metricsServer.StartAsync()

	go tr.StartRetentionSweeper(context.Background(), 24*time.Hour, cfg.Retention.SuccessDays, cfg.Retention.FailedDays)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", apiCfg.Port).Info("starting api server")
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("api server stopped unexpectedly")
		}
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("error during api server shutdown")
		}
		if err := metricsServer.Stop(ctx); err != nil {
			logger.WithError(err).Error("error during metrics server shutdown")
		}
	}
}
