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

// Command worker dequeues jobs and drives them through
// pkg/orchestrator's state machine to a terminal state. Each worker is
// single-tasked: it dequeues one message, drives it to completion (or
// to a failure/timeout), acks, and only then dequeues the next (spec.md
// §5 "the API process is accept-and-enqueue only; the heavy lifting
// runs in a pool of worker processes, each single-tasked at a time").
// Concurrency across extractors happens inside the Orchestrator's
// ParallelExecutor, not across jobs in one worker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docfusion/docfusion/internal/config"
	"github.com/docfusion/docfusion/internal/platform"
	"github.com/docfusion/docfusion/pkg/arbitration"
	"github.com/docfusion/docfusion/pkg/compare"
	"github.com/docfusion/docfusion/pkg/complexity"
	"github.com/docfusion/docfusion/pkg/executor"
	"github.com/docfusion/docfusion/pkg/merge"
	"github.com/docfusion/docfusion/pkg/metrics"
	"github.com/docfusion/docfusion/pkg/orchestrator"
	"github.com/docfusion/docfusion/pkg/resourcegate"
	"github.com/docfusion/docfusion/pkg/store"
	"github.com/docfusion/docfusion/pkg/tracker"
	"github.com/docfusion/docfusion/pkg/webhook"
)

// queueMessage mirrors pkg/api's wire shape for an enqueued job.
type queueMessage struct {
	JobID string `json:"job_id"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to deployment config")
	memLimitMB := flag.Uint64("mem-limit-mb", 0, "advisory memory ceiling for the resource gate, 0 disables it")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("docfusion-worker dev")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := platform.NewLoggers(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build loggers: %v\n", err)
		os.Exit(1)
	}

	states, err := platform.NewStateStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("failed to build state store")
	}
	queue, err := platform.NewQueue(cfg.Store, cfg.Strategy.JobTimeout)
	if err != nil {
		logger.WithError(err).Fatal("failed to build queue")
	}

	tr := tracker.New(states, logger)
	reg := platform.NewRegistry(logger)
	analyzer := complexity.NewAnalyzer(states, logger)
	gate := resourcegate.NewGate(platform.MemorySampler{LimitBytes: *memLimitMB * 1024 * 1024}, cfg.ResourceGate.MemoryFloorPct, logger)
	exec := executor.New(cfg.Strategy.MaxParallel, cfg.Strategy.PerExtractorTimeout)
	comparator := compare.New(compare.Config{
		SimilarityThreshold: cfg.Comparator.SimilarityThreshold,
		AutoMergeThreshold:  cfg.Comparator.AutoMergeThreshold,
	})
	merger := merge.New()
	dispatcher := webhook.New(&http.Client{Timeout: 30 * time.Second}, cfg.Webhook.RetryDelays, logger)
	arbitrationSvc := arbitration.New(states, tr, merger, dispatcher, logger)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.PerExtractorTimeout = cfg.Strategy.PerExtractorTimeout
	orchCfg.JobTimeout = cfg.Strategy.JobTimeout
	orchCfg.MaxParallel = cfg.Strategy.MaxParallel

	orch := orchestrator.New(tr, reg, analyzer, gate, exec, comparator, merger, arbitrationSvc, dispatcher, states, platform.NullProber{}, orchCfg, logger)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	metricsServer.StartAsync()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down worker")
		cancel()
	}()

	runLoop(ctx, queue, orch, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("error during metrics server shutdown")
	}
}

// runLoop dequeues one message at a time and drives it to a terminal
// state before dequeuing the next, per this worker's single-tasked
// contract (spec.md §5). It returns once ctx is cancelled.
func runLoop(ctx context.Context, queue store.Queue, orch *orchestrator.Orchestrator, logger *logrus.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, ackHandle, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("dequeue failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		var msg queueMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.WithError(err).Error("malformed queue message, dropping")
			_ = queue.Ack(ctx, ackHandle)
			continue
		}

		jobLogger := logger.WithField("job_id", msg.JobID)
		jobLogger.Info("dequeued job")

		if err := orch.Run(ctx, msg.JobID); err != nil {
			jobLogger.WithError(err).Warn("job run returned an error, leaving for redelivery")
			_ = queue.Nack(ctx, ackHandle)
			continue
		}

		if err := queue.Ack(ctx, ackHandle); err != nil {
			jobLogger.WithError(err).Error("failed to ack completed job")
		}
	}
}
