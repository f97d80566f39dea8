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

// Package metrics exposes the coordination core's Prometheus metrics:
// job throughput and latency, per-extractor outcomes, comparator
// divergence rates, and webhook delivery results.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docfusion_jobs_submitted_total",
		Help: "Total number of jobs submitted for extraction.",
	})

	JobsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfusion_jobs_terminal_total",
		Help: "Total number of jobs reaching a terminal state, by state.",
	}, []string{"state"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docfusion_job_duration_seconds",
		Help:    "Wall-clock time from job submission to terminal state.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"strategy", "state"})

	ComplexityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docfusion_complexity_score",
		Help:    "Distribution of ComplexityAnalyzer scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	ComplexityCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docfusion_complexity_cache_hits_total",
		Help: "Total number of ComplexityAnalyzer calls served from cache.",
	})

	ExtractorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfusion_extractor_runs_total",
		Help: "Total extractor invocations, by name and outcome.",
	}, []string{"extractor", "outcome"}) // outcome: success|timeout|error

	ExtractorDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docfusion_extractor_duration_seconds",
		Help:    "Per-extractor elapsed time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"extractor"})

	DivergencesEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfusion_divergences_emitted_total",
		Help: "Total divergences emitted by the comparator, by kind.",
	}, []string{"kind"})

	ResourceGateDowngradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfusion_resource_gate_downgrades_total",
		Help: "Total strategy downgrades performed by the resource gate.",
	}, []string{"from", "to"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfusion_webhook_deliveries_total",
		Help: "Total webhook delivery attempts, by outcome.",
	}, []string{"outcome"}) // outcome: success|failed

	ArbitrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docfusion_arbitrations_total",
		Help: "Total jobs resolved through human arbitration.",
	})
)

// RecordJobSubmitted increments the submission counter.
func RecordJobSubmitted() {
	JobsSubmittedTotal.Inc()
}

// RecordJobTerminal records a job reaching a terminal state and its
// total wall-clock duration.
func RecordJobTerminal(strategy, state string, duration time.Duration) {
	JobsTerminalTotal.WithLabelValues(state).Inc()
	JobDurationSeconds.WithLabelValues(strategy, state).Observe(duration.Seconds())
}

// RecordComplexity records a ComplexityReport's score and whether it
// was served from cache.
func RecordComplexity(score int, cached bool) {
	ComplexityScore.Observe(float64(score))
	if cached {
		ComplexityCacheHitsTotal.Inc()
	}
}

// RecordExtractorRun records one extractor invocation's outcome and
// elapsed time.
func RecordExtractorRun(extractorName, outcome string, elapsed time.Duration) {
	ExtractorRunsTotal.WithLabelValues(extractorName, outcome).Inc()
	ExtractorDurationSeconds.WithLabelValues(extractorName).Observe(elapsed.Seconds())
}

// RecordDivergence records one emitted divergence by kind.
func RecordDivergence(kind string) {
	DivergencesEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordResourceGateDowngrade records a strategy downgrade.
func RecordResourceGateDowngrade(from, to string) {
	ResourceGateDowngradesTotal.WithLabelValues(from, to).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt's outcome.
func RecordWebhookDelivery(success bool) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordArbitration records a job resolved through arbitration.
func RecordArbitration() {
	ArbitrationsTotal.Inc()
}
