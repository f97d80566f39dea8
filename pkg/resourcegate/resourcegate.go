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

// Package resourcegate advisorily downgrades a job's strategy when the
// worker is short on memory (spec.md §4.3). It never fails a job: the
// worst outcome of a low-memory sample is a cheaper pipeline.
package resourcegate

import (
	"github.com/sirupsen/logrus"

	"github.com/docfusion/docfusion/pkg/job"
)

// MemorySampler reports current process memory usage against a
// configured limit. Production wiring reads runtime.MemStats or a
// cgroup limit file; tests supply a fixed value.
type MemorySampler interface {
	// HeadroomFraction returns free memory as a fraction of the
	// configured limit, in [0,1].
	HeadroomFraction() float64
}

// Gate downgrades parallel_all -> parallel_local -> fallback when
// memory headroom falls below floorFraction. The downgrade is
// recorded in the job's metadata, never surfaced as an error.
type Gate struct {
	sampler      MemorySampler
	floorFraction float64
	logger       *logrus.Entry
}

func NewGate(sampler MemorySampler, floorFraction float64, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{sampler: sampler, floorFraction: floorFraction, logger: logger.WithField("component", "resource_gate")}
}

// Admit returns the strategy to actually run, which may be a
// downgrade of requested, and a metadata entry describing the
// downgrade (nil if none occurred).
func (g *Gate) Admit(jobID string, requested job.Strategy) (job.Strategy, map[string]any) {
	if requested != job.StrategyParallelAll && requested != job.StrategyParallelLocal {
		return requested, nil
	}

	headroom := g.sampler.HeadroomFraction()
	if headroom >= g.floorFraction {
		return requested, nil
	}

	downgraded := downgrade(requested)
	g.logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"from":      requested,
		"to":        downgraded,
		"headroom":  headroom,
		"floor":     g.floorFraction,
	}).Info("resource gate downgraded strategy due to low memory headroom")

	return downgraded, map[string]any{
		"resource_gate_downgrade": map[string]any{
			"from":     string(requested),
			"to":       string(downgraded),
			"headroom": headroom,
		},
	}
}

func downgrade(s job.Strategy) job.Strategy {
	switch s {
	case job.StrategyParallelAll:
		return job.StrategyParallelLocal
	case job.StrategyParallelLocal:
		return job.StrategyFallback
	default:
		return s
	}
}
