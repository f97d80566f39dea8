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

// Package executor runs a priority-ordered set of extractors under
// bounded concurrency, one per-extractor timeout each, and never
// returns until every task has resolved (spec.md §4.4). Grounded on
// the candidate-list + parallel-check pattern in
// BumpyClock-hermes's internal/extractors/parallel.go, adapted from a
// raw sync.WaitGroup+channel fan-out to golang.org/x/sync/semaphore so
// the concurrency bound is enforced rather than advisory.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docfusion/docfusion/pkg/extractor"
	"github.com/docfusion/docfusion/pkg/job"
)

// Outcome is one extractor's resolved result within a Run call.
type Outcome struct {
	ExtractorName string
	Candidate     job.CandidateExtraction
	TimedOut      bool
	Err           error
}

// Executor runs up to MaxConcurrent extractors at once, each bounded
// by PerTaskTimeout.
type Executor struct {
	MaxConcurrent  int
	PerTaskTimeout time.Duration
}

func New(maxConcurrent int, perTaskTimeout time.Duration) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if perTaskTimeout <= 0 {
		perTaskTimeout = 300 * time.Second
	}
	return &Executor{MaxConcurrent: maxConcurrent, PerTaskTimeout: perTaskTimeout}
}

// Run invokes extract on every extractor concurrently, bounded by
// MaxConcurrent in-flight at a time. It returns only once every task
// has resolved — success, timeout, or error — in stable priority
// order (ascending Priority(), ties by Name()). A single extractor's
// failure never cancels its siblings; only ctx cancellation does.
func (e *Executor) Run(ctx context.Context, extractors []extractor.Extractor, filePath string, opts job.Options) []Outcome {
	ordered := make([]extractor.Extractor, len(extractors))
	copy(ordered, extractors)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() < ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})

	outcomes := make([]Outcome, len(ordered))
	sem := semaphore.NewWeighted(int64(e.MaxConcurrent))
	var wg sync.WaitGroup

	for i, ex := range ordered {
		i, ex := i, ex
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = Outcome{ExtractorName: ex.Name(), Err: err}
				return
			}
			defer sem.Release(1)
			outcomes[i] = e.runOne(ctx, ex, filePath, opts)
		}()
	}

	wg.Wait()
	return outcomes
}

func (e *Executor) runOne(ctx context.Context, ex extractor.Extractor, filePath string, opts job.Options) Outcome {
	taskCtx, cancel := context.WithTimeout(ctx, e.PerTaskTimeout)
	defer cancel()

	candidate, err := ex.Extract(taskCtx, filePath, opts)
	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			return Outcome{ExtractorName: ex.Name(), TimedOut: true, Err: err}
		}
		return Outcome{ExtractorName: ex.Name(), Err: err}
	}
	if !candidate.Success && taskCtx.Err() == context.DeadlineExceeded {
		return Outcome{ExtractorName: ex.Name(), Candidate: candidate, TimedOut: true}
	}
	return Outcome{ExtractorName: ex.Name(), Candidate: candidate}
}
