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

// Package extractor defines the runnable side of an extraction
// backend and wraps each built-in backend in a circuit breaker. The
// backends themselves (Docling, MinerU, a hosted OCR service) are
// explicitly out of scope (spec.md §1): each is an opaque capability
// that accepts a file path plus options and returns a
// job.CandidateExtraction or fails.
package extractor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/registry"
)

// Extractor is the full extractor contract: the registry's
// declarative half (name/version/priority/capabilities/availability)
// plus the operation the executor actually invokes.
type Extractor interface {
	registry.Extractor
	Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error)
}

// Breaker wraps an Extractor in a gobreaker.CircuitBreaker so a
// backend that starts failing consistently is shed instead of
// retried into the ground on every job.
type Breaker struct {
	Extractor
	cb     *gobreaker.CircuitBreaker
	logger *logrus.Entry
}

// NewBreaker wraps inner with a circuit breaker. openAfterConsecutive
// is the number of consecutive failures that trips the breaker; it
// resets to half-open after resetTimeout.
func NewBreaker(inner Extractor, openAfterConsecutive uint32, resetTimeout time.Duration, logger *logrus.Logger) *Breaker {
	if logger == nil {
		logger = logrus.New()
	}
	entry := logger.WithField("extractor", inner.Name())

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= openAfterConsecutive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			entry.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("extractor circuit breaker state change")
		},
	}

	return &Breaker{
		Extractor: inner,
		cb:        gobreaker.NewCircuitBreaker(settings),
		logger:    entry,
	}
}

// IsAvailable reports the inner extractor's own availability AND that
// the breaker isn't currently open; an open breaker makes an otherwise
// healthy-looking backend unselectable until it resets.
func (b *Breaker) IsAvailable() bool {
	return b.Extractor.IsAvailable() && b.cb.State() != gobreaker.StateOpen
}

// Extract runs the wrapped extractor's Extract through the breaker.
// Per the Extractor contract, a circuit-open rejection is itself
// surfaced as a failed (not erroring) CandidateExtraction so callers
// never need a second error-handling path for breaker trips.
func (b *Breaker) Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error) {
	start := time.Now()
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.Extractor.Extract(ctx, filePath, opts)
	})
	if err != nil {
		b.logger.WithError(err).Debug("extractor call rejected or failed")
		return job.CandidateExtraction{
			ExtractorName:    b.Extractor.Name(),
			ExtractorVersion: b.Extractor.Version(),
			Success:          false,
			ErrorKind:        errorKindFor(err),
			ErrorMessage:     err.Error(),
			ElapsedMs:        time.Since(start).Milliseconds(),
			Priority:         b.Extractor.Priority(),
		}, nil
	}
	return result.(job.CandidateExtraction), nil
}

func errorKindFor(err error) string {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "extractor_unavailable"
	}
	return "extractor_error"
}
