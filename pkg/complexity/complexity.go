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

// Package complexity scores a document's structural complexity and
// classifies it into a pipeline-selection bucket (spec.md §4.2).
// Results are memoized in the shared StateStore under the key the
// caller passes (the orchestrator passes a hash of the content hash and
// the options), so re-submission of an identical file with the same
// options is not probed again.
package complexity

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/store"
)

// Probe is the structural signal an Analyzer scores from; producing it
// (parsing the PDF's page/table/column/image/formula/OCR structure) is
// out of scope here, same as the extractors themselves.
type Probe struct {
	Pages        int
	Tables       int
	Columns      int
	Images       int
	Formulas     int
	ScannedPages int
}

const (
	weightPages    = 10
	weightTables   = 25
	weightColumns  = 20
	weightImages   = 15
	weightFormulas = 15
	weightScanned  = 15
)

// Analyzer scores a Probe into a job.ComplexityReport, memoizing
// successful results by content hash.
type Analyzer struct {
	states store.StateStore
	logger *logrus.Entry
}

func NewAnalyzer(st store.StateStore, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Analyzer{states: st, logger: logger.WithField("component", "complexity_analyzer")}
}

// Analyze scores probe for contentHash, unless forced is non-empty, in
// which case classification is bypassed but the score is still
// computed and recorded (spec.md §4.2: "force_complexity bypasses
// classification but not scoring").
func (a *Analyzer) Analyze(ctx context.Context, contentHash string, probe Probe, forced job.ComplexityClass) (job.ComplexityReport, error) {
	if cached, ok := a.lookupCache(ctx, contentHash); ok {
		cached.Cached = true
		if forced != "" {
			cached.Class = forced
		}
		return cached, nil
	}

	components := map[string]job.ComponentScore{
		"pages":    scoreComponent(pagesRaw(probe.Pages), weightPages),
		"tables":   scoreComponent(countRaw(probe.Tables), weightTables),
		"columns":  scoreComponent(countRaw(probe.Columns), weightColumns),
		"images":   scoreComponent(countRaw(probe.Images), weightImages),
		"formulas": scoreComponent(countRaw(probe.Formulas), weightFormulas),
		"scanned":  scoreComponent(countRaw(probe.ScannedPages), weightScanned),
	}

	total := 0.0
	for _, c := range components {
		total += c.Weighted
	}
	score := int(total + 0.5)

	report := job.ComplexityReport{
		Score:      score,
		Class:      classify(score),
		Components: components,
		Cached:     false,
	}
	if forced != "" {
		report.Class = forced
	}

	if err := a.persist(ctx, contentHash, report); err != nil {
		a.logger.WithError(err).Warn("failed to persist complexity report to cache")
	}

	return report, nil
}

func (a *Analyzer) lookupCache(ctx context.Context, contentHash string) (job.ComplexityReport, bool) {
	raw, err := a.states.Get(ctx, store.ComplexityKey(contentHash))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.WithError(err).Warn("complexity cache read failed, recomputing")
		}
		return job.ComplexityReport{}, false
	}
	var report job.ComplexityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		a.logger.WithError(err).Warn("corrupt complexity cache entry, recomputing")
		return job.ComplexityReport{}, false
	}
	return report, true
}

// persist stores report under an unbounded TTL; failures are never
// cached (spec.md §4.2), so only successful Analyze calls reach here.
func (a *Analyzer) persist(ctx context.Context, contentHash string, report job.ComplexityReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return a.states.Set(ctx, store.ComplexityKey(contentHash), raw, 0)
}

func classify(score int) job.ComplexityClass {
	switch {
	case score <= 30:
		return job.ComplexitySimple
	case score >= 60:
		return job.ComplexityComplex
	default:
		return job.ComplexityMedium
	}
}

func scoreComponent(raw float64, weight float64) job.ComponentScore {
	return job.ComponentScore{
		Raw:      raw,
		Weighted: raw / 100 * weight,
	}
}

// pagesRaw buckets a page count into spec.md §4.2's documented table:
// <=5 -> 0, <=20 -> 5, <=50 -> 10, else 25 (the criterion's own max is
// 100, so these are stored as a fraction of 100 by the caller's weight
// multiplication above).
func pagesRaw(pages int) float64 {
	switch {
	case pages <= 5:
		return 0
	case pages <= 20:
		return 5
	case pages <= 50:
		return 10
	default:
		return 25
	}
}

// countRaw is the shared bucketing rule for structural counts
// (tables/columns/images/formulas/scanned pages): a document's
// structural probe drives these, not any single extractor's opinion.
func countRaw(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count <= 2:
		return 25
	case count <= 5:
		return 50
	case count <= 10:
		return 75
	default:
		return 100
	}
}
