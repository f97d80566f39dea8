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

// Package orchestrator drives one job end to end through the state
// machine in spec.md §4.8: ANALYZING picks a pipeline from complexity
// and strategy, EXTRACTING runs it, COMPARING fuses or flags
// divergences, and a terminal state always fires the webhook.
// Grounded on the teacher's remediationorchestrator/phase CanTransition
// idiom, generalized one level up from sub-phase to job state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/pkg/arbitration"
	"github.com/docfusion/docfusion/pkg/compare"
	"github.com/docfusion/docfusion/pkg/complexity"
	"github.com/docfusion/docfusion/pkg/executor"
	"github.com/docfusion/docfusion/pkg/extractor"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/merge"
	"github.com/docfusion/docfusion/pkg/metrics"
	"github.com/docfusion/docfusion/pkg/normalize"
	"github.com/docfusion/docfusion/pkg/registry"
	"github.com/docfusion/docfusion/pkg/resourcegate"
	"github.com/docfusion/docfusion/pkg/store"
	"github.com/docfusion/docfusion/pkg/tracker"
	"github.com/docfusion/docfusion/pkg/webhook"
)

// Prober produces the structural signal the ComplexityAnalyzer scores
// from. Actually parsing the document is out of scope (spec.md §1);
// production wiring reads page/table/column/image/formula counts from
// a lightweight PDF structural pass.
type Prober interface {
	Probe(ctx context.Context, filePath string) (complexity.Probe, error)
}

// Config is the set of tunables spec.md's components expose as
// defaults (§4.4, §5).
type Config struct {
	PerExtractorTimeout time.Duration
	JobTimeout          time.Duration
	MaxParallel         int
	DefaultPolicy       merge.Policy
	RemoteExtractorName string
}

// DefaultConfig matches spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		PerExtractorTimeout: 300 * time.Second,
		JobTimeout:          600 * time.Second,
		MaxParallel:         3,
		DefaultPolicy:       merge.PolicyHighestConfidence,
		RemoteExtractorName: "hostedocr",
	}
}

// Result is the persisted payload behind the control surface's
// result(job_id) operation (spec.md §6). AllCandidates and Divergences
// are only populated when more than one extractor ran.
type Result struct {
	Markdown      string                    `json:"markdown"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
	Complexity    job.ComplexityReport      `json:"complexity"`
	Aggregation   *job.AggregationReport    `json:"aggregation,omitempty"`
	AllCandidates []job.CandidateExtraction `json:"all_candidates,omitempty"`
	Divergences   []job.Divergence          `json:"divergences,omitempty"`
}

// Orchestrator wires every other component into the end-to-end state
// machine for a single job.
type Orchestrator struct {
	tracker     *tracker.Tracker
	registry    *registry.Registry
	analyzer    *complexity.Analyzer
	gate        *resourcegate.Gate
	exec        *executor.Executor
	comparator  *compare.Comparator
	merger      *merge.Merger
	arbitration *arbitration.Service
	dispatcher  *webhook.Dispatcher
	states      store.StateStore
	prober      Prober
	cfg         Config
	logger      *logrus.Entry
}

func New(
	tr *tracker.Tracker,
	reg *registry.Registry,
	analyzer *complexity.Analyzer,
	gate *resourcegate.Gate,
	exec *executor.Executor,
	comparator *compare.Comparator,
	merger *merge.Merger,
	arbitrationSvc *arbitration.Service,
	dispatcher *webhook.Dispatcher,
	states store.StateStore,
	prober Prober,
	cfg Config,
	logger *logrus.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		tracker:     tr,
		registry:    reg,
		analyzer:    analyzer,
		gate:        gate,
		exec:        exec,
		comparator:  comparator,
		merger:      merger,
		arbitration: arbitrationSvc,
		dispatcher:  dispatcher,
		states:      states,
		prober:      prober,
		cfg:         cfg,
		logger:      logger.WithField("component", "orchestrator"),
	}
}

// Run drives jobID from its current (non-terminal) state through to a
// terminal one, or to NEEDS_REVIEW when divergences await
// arbitration. It is restart-safe: a worker picking up a redelivered
// queue message calls Run again and it resumes from whatever state the
// StateStore actually holds (spec.md §5 "Idempotency").
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	j, err := o.tracker.Read(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal(j.State) {
		o.logger.WithField("job_id", jobID).Debug("job already terminal, redelivery is a no-op")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	_, runErr := o.drive(ctx, jobID, j)

	final, readErr := o.tracker.Read(context.WithoutCancel(ctx), jobID)
	if readErr == nil {
		if job.IsTerminal(final.State) {
			metrics.RecordJobTerminal(string(final.Strategy), string(final.State), time.Since(final.CreatedAt))
		}
		o.fireWebhook(context.WithoutCancel(ctx), final)
	}

	return runErr
}

// drive performs the actual state walk; Run wraps it with the job
// timeout and the terminal bookkeeping that must happen regardless of
// how driving ended.
func (o *Orchestrator) drive(ctx context.Context, jobID string, j job.Job) (job.State, error) {
	if j.State == job.StatePending {
		updated, err := o.tracker.UpdateState(ctx, jobID, job.StateAnalyzing)
		if err != nil {
			return j.State, err
		}
		j = updated
	}

	if j.State == job.StateAnalyzing {
		next, err := o.analyze(ctx, jobID, j)
		if err != nil {
			return j.State, o.fail(ctx, jobID, err)
		}
		j = next
	}

	if ctx.Err() != nil {
		return j.State, o.timeout(ctx, jobID)
	}

	if j.State == job.StateExtracting {
		next, err := o.extract(ctx, jobID, j)
		if err != nil {
			return j.State, o.fail(ctx, jobID, err)
		}
		j = next
	}

	if ctx.Err() != nil {
		return j.State, o.timeout(ctx, jobID)
	}

	if j.State == job.StateComparing {
		next, err := o.compareAndMerge(ctx, jobID, j)
		if err != nil {
			return j.State, o.fail(ctx, jobID, err)
		}
		j = next
	}

	return j.State, nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) error {
	rec := job.ErrorRecord{Kind: string(apperrors.GetType(cause)), Message: cause.Error()}
	if _, err := o.tracker.SetError(context.WithoutCancel(ctx), jobID, rec); err != nil {
		o.logger.WithError(err).Warn("failed to record last_error")
	}
	if _, err := o.tracker.UpdateState(context.WithoutCancel(ctx), jobID, job.StateFailed); err != nil {
		o.logger.WithError(err).Error("failed to transition job to FAILED")
	}
	return cause
}

func (o *Orchestrator) timeout(ctx context.Context, jobID string) error {
	cause := apperrors.New(apperrors.ErrorTypeJobTimeout, "job exceeded its wall-time budget")
	if _, err := o.tracker.SetError(context.WithoutCancel(ctx), jobID, job.ErrorRecord{Kind: string(apperrors.ErrorTypeJobTimeout), Message: cause.Message}); err != nil {
		o.logger.WithError(err).Warn("failed to record last_error for timeout")
	}
	if _, err := o.tracker.UpdateState(context.WithoutCancel(ctx), jobID, job.StateTimeout); err != nil {
		o.logger.WithError(err).Error("failed to transition job to TIMEOUT")
	}
	return cause
}

// analyze runs the ComplexityAnalyzer, applies the ResourceGate, and
// transitions ANALYZING -> EXTRACTING (spec.md §4.8.1).
func (o *Orchestrator) analyze(ctx context.Context, jobID string, j job.Job) (job.Job, error) {
	cacheKey := j.ContentHash
	if opts, err := json.Marshal(j.Options); err == nil {
		cacheKey = normalize.ContentHash(j.ContentHash + "|" + string(opts))
	}

	// A cached report makes the probe unnecessary: Analyze returns the
	// cached report without looking at it.
	var probe complexity.Probe
	if raw, err := o.states.Get(ctx, store.ComplexityKey(cacheKey)); err != nil || json.Unmarshal(raw, &job.ComplexityReport{}) != nil {
		probe, err = o.prober.Probe(ctx, j.SourceRef)
		if err != nil {
			return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeInputRejected, "failed to probe document structure")
		}
	}

	report, err := o.analyzer.Analyze(ctx, cacheKey, probe, j.ForceComplexity)
	if err != nil {
		return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "complexity analysis failed")
	}
	metrics.RecordComplexity(report.Score, report.Cached)

	strategy, downgradeMeta := o.gate.Admit(jobID, j.Strategy)
	if downgradeMeta != nil {
		metrics.RecordResourceGateDowngrade(string(j.Strategy), string(strategy))
		if _, err := o.tracker.SetMetadata(ctx, jobID, downgradeMeta); err != nil {
			o.logger.WithError(err).Warn("failed to persist resource gate downgrade metadata")
		}
	}

	meta := map[string]any{
		"complexity": report,
		"strategy":   string(strategy),
	}
	if _, err := o.tracker.SetMetadata(ctx, jobID, meta); err != nil {
		o.logger.WithError(err).Warn("failed to persist complexity metadata")
	}

	return o.tracker.UpdateState(ctx, jobID, job.StateExtracting)
}

// asExtractors recovers the runnable half of the extractor contract
// from the registry's declarative listing: every built-in registered
// implementation also satisfies extractor.Extractor, but
// registry.Registry only typed its entries as registry.Extractor so
// the registry package itself never needs to import extractor.
func asExtractors(entries []registry.Extractor) []extractor.Extractor {
	out := make([]extractor.Extractor, 0, len(entries))
	for _, e := range entries {
		if ex, ok := e.(extractor.Extractor); ok {
			out = append(out, ex)
		}
	}
	return out
}

func (o *Orchestrator) candidatePool(j job.Job) []extractor.Extractor {
	pool := asExtractors(o.registry.Available())
	if len(j.RequestedExtractors) == 0 {
		return pool
	}
	want := make(map[string]bool, len(j.RequestedExtractors))
	for _, n := range j.RequestedExtractors {
		want[n] = true
	}
	filtered := make([]extractor.Extractor, 0, len(pool))
	for _, e := range pool {
		if want[e.Name()] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func (o *Orchestrator) splitLocalRemote(pool []extractor.Extractor) (local []extractor.Extractor, remote extractor.Extractor) {
	for _, e := range pool {
		if e.Name() == o.cfg.RemoteExtractorName {
			remote = e
			continue
		}
		local = append(local, e)
	}
	return local, remote
}

// extract picks a pipeline per spec.md §4.8.1 and runs it, then
// transitions to COMPLETED, COMPARING, or FAILED per the outcome.
func (o *Orchestrator) extract(ctx context.Context, jobID string, j job.Job) (job.Job, error) {
	strategy := j.Strategy
	if v, ok := j.Metadata["strategy"]; ok {
		if s, ok := v.(string); ok {
			strategy = job.Strategy(s)
		}
	}
	class := job.ComplexityMedium
	if v, ok := j.Metadata["complexity"]; ok {
		if report, ok := coerceComplexityReport(v); ok {
			class = report.Class
		}
	}

	pool := o.candidatePool(j)
	if len(pool) == 0 {
		return job.Job{}, apperrors.NewExtractorUnavailableError(j.RequestedExtractors)
	}

	useFallback := class == job.ComplexitySimple || strategy == job.StrategyFallback

	var candidates []job.CandidateExtraction
	switch {
	case useFallback:
		c, err := o.runFallback(ctx, pool, j)
		if err != nil {
			return job.Job{}, err
		}
		candidates = []job.CandidateExtraction{c}

	case strategy == job.StrategyParallelLocal:
		local, remote := o.splitLocalRemote(pool)
		candidates = o.runParallel(ctx, local, j)
		if !anySuccess(candidates) && remote != nil {
			c, err := o.runFallback(ctx, []extractor.Extractor{remote}, j)
			if err == nil {
				candidates = append(candidates, c)
			}
		}

	case strategy == job.StrategyParallelAll:
		candidates = o.runParallel(ctx, pool, j)

	case strategy == job.StrategyHybrid:
		local, remote := o.splitLocalRemote(pool)
		candidates = o.runParallel(ctx, local, j)
		if len(candidates) >= 2 {
			_, divs, err := o.comparator.Compare(jobID, normalizeCandidates(candidates))
			if err == nil && hasHardDivergence(divs) && remote != nil {
				c, err := o.runFallback(ctx, []extractor.Extractor{remote}, j)
				if err == nil {
					candidates = append(candidates, c)
				}
			}
		}

	default:
		c, err := o.runFallback(ctx, pool, j)
		if err != nil {
			return job.Job{}, err
		}
		candidates = []job.CandidateExtraction{c}
	}

	if !anySuccess(candidates) {
		return job.Job{}, apperrors.New(apperrors.ErrorTypeExtractorUnavailable, "every extractor failed for this job")
	}

	successful := successfulCandidates(candidates)
	if len(successful) == 1 {
		return o.completeSingle(ctx, jobID, successful[0], candidates)
	}

	if _, err := o.tracker.SetMetadata(ctx, jobID, map[string]any{"candidates": candidates}); err != nil {
		o.logger.WithError(err).Warn("failed to stash candidates on job metadata")
	}
	return o.tracker.UpdateState(ctx, jobID, job.StateComparing)
}

func (o *Orchestrator) runFallback(ctx context.Context, pool []extractor.Extractor, j job.Job) (job.CandidateExtraction, error) {
	var lastErr error
	for _, e := range orderedByPriority(pool) {
		taskCtx, cancel := context.WithTimeout(ctx, o.cfg.PerExtractorTimeout)
		candidate, err := e.Extract(taskCtx, j.SourceRef, j.Options)
		cancel()

		if err != nil {
			lastErr = err
			metrics.RecordExtractorRun(e.Name(), "error", 0)
			continue
		}
		if !candidate.Success {
			lastErr = apperrors.New(apperrors.ErrorTypeExtractorError, candidate.ErrorMessage)
			metrics.RecordExtractorRun(e.Name(), "error", time.Duration(candidate.ElapsedMs)*time.Millisecond)
			continue
		}
		metrics.RecordExtractorRun(e.Name(), "success", time.Duration(candidate.ElapsedMs)*time.Millisecond)
		return candidate, nil
	}
	if lastErr == nil {
		lastErr = apperrors.NewExtractorUnavailableError(nil)
	}
	return job.CandidateExtraction{}, apperrors.Wrap(lastErr, apperrors.ErrorTypeExtractorUnavailable, "fallback pipeline exhausted every extractor")
}

func (o *Orchestrator) runParallel(ctx context.Context, pool []extractor.Extractor, j job.Job) []job.CandidateExtraction {
	if len(pool) == 0 {
		return nil
	}
	outcomes := o.exec.Run(ctx, pool, j.SourceRef, j.Options)
	candidates := make([]job.CandidateExtraction, 0, len(outcomes))
	for _, oc := range outcomes {
		outcome := "success"
		switch {
		case oc.TimedOut:
			outcome = "timeout"
		case oc.Err != nil, !oc.Candidate.Success:
			outcome = "error"
		}
		metrics.RecordExtractorRun(oc.ExtractorName, outcome, time.Duration(oc.Candidate.ElapsedMs)*time.Millisecond)
		if oc.Err == nil && oc.Candidate.Success {
			candidates = append(candidates, oc.Candidate)
		}
	}
	return candidates
}

// completeSingle handles the single-extractor-success path: no
// comparison needed, the sole candidate's Markdown is the result.
func (o *Orchestrator) completeSingle(ctx context.Context, jobID string, c job.CandidateExtraction, all []job.CandidateExtraction) (job.Job, error) {
	result := Result{
		Markdown: c.Markdown,
		Aggregation: &job.AggregationReport{
			SuccessfulCount:   1,
			ExtractorCount:    len(all),
			AverageConfidence: c.Confidence,
			SelectedExtractor: c.ExtractorName,
		},
	}
	if err := o.persistResult(ctx, jobID, result); err != nil {
		return job.Job{}, err
	}
	return o.tracker.UpdateState(ctx, jobID, job.StateCompleted)
}

// compareAndMerge runs the Comparator over every successful candidate
// stashed in job metadata, then either merges straight to COMPLETED or
// persists the divergence mailbox and transitions to NEEDS_REVIEW.
func (o *Orchestrator) compareAndMerge(ctx context.Context, jobID string, j job.Job) (job.Job, error) {
	raw, ok := j.Metadata["candidates"]
	if !ok {
		return job.Job{}, apperrors.New(apperrors.ErrorTypeComparatorError, "no candidates recorded for a COMPARING job")
	}
	candidates, err := coerceCandidates(raw)
	if err != nil {
		return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeComparatorError, "failed to decode stashed candidates")
	}
	candidates = normalizeCandidates(candidates)

	clusters, divergences, err := o.comparator.Compare(jobID, candidates)
	if err != nil {
		return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeComparatorError, "comparator invariant violated")
	}
	for _, d := range divergences {
		metrics.RecordDivergence(string(d.Kind))
	}

	hard := hasHardDivergence(divergences)
	agg := aggregationReport(candidates)

	if !hard {
		merged := o.merger.Merge(candidates, clusters, divergences, o.cfg.DefaultPolicy, nil)
		result := Result{
			Markdown:      merged.Markdown,
			Metadata:      merged.Metadata,
			Aggregation:   &agg,
			AllCandidates: candidates,
			Divergences:   divergences,
		}
		if err := o.persistResult(ctx, jobID, result); err != nil {
			return job.Job{}, err
		}
		return o.tracker.UpdateState(ctx, jobID, job.StateCompleted)
	}

	if err := o.arbitration.SaveReview(ctx, jobID, candidates, clusters, divergences); err != nil {
		return job.Job{}, err
	}
	result := Result{
		Aggregation:   &agg,
		AllCandidates: candidates,
		Divergences:   divergences,
	}
	if err := o.persistResult(ctx, jobID, result); err != nil {
		return job.Job{}, err
	}
	return o.tracker.UpdateState(ctx, jobID, job.StateNeedsReview)
}

func (o *Orchestrator) persistResult(ctx context.Context, jobID string, result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal result")
	}
	if err := o.states.Set(ctx, store.ResultKey(jobID), raw, 0); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientStateStore, "failed to persist result")
	}
	return nil
}

// ReadResult loads a job's persisted Result, for the control surface's
// result(job_id) operation.
func (o *Orchestrator) ReadResult(ctx context.Context, jobID string) (Result, error) {
	raw, err := o.states.Get(ctx, store.ResultKey(jobID))
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "no result for job")
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "corrupt result record")
	}
	return result, nil
}

func (o *Orchestrator) fireWebhook(ctx context.Context, j job.Job) {
	if j.CallbackURL == "" || !job.IsTerminal(j.State) && j.State != job.StateNeedsReview {
		return
	}

	event, status := webhookEventFor(j.State)
	payload := webhook.Payload{
		Event:     event,
		JobID:     j.JobID,
		Timestamp: time.Now().UTC(),
		Data: webhook.Data{
			Status:      status,
			ResultURL:   fmt.Sprintf("/jobs/%s/result", j.JobID),
			DownloadURL: fmt.Sprintf("/jobs/%s/download?format=markdown", j.JobID),
			Summary:     webhook.Summary{ExtractionStrategy: string(j.Strategy)},
		},
	}

	err := o.dispatcher.Deliver(ctx, j.CallbackURL, payload)
	metrics.RecordWebhookDelivery(err == nil)
	if err != nil {
		o.logger.WithError(err).WithField("job_id", j.JobID).Warn("webhook delivery exhausted every attempt")
	}
}

func webhookEventFor(s job.State) (webhook.Event, string) {
	switch s {
	case job.StateCompleted:
		return webhook.EventCompleted, "COMPLETED"
	case job.StateFailed:
		return webhook.EventFailed, "FAILED"
	case job.StateTimeout:
		return webhook.EventTimeout, "TIMEOUT"
	case job.StateNeedsReview:
		return webhook.EventNeedsReview, "NEEDS_REVIEW"
	default:
		return webhook.EventCompleted, string(s)
	}
}

func orderedByPriority(pool []extractor.Extractor) []extractor.Extractor {
	out := make([]extractor.Extractor, len(pool))
	copy(out, pool)
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k].Priority() < out[k-1].Priority(); k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	return out
}

func anySuccess(candidates []job.CandidateExtraction) bool {
	for _, c := range candidates {
		if c.Success {
			return true
		}
	}
	return false
}

func successfulCandidates(candidates []job.CandidateExtraction) []job.CandidateExtraction {
	out := make([]job.CandidateExtraction, 0, len(candidates))
	for _, c := range candidates {
		if c.Success {
			out = append(out, c)
		}
	}
	return out
}

func normalizeCandidates(candidates []job.CandidateExtraction) []job.CandidateExtraction {
	out := make([]job.CandidateExtraction, len(candidates))
	for i, c := range candidates {
		c.Markdown = normalize.Canonicalize(c.Markdown)
		if len(c.Blocks) == 0 {
			c.Blocks = normalize.Segment(c.Markdown)
		}
		out[i] = c
	}
	return out
}

func hasHardDivergence(divergences []job.Divergence) bool {
	for _, d := range divergences {
		if !d.Soft {
			return true
		}
	}
	return false
}

func aggregationReport(candidates []job.CandidateExtraction) job.AggregationReport {
	successful := successfulCandidates(candidates)
	var sumConfidence float64
	var best job.CandidateExtraction
	for i, c := range successful {
		sumConfidence += c.Confidence
		if i == 0 || c.Confidence > best.Confidence {
			best = c
		}
	}
	avg := 0.0
	if len(successful) > 0 {
		avg = sumConfidence / float64(len(successful))
	}
	return job.AggregationReport{
		SuccessfulCount:   len(successful),
		ExtractorCount:    len(candidates),
		AverageConfidence: avg,
		SelectedExtractor: best.ExtractorName,
	}
}

// coerceComplexityReport recovers a job.ComplexityReport from the
// loosely-typed map[string]any a JSON-round-tripped Job.Metadata
// value produces.
func coerceComplexityReport(v any) (job.ComplexityReport, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return job.ComplexityReport{}, false
	}
	var report job.ComplexityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return job.ComplexityReport{}, false
	}
	return report, true
}

func coerceCandidates(v any) ([]job.CandidateExtraction, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var candidates []job.CandidateExtraction
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}
