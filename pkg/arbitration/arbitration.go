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

// Package arbitration closes out a NEEDS_REVIEW job by accepting
// human choices for every outstanding divergence, re-running Merger
// under the MANUAL policy, and transitioning the job to COMPLETED
// (spec.md §4.11). Arbitration state is a one-shot mailbox, a single
// row per job in the StateStore, per spec.md §9's design notes; the
// service never keeps it in memory between calls.
package arbitration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/pkg/compare"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/merge"
	"github.com/docfusion/docfusion/pkg/store"
	"github.com/docfusion/docfusion/pkg/tracker"
	"github.com/docfusion/docfusion/pkg/webhook"
)

// Choice is one human-submitted resolution, as accepted by the
// control surface's arbitrate(job_id, choices[]) operation.
type Choice struct {
	DivergenceID string `json:"divergence_id"`
	Choice       string `json:"choice"` // A | B | C | manual
	Content      string `json:"content,omitempty"`
}

// review is the persisted mailbox row: everything the arbitration
// endpoint needs to re-run Merger without touching the comparator
// again.
type review struct {
	Candidates  []job.CandidateExtraction `json:"candidates"`
	Clusters    []compare.Cluster         `json:"clusters"`
	Divergences []job.Divergence          `json:"divergences"`
}

// Service implements the human arbitration protocol.
type Service struct {
	states     store.StateStore
	tracker    *tracker.Tracker
	merger     *merge.Merger
	dispatcher *webhook.Dispatcher
	logger     *logrus.Entry
}

func New(states store.StateStore, tr *tracker.Tracker, merger *merge.Merger, dispatcher *webhook.Dispatcher, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{states: states, tracker: tr, merger: merger, dispatcher: dispatcher, logger: logger.WithField("component", "arbitration_service")}
}

// result mirrors orchestrator.Result's JSON shape so Arbitrate can
// patch the Markdown/Metadata the orchestrator already persisted
// before NEEDS_REVIEW without importing pkg/orchestrator (which
// already imports pkg/arbitration).
type result struct {
	Markdown      string                    `json:"markdown"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
	Complexity    job.ComplexityReport      `json:"complexity"`
	Aggregation   *job.AggregationReport    `json:"aggregation,omitempty"`
	AllCandidates []job.CandidateExtraction `json:"all_candidates,omitempty"`
	Divergences   []job.Divergence          `json:"divergences,omitempty"`
}

// SaveReview persists the divergence set a NEEDS_REVIEW job is
// waiting on, so Arbitrate can later re-run Merger without re-deriving
// candidates and clusters from scratch.
func (s *Service) SaveReview(ctx context.Context, jobID string, candidates []job.CandidateExtraction, clusters []compare.Cluster, divergences []job.Divergence) error {
	raw, err := json.Marshal(review{Candidates: candidates, Clusters: clusters, Divergences: divergences})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal arbitration mailbox")
	}
	return s.states.Set(ctx, store.ArbitrationKey(jobID), raw, 0)
}

// Review returns the divergence set outstanding for a NEEDS_REVIEW
// job, for the control surface's review(job_id) operation.
func (s *Service) Review(ctx context.Context, jobID string) ([]job.Divergence, error) {
	r, err := s.loadReview(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.Divergences, nil
}

func (s *Service) loadReview(ctx context.Context, jobID string) (review, error) {
	raw, err := s.states.Get(ctx, store.ArbitrationKey(jobID))
	if err != nil {
		return review{}, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "no arbitration mailbox for job")
	}
	var r review
	if err := json.Unmarshal(raw, &r); err != nil {
		return review{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "corrupt arbitration mailbox")
	}
	return r, nil
}

// Arbitrate validates the job is NEEDS_REVIEW and that choices cover
// every outstanding divergence, re-runs Merger under MANUAL, persists
// the merged result, and transitions the job to COMPLETED.
func (s *Service) Arbitrate(ctx context.Context, jobID string, choices []Choice) (job.MergedDocument, error) {
	j, err := s.tracker.Read(ctx, jobID)
	if err != nil {
		return job.MergedDocument{}, err
	}
	if j.State != job.StateNeedsReview {
		return job.MergedDocument{}, apperrors.New(apperrors.ErrorTypeConflict, "job is not awaiting arbitration").
			WithDetailsf("state=%s", j.State)
	}

	r, err := s.loadReview(ctx, jobID)
	if err != nil {
		return job.MergedDocument{}, err
	}

	if err := validateCoverage(r.Divergences, choices); err != nil {
		return job.MergedDocument{}, err
	}

	manualChoices := make(map[string]merge.ManualChoice, len(choices))
	for _, c := range choices {
		manualChoices[c.DivergenceID] = merge.ManualChoice{DivergenceID: c.DivergenceID, Choice: c.Choice, Content: c.Content}
	}

	merged := s.merger.Merge(r.Candidates, r.Clusters, r.Divergences, merge.PolicyManual, manualChoices)
	if merged.NeedsReview {
		return merged, apperrors.New(apperrors.ErrorTypeMergeUnresolved, "choices did not resolve every divergence").
			WithDetailsf("unresolved=%v", merged.UnresolvedIDs)
	}

	if err := s.persistMerged(ctx, jobID, merged); err != nil {
		return job.MergedDocument{}, err
	}

	if _, err := s.tracker.UpdateState(ctx, jobID, job.StateArbitrated); err != nil {
		return job.MergedDocument{}, err
	}
	final, err := s.tracker.UpdateState(ctx, jobID, job.StateCompleted)
	if err != nil {
		return job.MergedDocument{}, err
	}

	_ = s.states.Delete(ctx, store.ArbitrationKey(jobID))

	s.logger.WithField("job_id", jobID).Info("arbitration resolved job to COMPLETED")
	s.fireWebhook(ctx, final)
	return merged, nil
}

// persistMerged writes the arbitrated MergedDocument's markdown and
// metadata into the same store.ResultKey record the orchestrator wrote
// before NEEDS_REVIEW, so result(job_id) and download(job_id) return
// the final document once the job is COMPLETED (spec.md §4.11 "writes
// the merged result").
func (s *Service) persistMerged(ctx context.Context, jobID string, merged job.MergedDocument) error {
	var rec result
	if raw, err := s.states.Get(ctx, store.ResultKey(jobID)); err == nil {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "corrupt result record")
		}
	}

	rec.Markdown = merged.Markdown
	rec.Metadata = merged.Metadata

	raw, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal result")
	}
	if err := s.states.Set(ctx, store.ResultKey(jobID), raw, 0); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientStateStore, "failed to persist arbitrated result")
	}
	return nil
}

// fireWebhook delivers the extraction.completed event for a job
// arbitrated to COMPLETED, mirroring the orchestrator's own terminal
// notification (spec.md §4.11 "... and fires the webhook").
func (s *Service) fireWebhook(ctx context.Context, j job.Job) {
	if j.CallbackURL == "" || s.dispatcher == nil {
		return
	}
	payload := webhook.Payload{
		Event:     webhook.EventCompleted,
		JobID:     j.JobID,
		Timestamp: time.Now().UTC(),
		Data: webhook.Data{
			Status:      "COMPLETED",
			ResultURL:   fmt.Sprintf("/jobs/%s/result", j.JobID),
			DownloadURL: fmt.Sprintf("/jobs/%s/download?format=markdown", j.JobID),
			Summary:     webhook.Summary{ExtractionStrategy: string(j.Strategy)},
		},
	}
	if err := s.dispatcher.Deliver(ctx, j.CallbackURL, payload); err != nil {
		s.logger.WithError(err).WithField("job_id", j.JobID).Warn("webhook delivery exhausted every attempt")
	}
}

// validateCoverage reports an error unless choices covers every
// divergence ID in divergences, each choice is A, B, C or manual, and
// every manual choice carries content. Duplicate or unknown IDs are
// not rejected; the last choice given for an ID wins.
func validateCoverage(divergences []job.Divergence, choices []Choice) error {
	byID := make(map[string]Choice, len(choices))
	for _, c := range choices {
		byID[c.DivergenceID] = c
	}

	var missing []string
	for _, d := range divergences {
		if _, ok := byID[d.ID]; !ok {
			missing = append(missing, d.ID)
		}
	}
	if len(missing) > 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "arbitration choices do not cover every outstanding divergence").
			WithDetailsf("missing=%v", missing)
	}

	for _, c := range choices {
		if c.Choice != "A" && c.Choice != "B" && c.Choice != "C" && c.Choice != "manual" {
			return apperrors.New(apperrors.ErrorTypeValidation, fmt.Sprintf("invalid choice %q for divergence %s", c.Choice, c.DivergenceID))
		}
		if c.Choice == "manual" && c.Content == "" {
			return apperrors.New(apperrors.ErrorTypeValidation, fmt.Sprintf("manual choice for divergence %s requires content", c.DivergenceID))
		}
	}
	return nil
}
