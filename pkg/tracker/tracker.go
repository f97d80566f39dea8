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

// Package tracker owns every write to a Job record (spec.md §4.9). All
// mutations are an atomic compare-and-swap over the StateStore, so two
// workers racing on a stale read retry rather than clobber each other,
// and the state machine can never regress.
package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	apperrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/store"
)

// maxCASRetries bounds the retry loop a TRANSIENT_STATE_STORE error
// gets (spec.md §7): the first attempt plus three retries, then give up
// and surface it.
const maxCASRetries = 3

// Tracker mutates Job records through JobKey-addressed CAS loops.
type Tracker struct {
	states store.StateStore
	logger *logrus.Entry
}

func New(states store.StateStore, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{states: states, logger: logger.WithField("component", "job_tracker")}
}

// Create persists a brand-new job at PENDING/progress=0.
func (t *Tracker) Create(ctx context.Context, j job.Job) error {
	j.State = job.StatePending
	j.ProgressPct = job.ProgressFor(job.StatePending)
	now := j.CreatedAt
	if now.IsZero() {
		return apperrors.New(apperrors.ErrorTypeValidation, "job.CreatedAt must be set by caller")
	}
	j.UpdatedAt = now

	raw, err := json.Marshal(j)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal job record")
	}
	if err := t.states.CAS(ctx, store.JobKey(j.JobID), nil, raw, 0); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeConflict, "job already exists")
	}
	return nil
}

// Read loads the current job record.
func (t *Tracker) Read(ctx context.Context, jobID string) (job.Job, error) {
	raw, err := t.states.Get(ctx, store.JobKey(jobID))
	if err != nil {
		return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "job not found")
	}
	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return job.Job{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "corrupt job record")
	}
	return j, nil
}

// mutate loads the job, applies fn, and CASes the result back in,
// retrying on ErrCASConflict up to maxCASRetries times. fn returning
// an error aborts the mutation without writing anything.
func (t *Tracker) mutate(ctx context.Context, jobID string, fn func(j *job.Job) error) (job.Job, error) {
	var result job.Job
	backoff := retry.WithMaxRetries(maxCASRetries, retry.NewConstant(10*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		raw, err := t.states.Get(ctx, store.JobKey(jobID))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "job not found")
		}
		var current job.Job
		if err := json.Unmarshal(raw, &current); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "corrupt job record")
		}

		if err := fn(&current); err != nil {
			return err
		}

		newRaw, err := json.Marshal(current)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal job record")
		}

		if err := t.states.CAS(ctx, store.JobKey(jobID), raw, newRaw, 0); err != nil {
			if err == store.ErrCASConflict {
				return retry.RetryableError(apperrors.Wrap(err, apperrors.ErrorTypeTransientStateStore, "CAS conflict, retrying"))
			}
			return apperrors.Wrap(err, apperrors.ErrorTypeTransientStateStore, "failed to persist job record")
		}
		result = current
		return nil
	})

	return result, err
}

// UpdateState transitions the job to newState, rejecting any edge not
// present in job.CanTransition. Progress is bumped to the new state's
// waypoint in the same CAS (spec.md §4.8 "Progress policy").
func (t *Tracker) UpdateState(ctx context.Context, jobID string, newState job.State) (job.Job, error) {
	return t.mutate(ctx, jobID, func(j *job.Job) error {
		if !job.CanTransition(j.State, newState) {
			return apperrors.New(apperrors.ErrorTypeConflict, "illegal job state transition").
				WithDetailsf("from=%s to=%s", j.State, newState)
		}
		j.State = newState
		bumpProgress(j, job.ProgressFor(newState))
		if job.IsTerminal(newState) {
			now := timeNow()
			j.TerminalAt = &now
		}
		j.UpdatedAt = timeNow()
		return nil
	})
}

// UpdateProgress advances progress_pct, clamped to never regress
// (spec.md §3 invariant: "progress_pct only increases").
func (t *Tracker) UpdateProgress(ctx context.Context, jobID string, pct int) (job.Job, error) {
	return t.mutate(ctx, jobID, func(j *job.Job) error {
		bumpProgress(j, pct)
		j.UpdatedAt = timeNow()
		return nil
	})
}

// SetMetadata merges entries into the job's metadata map without
// touching state or progress (used by the orchestrator for resource
// gate downgrades, the complexity report, strategy and candidates).
func (t *Tracker) SetMetadata(ctx context.Context, jobID string, entries map[string]any) (job.Job, error) {
	return t.mutate(ctx, jobID, func(j *job.Job) error {
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(entries))
		}
		for k, v := range entries {
			j.Metadata[k] = v
		}
		j.UpdatedAt = timeNow()
		return nil
	})
}

// SetError records last_error without mutating state; the caller
// still drives the follow-up UpdateState(FAILED) transition.
func (t *Tracker) SetError(ctx context.Context, jobID string, errRec job.ErrorRecord) (job.Job, error) {
	return t.mutate(ctx, jobID, func(j *job.Job) error {
		j.LastError = &errRec
		j.UpdatedAt = timeNow()
		return nil
	})
}

// bumpProgress enforces monotonicity in-place: a lower value is
// silently ignored rather than erroring, since callers racing a
// waypoint bump and a sub-progress update both mean well.
func bumpProgress(j *job.Job, pct int) {
	if pct > j.ProgressPct {
		j.ProgressPct = pct
	}
}

// timeNow is the package's sole time source, isolated so tests can
// observe it without reaching into mutate's retry loop.
var timeNow = func() time.Time { return time.Now().UTC() }

// jobKeyPrefix is store.JobKey's constant prefix; the sweeper lists by
// it rather than importing fmt.Sprintf's format string a second time.
const jobKeyPrefix = "job:"

// RunRetentionSweep deletes every terminal job record past its
// retention window: successDays for COMPLETED, failedDays for FAILED
// and TIMEOUT (spec.md §3 Lifecycle, "destroyed by a background
// retention sweeper"). It returns the number of records deleted.
func (t *Tracker) RunRetentionSweep(ctx context.Context, successDays, failedDays int) (int, error) {
	keys, err := t.states.Keys(ctx, jobKeyPrefix)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeTransientStateStore, "failed to list job keys for retention sweep")
	}

	now := timeNow()
	deleted := 0
	for _, key := range keys {
		raw, err := t.states.Get(ctx, key)
		if err != nil {
			continue
		}
		var j job.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			t.logger.WithField("key", key).WithError(err).Warn("skipping corrupt job record during retention sweep")
			continue
		}
		if j.TerminalAt == nil {
			continue
		}
		if !pastRetention(j, now, successDays, failedDays) {
			continue
		}
		if err := t.states.Delete(ctx, key); err != nil {
			t.logger.WithField("key", key).WithError(err).Warn("failed to delete job record past retention")
			continue
		}
		deleted++
	}
	return deleted, nil
}

func pastRetention(j job.Job, now time.Time, successDays, failedDays int) bool {
	days := failedDays
	if j.State == job.StateCompleted {
		days = successDays
	}
	return now.Sub(*j.TerminalAt) > time.Duration(days)*24*time.Hour
}

// StartRetentionSweeper runs RunRetentionSweep on interval until ctx is
// canceled. cmd/api launches it in its own goroutine; a sweep failure
// is logged and never stops the loop.
func (t *Tracker) StartRetentionSweeper(ctx context.Context, interval time.Duration, successDays, failedDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := t.RunRetentionSweep(ctx, successDays, failedDays)
			if err != nil {
				t.logger.WithError(err).Warn("retention sweep failed")
				continue
			}
			if deleted > 0 {
				t.logger.WithField("deleted", deleted).Info("retention sweep removed expired job records")
			}
		}
	}
}
