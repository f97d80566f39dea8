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

// Package webhook delivers terminal job events to a job's callback_url
// with bounded retry and backoff (spec.md §4.10). A delivery failure is
// returned to the caller, which logs it; it is not written to the job
// record and never moves the job out of a terminal state, mirroring the teacher's notification/delivery RetryableError shape:
// only a delivery attempt itself is retryable, never the job's state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Event is the terminal-event name in the webhook payload (spec.md §6).
type Event string

const (
	EventCompleted   Event = "extraction.completed"
	EventFailed      Event = "extraction.failed"
	EventNeedsReview Event = "extraction.needs_review"
	EventTimeout     Event = "extraction.timeout"
)

// Summary is the per-job rollup included in every webhook payload.
type Summary struct {
	Pages              int      `json:"pages"`
	Tables             int      `json:"tables"`
	Images             int      `json:"images"`
	Confidence         float64  `json:"confidence"`
	ExtractionStrategy string   `json:"extraction_strategy"`
	ExtractorsUsed     []string `json:"extractors_used"`
}

// Data is the payload's inner "data" object.
type Data struct {
	Status      string  `json:"status"`
	DownloadURL string  `json:"download_url,omitempty"`
	ResultURL   string  `json:"result_url,omitempty"`
	Summary     Summary `json:"summary"`
}

// Payload is the full JSON body POSTed to callback_url.
type Payload struct {
	Event     Event     `json:"event"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// RetryableError marks a delivery failure as worth retrying (a
// transport error or non-2xx status), as opposed to a caller bug like
// an empty callback URL.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("webhook delivery failed, retryable: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// Dispatcher delivers Payloads over HTTP with a fixed backoff
// schedule: an initial attempt, then up to one retry per delay (5s,
// 10s, 20s by default, so four attempts in all) (spec.md §4.10 and the
// Open Question in spec.md §9 resolving to exponential backoff).
type Dispatcher struct {
	Client      *http.Client
	RetryDelays []time.Duration
	logger      *logrus.Entry
}

// DefaultRetryDelays is spec.md §4.10's documented schedule.
func DefaultRetryDelays() []time.Duration {
	return []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
}

func New(client *http.Client, retryDelays []time.Duration, logger *logrus.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if len(retryDelays) == 0 {
		retryDelays = DefaultRetryDelays()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{Client: client, RetryDelays: retryDelays, logger: logger.WithField("component", "webhook_dispatcher")}
}

// Deliver POSTs payload to callbackURL, retrying on transport errors
// or a non-2xx response per Dispatcher's backoff schedule. It returns
// nil the first time any attempt sees a 2xx; it returns the last
// error after every attempt is exhausted.
func (d *Dispatcher) Deliver(ctx context.Context, callbackURL string, payload Payload) error {
	if callbackURL == "" {
		return fmt.Errorf("webhook: empty callback URL")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	attempt := 0
	var lastErr error
	operation := func() (struct{}, error) {
		attempt++
		err := d.send(ctx, callbackURL, body)
		if err != nil {
			lastErr = err
			d.logger.WithFields(logrus.Fields{
				"job_id":  payload.JobID,
				"event":   payload.Event,
				"attempt": attempt,
			}).WithError(err).Warn("webhook delivery attempt failed")
			return struct{}{}, backoff.RetryAfter(int(d.delayFor(attempt).Seconds()))
		}
		return struct{}{}, nil
	}

	// Each failed attempt requests its own delay via backoff.RetryAfter
	// (spec.md §4.10's fixed 5s/10s/20s schedule), so no BackOff curve
	// is needed here; WithMaxTries caps at one initial attempt plus one
	// retry per configured delay.
	_, err = backoff.Retry(ctx, operation, backoff.WithMaxTries(uint(len(d.RetryDelays)+1)))
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		return &RetryableError{Cause: err}
	}
	return nil
}

func (d *Dispatcher) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.RetryDelays) {
		idx = len(d.RetryDelays) - 1
	}
	return d.RetryDelays[idx]
}

func (d *Dispatcher) send(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
