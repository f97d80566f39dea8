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

// Package store defines the abstract durable key-value StateStore and
// the at-least-once delivery Queue the coordination core is built on
// top of (spec.md §6), plus concrete Redis, Postgres, and in-memory
// implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// ErrCASConflict is returned by CAS when the stored value didn't match
// expected at the moment of the compare-and-swap.
var ErrCASConflict = errors.New("store: compare-and-swap conflict")

// StateStore is a durable key-value store with TTL and atomic
// compare-and-swap, the sole shared mutable resource in the system
// (spec.md §5 "Shared state").
type StateStore interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value for key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// CAS atomically replaces expected with newValue at key. If the
	// stored value doesn't equal expected (including the key being
	// absent when expected is non-nil, or present when expected is
	// nil), it returns ErrCASConflict and leaves the store unchanged.
	CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all keys sharing prefix, for the retention sweeper.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Queue is an at-least-once task delivery channel between the API
// process and the worker pool (spec.md §6 Queue contract).
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	// Dequeue blocks (subject to ctx) until a payload is available, and
	// returns it along with an opaque ack handle. The caller must Ack
	// or Nack the handle; an un-acked message becomes redeliverable
	// after the queue's visibility timeout.
	Dequeue(ctx context.Context) (payload []byte, ackHandle string, err error)
	Ack(ctx context.Context, ackHandle string) error
	Nack(ctx context.Context, ackHandle string) error
}

// Key helpers, spec.md §6 StateStore contract.

func JobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ComplexityKey(contentHash string) string {
	return fmt.Sprintf("complexity:%s", contentHash)
}

func ArbitrationKey(jobID string) string {
	return fmt.Sprintf("arbitration:%s", jobID)
}

// ResultKey addresses a job's persisted result(job_id) payload. Not
// one of spec.md §6's three enumerated key families, but the same
// StateStore the job record itself lives in is the natural home for
// it: results, like jobs, are restart-safe data a worker must be able
// to rebuild from the store alone.
func ResultKey(jobID string) string {
	return fmt.Sprintf("result:%s", jobID)
}
