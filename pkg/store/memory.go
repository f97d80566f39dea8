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

package store

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStateStore is an in-process StateStore, used for tests and
// single-process deployments. Last-writer-wins on a lock conflict is
// fine here: the mutex serializes every operation.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStateStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

func (s *MemoryStateStore) CAS(_ context.Context, key string, expected, newValue []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	present := ok && !e.expired(time.Now())

	switch {
	case expected == nil && present:
		return ErrCASConflict
	case expected != nil && !present:
		return ErrCASConflict
	case expected != nil && present && !bytes.Equal(e.value, expected):
		return ErrCASConflict
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = memoryEntry{value: append([]byte(nil), newValue...), expiresAt: expiresAt}
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStateStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// memoryQueueItem is a message in flight: either waiting in the queue
// or checked out under an ack handle.
type memoryQueueItem struct {
	payload []byte
	handle  string
}

// MemoryQueue is an in-process at-least-once Queue. A checked-out item
// that is never acked or nacked is redelivered after visibilityTimeout,
// mirroring the Redis/SQS-style visibility-timeout contract.
type MemoryQueue struct {
	mu                sync.Mutex
	cond              *sync.Cond
	pending           []memoryQueueItem
	inFlight          map[string]memoryQueueItem
	visibilityTimeout time.Duration
}

func NewMemoryQueue(visibilityTimeout time.Duration) *MemoryQueue {
	q := &MemoryQueue{
		inFlight:          make(map[string]memoryQueueItem),
		visibilityTimeout: visibilityTimeout,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, memoryQueueItem{payload: append([]byte(nil), payload...)})
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) ([]byte, string, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		close(done)
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		q.cond.Wait()
	}

	item := q.pending[0]
	q.pending = q.pending[1:]
	item.handle = uuid.NewString()
	q.inFlight[item.handle] = item

	handle := item.handle
	go q.redeliverIfUnacked(handle)

	return item.payload, handle, nil
}

func (q *MemoryQueue) redeliverIfUnacked(handle string) {
	time.Sleep(q.visibilityTimeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inFlight[handle]
	if !ok {
		return
	}
	delete(q.inFlight, handle)
	q.pending = append(q.pending, memoryQueueItem{payload: item.payload})
	q.cond.Signal()
}

func (q *MemoryQueue) Ack(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, handle)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inFlight[handle]
	if !ok {
		return nil
	}
	delete(q.inFlight, handle)
	q.pending = append(q.pending, memoryQueueItem{payload: item.payload})
	q.cond.Signal()
	return nil
}
