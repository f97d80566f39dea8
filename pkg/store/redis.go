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
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// casScript atomically compares the value at KEYS[1] against ARGV[1]
// (ARGV[3] == "1" means "expect absent") and, if
// it matches, sets it to ARGV[2] with TTL ARGV[4] (seconds, 0 = none).
// Returns 1 on success, 0 on conflict.
var casScript = redis.NewScript(`
local expectAbsent = ARGV[3]
local current = redis.call('GET', KEYS[1])
if expectAbsent == '1' then
	if current then
		return 0
	end
else
	if current == false or current ~= ARGV[1] then
		return 0
	end
end
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[4])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisStateStore is a StateStore backed by Redis, the durable store
// the worker pool shares across process restarts.
type RedisStateStore struct {
	client redis.UniversalClient
}

func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStateStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStateStore) CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) error {
	expectAbsent := "0"
	expectedStr := ""
	if expected == nil {
		expectAbsent = "1"
	} else {
		expectedStr = string(expected)
	}
	ttlSeconds := int64(0)
	if ttl > 0 {
		ttlSeconds = int64(ttl.Seconds())
		if ttlSeconds == 0 {
			ttlSeconds = 1
		}
	}

	result, err := casScript.Run(ctx, s.client, []string{key}, expectedStr, string(newValue), expectAbsent, ttlSeconds).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrCASConflict
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStateStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// RedisQueue implements the reliable-queue pattern: Dequeue moves a
// payload from the pending list to a processing list atomically
// (BRPOPLPUSH/LMOVE) and records the handoff time in a sorted set so a
// background reaper can requeue entries that outlive the visibility
// timeout without ever having been acked.
type RedisQueue struct {
	client            redis.UniversalClient
	pendingKey        string
	processingKey     string
	processingTimesKey string
	visibilityTimeout time.Duration
}

func NewRedisQueue(client redis.UniversalClient, name string, visibilityTimeout time.Duration) *RedisQueue {
	return &RedisQueue{
		client:             client,
		pendingKey:         "queue:" + name + ":pending",
		processingKey:      "queue:" + name + ":processing",
		processingTimesKey: "queue:" + name + ":processing_times",
		visibilityTimeout:  visibilityTimeout,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	return q.client.LPush(ctx, q.pendingKey, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) ([]byte, string, error) {
	payload, err := q.client.BRPopLPush(ctx, q.pendingKey, q.processingKey, 0).Bytes()
	if err != nil {
		return nil, "", err
	}
	handle := uuid.NewString()
	if err := q.client.ZAdd(ctx, q.processingTimesKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: handle,
	}).Err(); err != nil {
		return nil, "", err
	}
	// The handle tracks which logical delivery this payload belongs to;
	// the payload itself stays keyed by value in the processing list so
	// Ack can remove the exact element.
	if err := q.client.HSet(ctx, "queue:handles:"+handle, "payload", payload).Err(); err != nil {
		return nil, "", err
	}
	return payload, handle, nil
}

func (q *RedisQueue) Ack(ctx context.Context, handle string) error {
	payload, err := q.client.HGet(ctx, "queue:handles:"+handle, "payload").Bytes()
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, payload)
	pipe.ZRem(ctx, q.processingTimesKey, handle)
	pipe.Del(ctx, "queue:handles:"+handle)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Nack(ctx context.Context, handle string) error {
	payload, err := q.client.HGet(ctx, "queue:handles:"+handle, "payload").Bytes()
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, payload)
	pipe.LPush(ctx, q.pendingKey, payload)
	pipe.ZRem(ctx, q.processingTimesKey, handle)
	pipe.Del(ctx, "queue:handles:"+handle)
	_, err = pipe.Exec(ctx)
	return err
}

// ReapStale requeues in-flight deliveries whose visibility timeout has
// elapsed without an ack. Meant to run on a ticker in the worker pool.
func (q *RedisQueue) ReapStale(ctx context.Context) error {
	cutoff := float64(time.Now().Add(-q.visibilityTimeout).Unix())
	stale, err := q.client.ZRangeByScore(ctx, q.processingTimesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(cutoff, 'f', -1, 64),
	}).Result()
	if err != nil {
		return err
	}
	for _, handle := range stale {
		if err := q.Nack(ctx, handle); err != nil {
			return err
		}
	}
	return nil
}
