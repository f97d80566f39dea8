package store_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/docfusion/docfusion/pkg/store"
)

var _ = Describe("RedisStateStore", func() {
	var (
		ctx  context.Context
		mr   *miniredis.Miniredis
		rdb  *redis.Client
		s    *store.RedisStateStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s = store.NewRedisStateStore(rdb)
	})

	AfterEach(func() {
		rdb.Close()
		mr.Close()
	})

	It("returns ErrNotFound for a missing key", func() {
		_, err := s.Get(ctx, "missing")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("round-trips a value and honors TTL", func() {
		Expect(s.Set(ctx, "k", []byte("v"), time.Minute)).To(Succeed())
		v, err := s.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v")))

		mr.FastForward(2 * time.Minute)
		_, err = s.Get(ctx, "k")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	Describe("CAS", func() {
		It("creates a key when expected is nil", func() {
			Expect(s.CAS(ctx, "k", nil, []byte("v1"), 0)).To(Succeed())
			v, _ := s.Get(ctx, "k")
			Expect(v).To(Equal([]byte("v1")))
		})

		It("conflicts creating a key that already exists", func() {
			Expect(s.CAS(ctx, "k", nil, []byte("v1"), 0)).To(Succeed())
			Expect(s.CAS(ctx, "k", nil, []byte("v2"), 0)).To(MatchError(store.ErrCASConflict))
		})

		It("conflicts when expected doesn't match the stored value", func() {
			Expect(s.Set(ctx, "k", []byte("v1"), 0)).To(Succeed())
			Expect(s.CAS(ctx, "k", []byte("wrong"), []byte("v2"), 0)).To(MatchError(store.ErrCASConflict))
		})

		It("succeeds when expected matches", func() {
			Expect(s.Set(ctx, "k", []byte("v1"), 0)).To(Succeed())
			Expect(s.CAS(ctx, "k", []byte("v1"), []byte("v2"), 0)).To(Succeed())
			v, _ := s.Get(ctx, "k")
			Expect(v).To(Equal([]byte("v2")))
		})
	})

	It("deletes a key", func() {
		Expect(s.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
		Expect(s.Delete(ctx, "k")).To(Succeed())
		_, err := s.Get(ctx, "k")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("lists keys by prefix", func() {
		Expect(s.Set(ctx, "job:1", []byte("a"), 0)).To(Succeed())
		Expect(s.Set(ctx, "job:2", []byte("b"), 0)).To(Succeed())
		Expect(s.Set(ctx, "complexity:1", []byte("c"), 0)).To(Succeed())

		keys, err := s.Keys(ctx, "job:")
		Expect(err).ToNot(HaveOccurred())
		Expect(keys).To(ConsistOf("job:1", "job:2"))
	})
})

var _ = Describe("RedisQueue", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		rdb *redis.Client
		q   *store.RedisQueue
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		q = store.NewRedisQueue(rdb, "extraction", time.Minute)
	})

	AfterEach(func() {
		rdb.Close()
		mr.Close()
	})

	It("delivers an enqueued payload", func() {
		Expect(q.Enqueue(ctx, []byte("task-1"))).To(Succeed())
		payload, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task-1")))
		Expect(handle).ToNot(BeEmpty())
	})

	It("does not redeliver an acked message after a reap", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(q.Ack(ctx, handle)).To(Succeed())

		mr.FastForward(2 * time.Minute)
		Expect(q.ReapStale(ctx)).To(Succeed())

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, _, err = q.Dequeue(cctx)
		Expect(err).To(HaveOccurred())
	})

	It("requeues a nacked message for redelivery", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(q.Nack(ctx, handle)).To(Succeed())

		payload, _, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task")))
	})

	It("reaps a stale in-flight message back to pending", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, _, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())

		mr.FastForward(2 * time.Minute)
		Expect(q.ReapStale(ctx)).To(Succeed())

		payload, _, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task")))
	})
})
