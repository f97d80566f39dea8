package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/store"
)

var _ = Describe("MemoryStateStore", func() {
	var (
		ctx context.Context
		s   *store.MemoryStateStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemoryStateStore()
	})

	Describe("Get/Set", func() {
		It("returns ErrNotFound for a missing key", func() {
			_, err := s.Get(ctx, "missing")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("round-trips a value with no TTL", func() {
			Expect(s.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
			v, err := s.Get(ctx, "k")
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte("v")))
		})

		It("expires a value after its TTL elapses", func() {
			Expect(s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)).To(Succeed())
			Eventually(func() error {
				_, err := s.Get(ctx, "k")
				return err
			}, "200ms", "5ms").Should(MatchError(store.ErrNotFound))
		})
	})

	Describe("CAS", func() {
		It("succeeds creating a new key when expected is nil", func() {
			Expect(s.CAS(ctx, "k", nil, []byte("v1"), 0)).To(Succeed())
			v, _ := s.Get(ctx, "k")
			Expect(v).To(Equal([]byte("v1")))
		})

		It("conflicts creating a key that already exists", func() {
			Expect(s.CAS(ctx, "k", nil, []byte("v1"), 0)).To(Succeed())
			err := s.CAS(ctx, "k", nil, []byte("v2"), 0)
			Expect(err).To(MatchError(store.ErrCASConflict))
		})

		It("conflicts updating a key that doesn't exist", func() {
			err := s.CAS(ctx, "k", []byte("v1"), []byte("v2"), 0)
			Expect(err).To(MatchError(store.ErrCASConflict))
		})

		It("conflicts when the stored value doesn't match expected", func() {
			Expect(s.Set(ctx, "k", []byte("v1"), 0)).To(Succeed())
			err := s.CAS(ctx, "k", []byte("wrong"), []byte("v2"), 0)
			Expect(err).To(MatchError(store.ErrCASConflict))
			v, _ := s.Get(ctx, "k")
			Expect(v).To(Equal([]byte("v1")), "value must be untouched on conflict")
		})

		It("succeeds updating a key when expected matches", func() {
			Expect(s.Set(ctx, "k", []byte("v1"), 0)).To(Succeed())
			Expect(s.CAS(ctx, "k", []byte("v1"), []byte("v2"), 0)).To(Succeed())
			v, _ := s.Get(ctx, "k")
			Expect(v).To(Equal([]byte("v2")))
		})
	})

	Describe("Delete", func() {
		It("removes a key", func() {
			Expect(s.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
			Expect(s.Delete(ctx, "k")).To(Succeed())
			_, err := s.Get(ctx, "k")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("is a no-op on an absent key", func() {
			Expect(s.Delete(ctx, "missing")).To(Succeed())
		})
	})

	Describe("Keys", func() {
		It("lists only live keys sharing the prefix", func() {
			Expect(s.Set(ctx, "job:1", []byte("a"), 0)).To(Succeed())
			Expect(s.Set(ctx, "job:2", []byte("b"), 0)).To(Succeed())
			Expect(s.Set(ctx, "complexity:1", []byte("c"), 0)).To(Succeed())
			Expect(s.Set(ctx, "job:3", []byte("d"), time.Millisecond)).To(Succeed())

			Eventually(func() ([]string, error) {
				return s.Keys(ctx, "job:")
			}, "200ms", "5ms").Should(ConsistOf("job:1", "job:2"))
		})
	})
})

var _ = Describe("MemoryQueue", func() {
	var (
		ctx context.Context
		q   *store.MemoryQueue
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = store.NewMemoryQueue(50 * time.Millisecond)
	})

	It("delivers an enqueued payload on Dequeue", func() {
		Expect(q.Enqueue(ctx, []byte("task-1"))).To(Succeed())

		payload, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task-1")))
		Expect(handle).ToNot(BeEmpty())
	})

	It("blocks until a payload is enqueued", func() {
		type result struct {
			payload []byte
			err     error
		}
		done := make(chan result, 1)
		go func() {
			p, _, err := q.Dequeue(ctx)
			done <- result{p, err}
		}()

		Consistently(done, "30ms").ShouldNot(Receive())
		Expect(q.Enqueue(ctx, []byte("late-task"))).To(Succeed())

		var r result
		Eventually(done, "200ms").Should(Receive(&r))
		Expect(r.err).ToNot(HaveOccurred())
		Expect(r.payload).To(Equal([]byte("late-task")))
	})

	It("does not redeliver an acked message", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(q.Ack(ctx, handle)).To(Succeed())

		Consistently(func() bool {
			cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, _, err := q.Dequeue(cctx)
			return err != nil
		}, "150ms", "20ms").Should(BeTrue())
	})

	It("redelivers a message whose visibility timeout elapses unacked", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, _, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())

		payload, _, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task")))
	})

	It("immediately redelivers a nacked message", func() {
		Expect(q.Enqueue(ctx, []byte("task"))).To(Succeed())
		_, handle, err := q.Dequeue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(q.Nack(ctx, handle)).To(Succeed())

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		payload, _, err := q.Dequeue(cctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("task")))
	})

	It("respects context cancellation while blocked", func() {
		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, _, err := q.Dequeue(cctx)
			errCh <- err
		}()
		cancel()
		Eventually(errCh, "200ms").Should(Receive(Equal(context.Canceled)))
	})
})
