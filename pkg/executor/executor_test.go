package executor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/executor"
	"github.com/docfusion/docfusion/pkg/extractor"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/registry"
)

type scriptedExtractor struct {
	name     string
	priority int
	delay    time.Duration
	fail     bool
}

func (s *scriptedExtractor) Name() string    { return s.name }
func (s *scriptedExtractor) Version() string { return "test" }
func (s *scriptedExtractor) Priority() int   { return s.priority }
func (s *scriptedExtractor) IsAvailable() bool { return true }
func (s *scriptedExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{}
}

func (s *scriptedExtractor) Extract(ctx context.Context, _ string, _ job.Options) (job.CandidateExtraction, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return job.CandidateExtraction{}, ctx.Err()
	}
	if s.fail {
		return job.CandidateExtraction{ExtractorName: s.name, Success: false, ErrorKind: "extractor_error"}, nil
	}
	return job.CandidateExtraction{ExtractorName: s.name, Success: true, Confidence: 0.9, Priority: s.priority}, nil
}

// concurrencyTrackingExtractor records the maximum number of
// simultaneously in-flight calls observed across all instances that
// share the same counters.
type concurrencyTrackingExtractor struct {
	name       string
	priority   int
	inFlight   *int32
	maxSeen    *int32
	hold       time.Duration
}

func (c *concurrencyTrackingExtractor) Name() string      { return c.name }
func (c *concurrencyTrackingExtractor) Version() string   { return "test" }
func (c *concurrencyTrackingExtractor) Priority() int     { return c.priority }
func (c *concurrencyTrackingExtractor) IsAvailable() bool { return true }
func (c *concurrencyTrackingExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{}
}

func (c *concurrencyTrackingExtractor) Extract(ctx context.Context, _ string, _ job.Options) (job.CandidateExtraction, error) {
	current := atomic.AddInt32(c.inFlight, 1)
	defer atomic.AddInt32(c.inFlight, -1)

	for {
		seen := atomic.LoadInt32(c.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(c.maxSeen, seen, current) {
			break
		}
	}

	time.Sleep(c.hold)
	return job.CandidateExtraction{ExtractorName: c.name, Success: true}, nil
}

var _ = Describe("Executor", func() {
	It("runs all extractors to completion and returns every outcome", func() {
		exec := executor.New(3, time.Second)
		extractors := []extractor.Extractor{
			&scriptedExtractor{name: "a", priority: 1},
			&scriptedExtractor{name: "b", priority: 2},
			&scriptedExtractor{name: "c", priority: 3, fail: true},
		}

		outcomes := exec.Run(context.Background(), extractors, "/tmp/doc.pdf", job.Options{})
		Expect(outcomes).To(HaveLen(3))

		names := make([]string, len(outcomes))
		for i, o := range outcomes {
			names[i] = o.ExtractorName
		}
		Expect(names).To(Equal([]string{"a", "b", "c"}), "outcomes are returned in stable priority order")
		Expect(outcomes[2].Candidate.Success).To(BeFalse())
	})

	It("does not cancel sibling tasks when one fails", func() {
		exec := executor.New(3, time.Second)
		extractors := []extractor.Extractor{
			&scriptedExtractor{name: "fails-fast", priority: 1, fail: true},
			&scriptedExtractor{name: "slow-success", priority: 2, delay: 30 * time.Millisecond},
		}

		outcomes := exec.Run(context.Background(), extractors, "/tmp/doc.pdf", job.Options{})
		Expect(outcomes[1].Candidate.Success).To(BeTrue(), "a sibling's failure must not abort an in-flight task")
	})

	It("marks a task TimedOut when it exceeds PerTaskTimeout", func() {
		exec := executor.New(3, 10*time.Millisecond)
		extractors := []extractor.Extractor{
			&scriptedExtractor{name: "slow", priority: 1, delay: 100 * time.Millisecond},
		}

		outcomes := exec.Run(context.Background(), extractors, "/tmp/doc.pdf", job.Options{})
		Expect(outcomes[0].TimedOut).To(BeTrue())
	})

	It("never exceeds MaxConcurrent in-flight tasks", func() {
		var inFlight, maxSeen int32
		exec := executor.New(2, time.Second)

		extractors := make([]extractor.Extractor, 0, 5)
		for i := 0; i < 5; i++ {
			extractors = append(extractors, &concurrencyTrackingExtractor{
				name: string(rune('a' + i)), priority: i, inFlight: &inFlight, maxSeen: &maxSeen, hold: 20 * time.Millisecond,
			})
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.Run(context.Background(), extractors, "/tmp/doc.pdf", job.Options{})
		}()
		wg.Wait()

		Expect(int(atomic.LoadInt32(&maxSeen))).To(BeNumerically("<=", 2))
	})

	It("stops dispatching new work once the caller's context is cancelled", func() {
		exec := executor.New(1, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		extractors := []extractor.Extractor{
			&scriptedExtractor{name: "a", priority: 1},
		}
		outcomes := exec.Run(ctx, extractors, "/tmp/doc.pdf", job.Options{})
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Err).To(HaveOccurred())
	})
})
