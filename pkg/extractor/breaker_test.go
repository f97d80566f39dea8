package extractor_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/docfusion/docfusion/pkg/extractor"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/registry"
)

// controllableExtractor lets tests dictate success/failure per call.
type controllableExtractor struct {
	name    string
	fail    bool
	calls   int
}

func (c *controllableExtractor) Name() string    { return c.name }
func (c *controllableExtractor) Version() string { return "test" }
func (c *controllableExtractor) Priority() int   { return 1 }
func (c *controllableExtractor) IsAvailable() bool { return true }
func (c *controllableExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{}
}

func (c *controllableExtractor) Extract(_ context.Context, _ string, _ job.Options) (job.CandidateExtraction, error) {
	c.calls++
	if c.fail {
		return job.CandidateExtraction{}, fmt.Errorf("backend unavailable")
	}
	return job.CandidateExtraction{ExtractorName: c.name, Success: true, Confidence: 0.9}, nil
}

var _ = Describe("Breaker", func() {
	var (
		inner  *controllableExtractor
		logger *logrus.Logger
	)

	BeforeEach(func() {
		inner = &controllableExtractor{name: "flaky"}
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
	})

	It("passes through a successful call", func() {
		b := extractor.NewBreaker(inner, 3, time.Minute, logger)
		result, err := b.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
	})

	It("trips open after the configured number of consecutive failures", func() {
		inner.fail = true
		b := extractor.NewBreaker(inner, 3, time.Minute, logger)

		for i := 0; i < 3; i++ {
			result, err := b.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
			Expect(err).ToNot(HaveOccurred(), "breaker surfaces backend failure as a failed CandidateExtraction, not a Go error")
			Expect(result.Success).To(BeFalse())
		}

		Expect(b.IsAvailable()).To(BeFalse())

		callsBeforeTrip := inner.calls
		result, err := b.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeFalse())
		Expect(result.ErrorKind).To(Equal("extractor_unavailable"))
		Expect(inner.calls).To(Equal(callsBeforeTrip), "an open breaker must not invoke the wrapped backend")
	})

	It("resets to closed after the timeout once the backend recovers", func() {
		inner.fail = true
		b := extractor.NewBreaker(inner, 2, 10*time.Millisecond, logger)

		for i := 0; i < 2; i++ {
			_, _ = b.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
		}
		Expect(b.IsAvailable()).To(BeFalse())

		inner.fail = false
		Eventually(func() bool {
			result, err := b.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
			return err == nil && result.Success
		}, "200ms", "5ms").Should(BeTrue())

		Expect(b.IsAvailable()).To(BeTrue())
	})

	It("reports IsAvailable false when the inner extractor itself is unavailable", func() {
		docling := &extractor.DoclingExtractor{}
		b := extractor.NewBreaker(docling, 3, time.Minute, logger)
		Expect(b.IsAvailable()).To(BeFalse())
	})
})
