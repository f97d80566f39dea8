package complexity_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/complexity"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/store"
)

var _ = Describe("Analyzer", func() {
	var (
		ctx context.Context
		st  *store.MemoryStateStore
		a   *complexity.Analyzer
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemoryStateStore()
		a = complexity.NewAnalyzer(st, nil)
	})

	Describe("classification thresholds", func() {
		It("classifies a bare document as simple", func() {
			report, err := a.Analyze(ctx, "hash-simple", complexity.Probe{Pages: 3}, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Score).To(BeNumerically("<=", 30))
			Expect(report.Class).To(Equal(job.ComplexitySimple))
		})

		It("classifies a heavily-structured document as complex", func() {
			report, err := a.Analyze(ctx, "hash-complex", complexity.Probe{
				Pages: 200, Tables: 20, Columns: 20, Images: 20, Formulas: 20, ScannedPages: 20,
			}, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Score).To(BeNumerically(">=", 60))
			Expect(report.Class).To(Equal(job.ComplexityComplex))
		})

		It("classifies a moderately-structured document as medium", func() {
			report, err := a.Analyze(ctx, "hash-medium", complexity.Probe{
				Pages: 60, Tables: 6, Columns: 6, Images: 3,
			}, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Score).To(BeNumerically(">", 30))
			Expect(report.Score).To(BeNumerically("<", 60))
			Expect(report.Class).To(Equal(job.ComplexityMedium))
		})
	})

	It("memoizes by content hash: a second call for the same hash is marked cached", func() {
		first, err := a.Analyze(ctx, "hash-1", complexity.Probe{Pages: 100, Tables: 10}, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(first.Cached).To(BeFalse())

		second, err := a.Analyze(ctx, "hash-1", complexity.Probe{Pages: 1}, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(second.Cached).To(BeTrue())
		Expect(second.Score).To(Equal(first.Score), "cache hit must return the originally-computed score, ignoring the new probe")
	})

	It("computes the score but bypasses classification when force_complexity is set", func() {
		report, err := a.Analyze(ctx, "hash-forced", complexity.Probe{Pages: 3}, job.ComplexityComplex)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Class).To(Equal(job.ComplexityComplex))
		Expect(report.Score).To(BeNumerically("<=", 30), "forcing the class must not skip computing the real score")
	})

	It("reports each criterion's raw and weighted contribution", func() {
		report, err := a.Analyze(ctx, "hash-components", complexity.Probe{Pages: 100, Tables: 10}, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Components).To(HaveKey("pages"))
		Expect(report.Components).To(HaveKey("tables"))
		Expect(report.Components["tables"].Weighted).To(BeNumerically(">", 0))
	})
})
