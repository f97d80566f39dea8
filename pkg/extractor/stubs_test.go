package extractor_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/extractor"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/registry"
)

var _ = Describe("DoclingExtractor", func() {
	var modelPath string

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		modelPath = filepath.Join(dir, "model.bin")
	})

	It("is unavailable when the model path doesn't exist", func() {
		e := &extractor.DoclingExtractor{ModelPath: modelPath}
		Expect(e.IsAvailable()).To(BeFalse())
	})

	It("is available once the model path exists", func() {
		Expect(os.WriteFile(modelPath, []byte("x"), 0o644)).To(Succeed())
		e := &extractor.DoclingExtractor{ModelPath: modelPath}
		Expect(e.IsAvailable()).To(BeTrue())
	})

	It("extracts successfully for a non-empty file path", func() {
		e := &extractor.DoclingExtractor{ModelPath: modelPath}
		result, err := e.Extract(context.Background(), "/tmp/doc.pdf", job.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.ExtractorName).To(Equal("docling"))
		Expect(result.Confidence).To(BeNumerically(">", 0))
	})

	It("declares table and formula support", func() {
		e := &extractor.DoclingExtractor{}
		caps := e.Capabilities()
		Expect(caps.SupportsTables).To(BeTrue())
		Expect(caps.SupportsFormulas).To(BeTrue())
	})
})

var _ = Describe("HostedOCRExtractor", func() {
	It("is unavailable without an API key", func() {
		e := &extractor.HostedOCRExtractor{}
		Expect(e.IsAvailable()).To(BeFalse())
	})

	It("is available with an API key", func() {
		e := &extractor.HostedOCRExtractor{APIKey: "secret"}
		Expect(e.IsAvailable()).To(BeTrue())
	})

	It("is the only built-in backend declaring OCR support", func() {
		Expect((&extractor.HostedOCRExtractor{}).Capabilities().SupportsOCR).To(BeTrue())
		Expect((&extractor.DoclingExtractor{}).Capabilities().SupportsOCR).To(BeFalse())
		Expect((&extractor.MinerUExtractor{}).Capabilities().SupportsOCR).To(BeFalse())
	})
})

var _ = Describe("MinerUExtractor", func() {
	It("runs faster-tier but does not claim formula support", func() {
		e := &extractor.MinerUExtractor{}
		Expect(e.Capabilities().SupportsFormulas).To(BeFalse())
		Expect(e.Capabilities().Speed).To(Equal(registry.SpeedFast))
	})
})

var _ = Describe("stub extraction error paths", func() {
	It("fails on an empty file path", func() {
		e := &extractor.DoclingExtractor{}
		_, err := e.Extract(context.Background(), "", job.Options{})
		Expect(err).To(HaveOccurred())
	})

	It("respects context cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		e := &extractor.DoclingExtractor{}
		_, err := e.Extract(ctx, "/tmp/doc.pdf", job.Options{})
		Expect(err).To(MatchError(context.Canceled))
	})
})
