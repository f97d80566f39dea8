package errors

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Domain Error Constructors", func() {
	It("builds an input-rejected error with a 400 status", func() {
		err := NewInputRejectedError("file exceeds maximum size")

		Expect(err.Type).To(Equal(ErrorTypeInputRejected))
		Expect(err.StatusCode).To(Equal(400))
		Expect(err.Error()).To(ContainSubstring("file exceeds maximum size"))
	})

	It("builds an extractor-unavailable error naming the requested extractors", func() {
		err := NewExtractorUnavailableError([]string{"docling", "mineru"})

		Expect(err.Type).To(Equal(ErrorTypeExtractorUnavailable))
		Expect(err.Error()).To(ContainSubstring("docling, mineru"))
	})

	It("builds a merge-unresolved error carrying the divergence count", func() {
		err := NewMergeUnresolvedError(3)

		Expect(err.Type).To(Equal(ErrorTypeMergeUnresolved))
		Expect(err.Error()).To(ContainSubstring("3 divergence(s)"))
	})

	It("reports job-timeout and extractor-timeout as HTTP 408", func() {
		Expect(New(ErrorTypeJobTimeout, "exceeded").StatusCode).To(Equal(408))
		Expect(New(ErrorTypeExtractorTimeout, "exceeded").StatusCode).To(Equal(408))
	})
})
