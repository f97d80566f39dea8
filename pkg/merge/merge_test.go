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

package merge_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/compare"
	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/merge"
	"github.com/docfusion/docfusion/pkg/normalize"
)

func consensusCandidates() []job.CandidateExtraction {
	md := normalize.Canonicalize("# Title\n\nSame paragraph everywhere.\n")
	return []job.CandidateExtraction{
		{ExtractorName: "docling", Markdown: md, Blocks: normalize.Segment(md), Confidence: 0.9, Success: true, Priority: 1},
		{ExtractorName: "mineru", Markdown: md, Blocks: normalize.Segment(md), Confidence: 0.8, Success: true, Priority: 2},
	}
}

func divergentCandidates() []job.CandidateExtraction {
	a := normalize.Canonicalize("# Title\n\nAlpha paragraph one.\n")
	b := normalize.Canonicalize("# Title\n\nSomething wholly unrelated and different.\n")
	return []job.CandidateExtraction{
		{ExtractorName: "docling", Markdown: a, Blocks: normalize.Segment(a), Confidence: 0.9, Success: true, Priority: 1},
		{ExtractorName: "mineru", Markdown: b, Blocks: normalize.Segment(b), Confidence: 0.95, Success: true, Priority: 2},
	}
}

var _ = Describe("Merger", func() {
	var m *merge.Merger

	BeforeEach(func() {
		m = merge.New()
	})

	Context("consensus-only candidates", func() {
		It("merges without needing review under HIGHEST_CONFIDENCE", func() {
			candidates := consensusCandidates()
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-1", candidates)
			Expect(err).ToNot(HaveOccurred())
			Expect(divs).To(BeEmpty())

			merged := m.Merge(candidates, clusters, divs, merge.PolicyHighestConfidence, nil)
			Expect(merged.NeedsReview).To(BeFalse())
			Expect(merged.Markdown).ToNot(BeEmpty())
		})
	})

	Context("divergent candidates", func() {
		It("satisfies merger totality: exactly one resolution per divergence under a non-MANUAL policy", func() {
			candidates := divergentCandidates()
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-2", candidates)
			Expect(err).ToNot(HaveOccurred())
			Expect(divs).ToNot(BeEmpty())

			merged := m.Merge(candidates, clusters, divs, merge.PolicyHighestConfidence, nil)
			Expect(merged.NeedsReview).To(BeFalse())
			Expect(merged.Resolutions).To(HaveLen(len(divs)))
		})

		It("picks the higher-confidence candidate's text under HIGHEST_CONFIDENCE", func() {
			candidates := divergentCandidates() // mineru has higher confidence (0.95)
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-3", candidates)
			Expect(err).ToNot(HaveOccurred())

			merged := m.Merge(candidates, clusters, divs, merge.PolicyHighestConfidence, nil)
			Expect(merged.Markdown).To(ContainSubstring("unrelated"))
		})

		It("prefers the named extractor under a PREFER_<name> policy", func() {
			candidates := divergentCandidates()
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-4", candidates)
			Expect(err).ToNot(HaveOccurred())

			merged := m.Merge(candidates, clusters, divs, merge.PreferPolicy("docling"), nil)
			Expect(merged.Markdown).To(ContainSubstring("Alpha"))
		})

		It("leaves hard divergences unresolved under MANUAL with no matching choices", func() {
			candidates := divergentCandidates()
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-5", candidates)
			Expect(err).ToNot(HaveOccurred())

			merged := m.Merge(candidates, clusters, divs, merge.PolicyManual, nil)
			Expect(merged.NeedsReview).To(BeTrue())
			Expect(merged.UnresolvedIDs).To(HaveLen(len(divs)))
		})

		It("resolves every divergence under MANUAL once choices cover all of them", func() {
			candidates := divergentCandidates()
			cmp := compare.New(compare.DefaultConfig())
			clusters, divs, err := cmp.Compare("job-6", candidates)
			Expect(err).ToNot(HaveOccurred())

			choices := make(map[string]merge.ManualChoice, len(divs))
			for _, d := range divs {
				choices[d.ID] = merge.ManualChoice{DivergenceID: d.ID, Choice: "manual", Content: "human picked this"}
			}

			merged := m.Merge(candidates, clusters, divs, merge.PolicyManual, choices)
			Expect(merged.NeedsReview).To(BeFalse())
			Expect(merged.Markdown).To(ContainSubstring("human picked this"))
		})
	})
})
