package normalize_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/normalize"
)

var _ = Describe("Canonicalize", func() {
	DescribeTable("is idempotent: N(N(x)) == N(x)",
		func(input string) {
			once := normalize.Canonicalize(input)
			twice := normalize.Canonicalize(once)
			Expect(twice).To(Equal(once))
		},
		Entry("plain paragraph", "Hello   world.  \n\n\n\nMore text.\n"),
		Entry("heading with trailing fence", "### Heading ###\n\nBody.\n"),
		Entry("ragged table", "| a | b |\n|---|\n| 1 | 2 | 3 |\n"),
		Entry("structural image comment", "Para.\n\n<!-- image -->\n\n![alt](images/p1_0.png)\n"),
		Entry("non-structural comment", "Para.\n\n<!-- TODO remove -->\n\nMore.\n"),
		Entry("empty input", ""),
	)

	It("collapses runs of blank lines to one", func() {
		out := normalize.Canonicalize("A\n\n\n\n\nB\n")
		Expect(out).To(Equal("A\n\nB\n"))
	})

	It("trims trailing whitespace on each line", func() {
		out := normalize.Canonicalize("A   \nB\t\n")
		Expect(out).To(Equal("A\nB\n"))
	})

	It("normalizes heading closing fences to the # form", func() {
		out := normalize.Canonicalize("## Title ##\n")
		Expect(out).To(Equal("## Title\n"))
	})

	It("pads ragged table rows to the widest row's cell count", func() {
		out := normalize.Canonicalize("| a | b | c |\n| 1 | 2 |\n")
		Expect(out).To(Equal("| a | b | c |\n| 1 | 2 |  |\n"))
	})

	It("strips non-structural HTML comments but keeps the image placeholder", func() {
		out := normalize.Canonicalize("Para.\n\n<!-- generated by tool -->\n\n<!-- image -->\n")
		Expect(out).ToNot(ContainSubstring("generated by tool"))
		Expect(out).To(ContainSubstring("<!-- image -->"))
	})
})

var _ = Describe("ImagePath", func() {
	It("produces the stable images/p{page}_{idx}.{ext} pattern", func() {
		Expect(normalize.ImagePath(3, 1, "png")).To(Equal("images/p3_1.png"))
	})
})

var _ = Describe("Segment", func() {
	It("classifies a heading, paragraph, list, table, and image into distinct blocks", func() {
		md := normalize.Canonicalize(`# Title

A paragraph of body text.

- item one
- item two

| a | b |
| 1 | 2 |

![alt](images/p1_0.png)
`)
		blocks := normalize.Segment(md)

		kinds := make([]string, len(blocks))
		for i, b := range blocks {
			kinds[i] = string(b.Kind)
		}
		Expect(kinds).To(Equal([]string{"heading", "paragraph", "list", "table", "image"}))
	})

	It("assigns strictly increasing Order", func() {
		blocks := normalize.Segment("# A\n\nPara one.\n\nPara two.\n")
		for i, b := range blocks {
			Expect(b.Order).To(Equal(i))
		}
	})

	It("collapses a contiguous table run into a single block", func() {
		blocks := normalize.Segment("| a | b |\n| 1 | 2 |\n| 3 | 4 |\n")
		Expect(blocks).To(HaveLen(1))
		Expect(blocks[0].Kind).To(BeEquivalentTo("table"))
	})

	It("gives identical text the same content hash", func() {
		blocks := normalize.Segment("Same paragraph.\n\nSame paragraph.\n")
		Expect(blocks).To(HaveLen(2))
		Expect(blocks[0].ContentHash).To(Equal(blocks[1].ContentHash))
	})
})
