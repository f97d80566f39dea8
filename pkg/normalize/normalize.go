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

// Package normalize canonicalizes a candidate's Markdown before
// comparison and segments it into Blocks at semantic boundaries
// (spec.md §4.5). Canonicalize is idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	trailingWSRe  = regexp.MustCompile(`[ \t]+\n`)
	headingFenceRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]*(.+?)[ \t]*#*[ \t]*$`)
	imageRefRe    = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	htmlCommentRe = regexp.MustCompile(`<!--\s*(.*?)\s*-->`)
)

// Canonicalize applies the documented normalization passes in a fixed
// order so repeated application is a no-op.
func Canonicalize(markdown string) string {
	out := markdown

	out = stripNonStructuralComments(out)
	out = headingFenceRe.ReplaceAllString(out, "$1 $2")
	out = trailingWSRe.ReplaceAllString(out, "\n")
	out = strings.TrimRight(out, " \t")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	out = normalizeTableRows(out)
	out = strings.TrimSpace(out) + "\n"

	return out
}

func stripNonStructuralComments(markdown string) string {
	return htmlCommentRe.ReplaceAllStringFunc(markdown, func(match string) string {
		if strings.TrimSpace(htmlCommentRe.FindStringSubmatch(match)[1]) == "image" {
			return "<!-- image -->"
		}
		return ""
	})
}

// normalizeTableRows pads every row of a contiguous pipe-table block to
// the widest row's cell count, so two otherwise-identical tables that
// differ only in a dropped trailing empty cell still compare equal
// after normalization.
func normalizeTableRows(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var out []string

	i := 0
	for i < len(lines) {
		if !isTableRow(lines[i]) {
			out = append(out, lines[i])
			i++
			continue
		}

		start := i
		for i < len(lines) && isTableRow(lines[i]) {
			i++
		}
		out = append(out, padTableBlock(lines[start:i])...)
	}

	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

func padTableBlock(rows []string) []string {
	width := 0
	split := make([][]string, len(rows))
	for i, row := range rows {
		cells := splitTableRow(row)
		split[i] = cells
		if len(cells) > width {
			width = len(cells)
		}
	}

	padded := make([]string, len(rows))
	for i, cells := range split {
		for len(cells) < width {
			cells = append(cells, "")
		}
		padded[i] = "| " + strings.Join(cells, " | ") + " |"
	}
	return padded
}

func splitTableRow(row string) []string {
	trimmed := strings.TrimSpace(row)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// ImagePath rewrites an image reference to the stable pattern
// spec.md §6 requires: images/p{page}_{idx}.{ext}.
func ImagePath(page, idx int, ext string) string {
	return fmt.Sprintf("images/p%d_%d.%s", page, idx, ext)
}

// ContentHash hashes canonicalized text for Block.ContentHash.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
