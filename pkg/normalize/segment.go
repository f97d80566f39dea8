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

package normalize

import (
	"regexp"
	"strings"

	"github.com/docfusion/docfusion/pkg/job"
)

var (
	headingLineRe = regexp.MustCompile(`^#{1,6}\s`)
	listLineRe    = regexp.MustCompile(`^(\s*([-*+]|\d+[.)])\s)`)
	codeFenceRe   = regexp.MustCompile("^```")
	formulaFenceRe = regexp.MustCompile(`^\$\$`)
)

// Segment splits already-canonicalized markdown into an ordered
// sequence of Blocks at semantic boundaries. Table rows are collapsed
// into a single Block per contiguous run.
func Segment(markdown string) []job.Block {
	lines := strings.Split(markdown, "\n")
	var blocks []job.Block
	order := 0

	i := 0
	for i < len(lines) {
		line := lines[i]

		switch {
		case strings.TrimSpace(line) == "":
			i++

		case headingLineRe.MatchString(line):
			blocks = append(blocks, newBlock(job.BlockHeading, line, order))
			order++
			i++

		case imageRefRe.MatchString(line):
			blocks = append(blocks, newBlock(job.BlockImage, line, order))
			order++
			i++

		case codeFenceRe.MatchString(line):
			end := i + 1
			for end < len(lines) && !codeFenceRe.MatchString(lines[end]) {
				end++
			}
			if end < len(lines) {
				end++
			}
			text := strings.Join(lines[i:end], "\n")
			blocks = append(blocks, newBlock(job.BlockCode, text, order))
			order++
			i = end

		case formulaFenceRe.MatchString(line):
			end := i + 1
			for end < len(lines) && !formulaFenceRe.MatchString(lines[end]) {
				end++
			}
			if end < len(lines) {
				end++
			}
			text := strings.Join(lines[i:end], "\n")
			blocks = append(blocks, newBlock(job.BlockFormula, text, order))
			order++
			i = end

		case isTableRow(line):
			end := i
			for end < len(lines) && isTableRow(lines[end]) {
				end++
			}
			text := strings.Join(lines[i:end], "\n")
			blocks = append(blocks, newBlock(job.BlockTable, text, order))
			order++
			i = end

		case listLineRe.MatchString(line):
			end := i
			for end < len(lines) && (listLineRe.MatchString(lines[end]) || strings.TrimSpace(lines[end]) != "") {
				if strings.TrimSpace(lines[end]) == "" {
					break
				}
				end++
			}
			text := strings.Join(lines[i:end], "\n")
			blocks = append(blocks, newBlock(job.BlockList, text, order))
			order++
			i = end

		default:
			end := i
			for end < len(lines) && strings.TrimSpace(lines[end]) != "" && !startsNewBlock(lines[end]) {
				end++
			}
			if end == i {
				end++
			}
			text := strings.Join(lines[i:end], "\n")
			blocks = append(blocks, newBlock(job.BlockParagraph, text, order))
			order++
			i = end
		}
	}

	return blocks
}

func startsNewBlock(line string) bool {
	return headingLineRe.MatchString(line) ||
		imageRefRe.MatchString(line) ||
		codeFenceRe.MatchString(line) ||
		formulaFenceRe.MatchString(line) ||
		isTableRow(line) ||
		listLineRe.MatchString(line)
}

func newBlock(kind job.BlockKind, text string, order int) job.Block {
	return job.Block{
		Kind:        kind,
		ContentHash: ContentHash(text),
		Text:        text,
		Order:       order,
	}
}
