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

package compare

import "github.com/docfusion/docfusion/pkg/job"

// alignWindow bounds how far ahead of a candidate's current cursor we
// look for a same-kind counterpart, so two candidates that briefly
// diverge in block count still realign rather than drifting forever.
const alignWindow = 3

// align pairs blocks across candidates by (kind, page_hint, order)
// using a small local window per candidate, preferring same-kind
// matches (spec.md §4.6 step 1). A candidate's unmatched blocks become
// missing_block divergences by leaving a nil slot in their cluster.
func align(candidates []job.CandidateExtraction) []Cluster {
	cursors := make([]int, len(candidates))
	var clusters []Cluster

	// The reference sequence is the longest candidate's block list:
	// it is the most likely to contain every real block, so anchoring
	// alignment on it minimizes spurious missing_block clusters.
	ref := longestCandidateIndex(candidates)

	for cursors[ref] < len(candidates[ref].Blocks) {
		anchor := candidates[ref].Blocks[cursors[ref]]
		cursors[ref]++

		cluster := Cluster{
			Blocks: make([]*job.Block, len(candidates)),
			Kind:   anchor.Kind,
		}
		cluster.Blocks[ref] = &anchor

		for ci, cand := range candidates {
			if ci == ref {
				continue
			}
			idx := findMatch(cand.Blocks, cursors[ci], anchor)
			if idx == -1 {
				continue
			}
			b := cand.Blocks[idx]
			cluster.Blocks[ci] = &b
			cursors[ci] = idx + 1
		}

		clusters = append(clusters, cluster)
	}

	return clusters
}

func longestCandidateIndex(candidates []job.CandidateExtraction) int {
	best, bestLen := 0, -1
	for i, c := range candidates {
		if len(c.Blocks) > bestLen {
			best, bestLen = i, len(c.Blocks)
		}
	}
	return best
}

// findMatch looks within [from, from+alignWindow) of a candidate's
// block list for the first same-kind block, preferring an exact
// page-hint match within the window.
func findMatch(blocks []job.Block, from int, anchor job.Block) int {
	limit := from + alignWindow
	if limit > len(blocks) {
		limit = len(blocks)
	}

	bestIdx, bestScore := -1, -1
	for i := from; i < limit; i++ {
		if blocks[i].Kind != anchor.Kind {
			continue
		}
		score := 1
		if samePageHint(blocks[i].PageHint, anchor.PageHint) {
			score = 2
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx
}

func samePageHint(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
