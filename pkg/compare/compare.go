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

// Package compare aligns two or more normalized CandidateExtractions,
// scores pairwise similarity per cluster, and emits a Divergence for
// every cluster that fails consensus (spec.md §4.6).
package compare

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/docfusion/docfusion/pkg/job"
)

// Config holds the two threshold knobs that drive classification.
type Config struct {
	// SimilarityThreshold: below this, a cluster is a hard divergence.
	SimilarityThreshold float64
	// AutoMergeThreshold: at or above this, a cluster is consensus.
	AutoMergeThreshold float64
}

// DefaultConfig matches spec.md §4.6's documented defaults.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.90, AutoMergeThreshold: 0.95}
}

// Cluster is one aligned group of blocks, one slot per input
// candidate (nil where that candidate has no counterpart).
type Cluster struct {
	Blocks           []*job.Block
	SimilarityMatrix [][]float64
	Consensus        bool
	Soft             bool
	Kind             job.BlockKind
}

// ErrInvalidInput is returned when Compare is asked to align fewer
// than two candidates — a caller bug, not a data-quality problem.
var ErrInvalidInput = errors.New("compare: at least two candidates are required")

// Comparator aligns, scores, and classifies candidate blocks.
type Comparator struct {
	cfg Config
}

func New(cfg Config) *Comparator {
	return &Comparator{cfg: cfg}
}

// Compare aligns candidates' Blocks into clusters and returns the
// clusters alongside the Divergence set for every non-consensus
// cluster, with stable IDs keyed by jobID and cluster ordinal.
func (c *Comparator) Compare(jobID string, candidates []job.CandidateExtraction) ([]Cluster, []job.Divergence, error) {
	if len(candidates) < 2 {
		return nil, nil, errors.Wrap(ErrInvalidInput, "Compare")
	}

	clusters := align(candidates)

	divergences := make([]job.Divergence, 0)
	for ordinal, cl := range clusters {
		matrix := similarityMatrix(cl, candidates)
		cl.SimilarityMatrix = matrix
		minSim := minPairwise(matrix)

		switch {
		case minSim >= c.cfg.AutoMergeThreshold:
			cl.Consensus = true
		case minSim < c.cfg.SimilarityThreshold:
			clusters[ordinal] = cl
			divergences = append(divergences, newDivergence(jobID, ordinal, cl, matrix, false))
			continue
		default:
			cl.Soft = true
			clusters[ordinal] = cl
			divergences = append(divergences, newDivergence(jobID, ordinal, cl, matrix, true))
			continue
		}
		clusters[ordinal] = cl
	}

	return clusters, divergences, nil
}

func newDivergence(jobID string, ordinal int, cl Cluster, matrix [][]float64, soft bool) job.Divergence {
	refs := make([]*int, len(cl.Blocks))
	for i, b := range cl.Blocks {
		if b != nil {
			order := b.Order
			refs[i] = &order
		}
	}

	return job.Divergence{
		ID:               divergenceID(jobID, ordinal),
		Kind:             divergenceKind(cl),
		BlockRefs:        refs,
		SimilarityMatrix: matrix,
		PageHint:         majorityPageHint(cl.Blocks),
		Soft:             soft,
	}
}

func divergenceID(jobID string, ordinal int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", jobID, ordinal)))
	return hex.EncodeToString(sum[:])
}

func divergenceKind(cl Cluster) job.DivergenceKind {
	for _, b := range cl.Blocks {
		if b == nil {
			return job.DivergenceMissingBlock
		}
	}
	if cl.Kind == job.BlockTable {
		return job.DivergenceTableMismatch
	}
	if cl.Kind == job.BlockHeading || cl.Kind == job.BlockList {
		return job.DivergenceStructural
	}
	return job.DivergenceTextMismatch
}

func majorityPageHint(blocks []*job.Block) *int {
	counts := map[int]int{}
	for _, b := range blocks {
		if b != nil && b.PageHint != nil {
			counts[*b.PageHint]++
		}
	}
	best, bestCount := -1, 0
	for page, count := range counts {
		if count > bestCount {
			best, bestCount = page, count
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &best
}

func minPairwise(matrix [][]float64) float64 {
	min := 1.0
	found := false
	for i := range matrix {
		for j := range matrix[i] {
			if i == j {
				continue
			}
			found = true
			if matrix[i][j] < min {
				min = matrix[i][j]
			}
		}
	}
	if !found {
		return 1.0
	}
	return min
}

func similarityMatrix(cl Cluster, candidates []job.CandidateExtraction) [][]float64 {
	n := len(cl.Blocks)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		matrix[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			sim := blockSimilarity(cl.Blocks[i], cl.Blocks[j])
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

func blockSimilarity(a, b *job.Block) float64 {
	switch {
	case a == nil && b == nil:
		return 1.0
	case a == nil || b == nil:
		return 0.0
	case a.Kind == job.BlockTable && b.Kind == job.BlockTable:
		return tableSimilarity(a.Text, b.Text)
	case a.Kind == job.BlockImage && b.Kind == job.BlockImage:
		return imageSimilarity(a, b)
	default:
		return lcsRatio(tokenize(a.Text), tokenize(b.Text))
	}
}

func tokenize(text string) []string {
	return strings.Fields(text)
}

// lcsRatio is the longest-common-subsequence ratio over tokens, in
// [0,1]: 2*|LCS| / (|a|+|b|), so two empty sequences compare equal
// and a wholly-disjoint pair scores 0.
func lcsRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcsLen := prev[len(b)]
	return 2 * float64(lcsLen) / float64(len(a)+len(b))
}

// tableSimilarity combines cell-by-cell equality with row/column
// count penalties, per spec.md §4.6.
func tableSimilarity(a, b string) float64 {
	rowsA := strings.Split(strings.TrimSpace(a), "\n")
	rowsB := strings.Split(strings.TrimSpace(b), "\n")

	rowPenalty := 1.0 - countPenalty(len(rowsA), len(rowsB))

	maxRows := len(rowsA)
	if len(rowsB) > maxRows {
		maxRows = len(rowsB)
	}
	if maxRows == 0 {
		return 1.0
	}

	matched, total := 0, 0
	colPenaltySum := 0.0
	for i := 0; i < maxRows; i++ {
		var cellsA, cellsB []string
		if i < len(rowsA) {
			cellsA = splitRow(rowsA[i])
		}
		if i < len(rowsB) {
			cellsB = splitRow(rowsB[i])
		}
		colPenaltySum += countPenalty(len(cellsA), len(cellsB))

		maxCells := len(cellsA)
		if len(cellsB) > maxCells {
			maxCells = len(cellsB)
		}
		for c := 0; c < maxCells; c++ {
			total++
			var ca, cb string
			if c < len(cellsA) {
				ca = cellsA[c]
			}
			if c < len(cellsB) {
				cb = cellsB[c]
			}
			if ca == cb {
				matched++
			}
		}
	}

	cellRatio := 1.0
	if total > 0 {
		cellRatio = float64(matched) / float64(total)
	}
	colPenalty := 1.0 - colPenaltySum/float64(maxRows)

	return cellRatio * rowPenalty * colPenalty
}

func splitRow(row string) []string {
	trimmed := strings.TrimSpace(row)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// countPenalty is a symmetric fractional mismatch in [0,1].
func countPenalty(a, b int) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	max := a
	if b > max {
		max = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(max)
}

func imageSimilarity(a, b *job.Block) float64 {
	if a.Text == b.Text {
		return 1.0
	}
	if a.PageHint != nil && b.PageHint != nil && *a.PageHint == *b.PageHint {
		return 0.5
	}
	return 0.0
}

// TieBreak picks the preferred candidate among equally-distant
// choices per spec.md §4.6: higher confidence, then lower (higher
// priority) priority number, then alphabetical extractor name.
func TieBreak(candidates []job.CandidateExtraction) job.CandidateExtraction {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

func better(a, b job.CandidateExtraction) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ExtractorName < b.ExtractorName
}
