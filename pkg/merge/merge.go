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

// Package merge fuses aligned candidate clusters into a single
// MergedDocument under a named policy (spec.md §4.7). Consensus
// clusters are merged without a recorded resolution; each divergence
// gets exactly one resolution, except that MANUAL and
// AUTO_MERGE_HIGH_CONFIDENCE may leave divergences unresolved, listed
// in UnresolvedIDs.
package merge

import (
	"strings"

	"github.com/docfusion/docfusion/pkg/compare"
	"github.com/docfusion/docfusion/pkg/job"
)

// Policy selects how a cluster's final block is chosen.
type Policy string

const (
	PolicyHighestConfidence       Policy = "HIGHEST_CONFIDENCE"
	PolicyAutoMergeHighConfidence Policy = "AUTO_MERGE_HIGH_CONFIDENCE"
	PolicyManual                  Policy = "MANUAL"
)

// PreferPolicy builds a PREFER_<name> policy value.
func PreferPolicy(extractorName string) Policy {
	return Policy("PREFER_" + extractorName)
}

func preferredExtractor(p Policy) (string, bool) {
	const prefix = "PREFER_"
	if strings.HasPrefix(string(p), prefix) {
		return strings.TrimPrefix(string(p), prefix), true
	}
	return "", false
}

// ManualChoice is one human-submitted resolution for a divergence_id.
type ManualChoice struct {
	DivergenceID string
	// Choice is "A", "B", "C", or "manual"; the index maps ordinally
	// onto the candidate list Merger.Merge was given.
	Choice  string
	Content string // only used when Choice == "manual"
}

// Merger fuses clusters into a MergedDocument.
type Merger struct{}

func New() *Merger {
	return &Merger{}
}

// Merge resolves every cluster under policy. manualChoices is only
// consulted under PolicyManual; it must cover every divergence in
// divergences or those clusters are left unresolved.
func (m *Merger) Merge(candidates []job.CandidateExtraction, clusters []compare.Cluster, divergences []job.Divergence, policy Policy, manualChoices map[string]ManualChoice) job.MergedDocument {
	divergenceByClusterIdx := indexDivergences(clusters, divergences)

	resolutions := make(map[string]string, len(clusters))
	var unresolved []string
	var textParts []string

	for idx, cl := range clusters {
		div, isDivergent := divergenceByClusterIdx[idx]

		if !isDivergent {
			text, _ := resolveBlock(compare.TieBreak(nonNilCandidates(cl, candidates)))
			textParts = append(textParts, text)
			continue
		}

		text, resolution, ok := resolveDivergence(cl, div, candidates, policy, manualChoices)
		if !ok {
			unresolved = append(unresolved, div.ID)
			if text != "" {
				textParts = append(textParts, text)
			}
			continue
		}
		resolutions[div.ID] = resolution
		textParts = append(textParts, text)
	}

	markdown := strings.Join(textParts, "\n\n")

	if len(unresolved) > 0 {
		return job.MergedDocument{
			Markdown:      markdown,
			Policy:        string(policy),
			Resolutions:   resolutions,
			NeedsReview:   true,
			UnresolvedIDs: unresolved,
		}
	}

	return job.MergedDocument{
		Markdown:    markdown,
		Policy:      string(policy),
		Resolutions: resolutions,
		NeedsReview: false,
	}
}

func indexDivergences(clusters []compare.Cluster, divergences []job.Divergence) map[int]job.Divergence {
	// Divergences are emitted in cluster order by Comparator.Compare, so
	// the Nth non-consensus cluster corresponds to the Nth divergence.
	byIdx := make(map[int]job.Divergence, len(divergences))
	d := 0
	for idx, cl := range clusters {
		if !cl.Consensus && d < len(divergences) {
			byIdx[idx] = divergences[d]
			d++
		}
	}
	return byIdx
}

func resolveDivergence(cl compare.Cluster, div job.Divergence, candidates []job.CandidateExtraction, policy Policy, manualChoices map[string]ManualChoice) (text string, resolution string, ok bool) {
	switch {
	case policy == PolicyManual:
		return resolveManual(cl, div, candidates, manualChoices)

	case policy == PolicyAutoMergeHighConfidence:
		if div.Soft {
			winner := compare.TieBreak(nonNilCandidates(cl, candidates))
			text, _ = resolveBlock(winner)
			return text, "auto", true
		}
		return "", "", false

	default:
		if name, isPrefer := preferredExtractor(policy); isPrefer {
			if b, found := blockFor(cl, candidates, name); found {
				return b.Text, letterFor(cl, candidates, name), true
			}
		}
		winner := compare.TieBreak(nonNilCandidates(cl, candidates))
		text, letter := resolveBlock(winner)
		return text, letter, true
	}
}

func resolveManual(cl compare.Cluster, div job.Divergence, candidates []job.CandidateExtraction, manualChoices map[string]ManualChoice) (string, string, bool) {
	choice, ok := manualChoices[div.ID]
	if !ok {
		return "", "", false
	}
	if choice.Choice == "manual" {
		return choice.Content, "manual", true
	}
	idx := letterIndex(choice.Choice)
	if idx < 0 || idx >= len(cl.Blocks) || cl.Blocks[idx] == nil {
		return "", "", false
	}
	return cl.Blocks[idx].Text, choice.Choice, true
}

func resolveBlock(winner job.CandidateExtraction) (string, string) {
	return winner.Markdown, "auto"
}

func nonNilCandidates(cl compare.Cluster, candidates []job.CandidateExtraction) []job.CandidateExtraction {
	var result []job.CandidateExtraction
	for i, b := range cl.Blocks {
		if b != nil {
			c := candidates[i]
			c.Markdown = b.Text
			result = append(result, c)
		}
	}
	return result
}

func blockFor(cl compare.Cluster, candidates []job.CandidateExtraction, extractorName string) (*job.Block, bool) {
	for i, c := range candidates {
		if c.ExtractorName == extractorName && c.Success && i < len(cl.Blocks) && cl.Blocks[i] != nil {
			return cl.Blocks[i], true
		}
	}
	return nil, false
}

func letterFor(cl compare.Cluster, candidates []job.CandidateExtraction, extractorName string) string {
	for i, c := range candidates {
		if c.ExtractorName == extractorName {
			return letterOf(i)
		}
	}
	return "manual"
}

func letterOf(i int) string {
	return string(rune('A' + i))
}

func letterIndex(letter string) int {
	if len(letter) != 1 {
		return -1
	}
	return int(letter[0] - 'A')
}
