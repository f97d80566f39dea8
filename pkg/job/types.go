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

// Package job defines the data model shared by every component of the
// coordination core: the Job record, its state machine, and the
// candidate/divergence/merge types that flow between the complexity
// analyzer, executor, comparator, and merger.
package job

import "time"

// Strategy selects how extractors are invoked for a job.
type Strategy string

const (
	StrategyFallback     Strategy = "fallback"
	StrategyParallelLocal Strategy = "parallel_local"
	StrategyParallelAll  Strategy = "parallel_all"
	StrategyHybrid       Strategy = "hybrid"
)

// ComplexityClass buckets a ComplexityReport's score.
type ComplexityClass string

const (
	ComplexitySimple  ComplexityClass = "simple"
	ComplexityMedium  ComplexityClass = "medium"
	ComplexityComplex ComplexityClass = "complex"
)

// Options is the options bag accepted on submission (spec.md §6
// Configuration surface).
type Options struct {
	ExtractTables   bool     `json:"extract_tables"`
	ExtractImages   bool     `json:"extract_images"`
	ExtractFormulas bool     `json:"extract_formulas"`
	OCRLanguages    []string `json:"ocr_languages,omitempty"`
}

// ErrorRecord is a job's last-known error: a stable kind plus a
// human-readable message, never a raw error value (so it survives a
// StateStore round-trip as plain data).
type ErrorRecord struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the durable unit of work the coordination core owns end to
// end, from submission through a terminal state.
type Job struct {
	JobID               string          `json:"job_id"`
	State               State           `json:"state"`
	ProgressPct         int             `json:"progress_pct"`
	Strategy            Strategy        `json:"strategy"`
	RequestedExtractors []string        `json:"requested_extractors,omitempty"`
	ForceComplexity     ComplexityClass `json:"force_complexity,omitempty"`
	Options             Options         `json:"options"`
	CallbackURL         string          `json:"callback_url,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	TerminalAt          *time.Time      `json:"terminal_at,omitempty"`
	LastError           *ErrorRecord    `json:"last_error,omitempty"`
	SourceRef           string          `json:"source_ref"`
	ContentHash         string          `json:"content_hash"`

	// Metadata carries facts that aren't part of the job's formal
	// contract: resource-gate downgrades, the complexity report, the
	// admitted strategy and the candidate set. The orchestrator reads the
	// strategy, complexity report and candidates back from it.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ComponentScore is one criterion's contribution to a ComplexityReport.
type ComponentScore struct {
	Raw      float64 `json:"raw"`
	Weighted float64 `json:"weighted"`
}

// ComplexityReport is the output of the ComplexityAnalyzer for one
// (content-hash, options) pair.
type ComplexityReport struct {
	Score      int                       `json:"score"`
	Class      ComplexityClass           `json:"class"`
	Components map[string]ComponentScore `json:"components"`
	Cached     bool                      `json:"cached"`
}

// BlockKind is the unit of comparison's semantic category.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockTable     BlockKind = "table"
	BlockImage     BlockKind = "image"
	BlockFormula   BlockKind = "formula"
	BlockCode      BlockKind = "code"
)

// Block is one semantically-segmented unit within a CandidateExtraction.
type Block struct {
	Kind        BlockKind `json:"kind"`
	PageHint    *int      `json:"page_hint,omitempty"`
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
	Order       int       `json:"order"`
}

// Table is one extracted table: rows of cell text.
type Table struct {
	Rows [][]string `json:"rows"`
}

// ImageRef is a stable reference to an extracted image.
type ImageRef struct {
	Path      string `json:"path"`
	PageIndex int    `json:"page_index"`
}

// CandidateExtraction is one extractor's output for a single job.
type CandidateExtraction struct {
	ExtractorName    string     `json:"extractor_name"`
	ExtractorVersion string     `json:"extractor_version"`
	Markdown         string     `json:"markdown"`
	Blocks           []Block    `json:"blocks"`
	Tables           []Table    `json:"tables"`
	Images           []ImageRef `json:"images"`
	Confidence       float64    `json:"confidence"`
	ElapsedMs        int64      `json:"elapsed_ms"`
	Success          bool       `json:"success"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`

	// Priority mirrors the extractor's registry priority at the time it
	// ran; used for tie-breaking and stable candidate ordering.
	Priority int `json:"priority"`
}

// DivergenceKind classifies why a cluster failed consensus.
type DivergenceKind string

const (
	DivergenceTextMismatch  DivergenceKind = "text_mismatch"
	DivergenceStructural    DivergenceKind = "structural"
	DivergenceTableMismatch DivergenceKind = "table_mismatch"
	DivergenceMissingBlock  DivergenceKind = "missing_block"
)

// Divergence is one non-consensus alignment cluster across candidates.
type Divergence struct {
	ID               string          `json:"id"`
	Kind             DivergenceKind  `json:"kind"`
	BlockRefs        []*int          `json:"block_refs"`
	SimilarityMatrix [][]float64     `json:"similarity_matrix"`
	PageHint         *int            `json:"page_hint,omitempty"`

	// Soft marks a divergence whose minimum pairwise similarity falls
	// in [similarity_threshold, auto_merge_threshold) — eligible for
	// automatic best-pick instead of mandatory human arbitration.
	Soft bool `json:"soft"`
}

// AggregationReport summarizes the outcome of running N extractors.
type AggregationReport struct {
	SuccessfulCount   int     `json:"successful_count"`
	ExtractorCount    int     `json:"extractor_count"`
	AverageConfidence float64 `json:"average_confidence"`
	SelectedExtractor string  `json:"selected_extractor"`
}

// MergedDocument is the final (or partial, if NeedsReview) output of a
// merge policy applied over a divergence set.
type MergedDocument struct {
	Markdown      string            `json:"markdown"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Policy        string            `json:"policy"`
	Resolutions   map[string]string `json:"resolutions"` // divergence_id -> A|B|C|manual|auto
	NeedsReview   bool              `json:"needs_review"`
	UnresolvedIDs []string          `json:"unresolved_ids,omitempty"`
}
