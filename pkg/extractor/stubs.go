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

package extractor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docfusion/docfusion/pkg/job"
	"github.com/docfusion/docfusion/pkg/registry"
)

// DoclingExtractor is the local, high-precision, table-and-formula-
// aware backend. It is "available" whenever the configured model path
// exists on disk; the actual Docling invocation is out of scope.
type DoclingExtractor struct {
	ModelPath string
}

func (e *DoclingExtractor) Name() string    { return "docling" }
func (e *DoclingExtractor) Version() string { return "2.x" }
func (e *DoclingExtractor) Priority() int   { return 1 }
func (e *DoclingExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: true,
		SupportsImages:   true,
		SupportsOCR:      false,
		Precision:        registry.PrecisionHigh,
		Speed:            registry.SpeedMedium,
	}
}

func (e *DoclingExtractor) IsAvailable() bool {
	if e.ModelPath == "" {
		return false
	}
	_, err := os.Stat(e.ModelPath)
	return err == nil
}

func (e *DoclingExtractor) Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error) {
	return runStub(ctx, e, filePath, opts, 0.92)
}

// MinerUExtractor is a second local backend, faster but lower-fidelity
// on tables than Docling; useful as a parallel cross-check candidate.
type MinerUExtractor struct {
	ModelPath string
}

func (e *MinerUExtractor) Name() string    { return "mineru" }
func (e *MinerUExtractor) Version() string { return "1.x" }
func (e *MinerUExtractor) Priority() int   { return 2 }
func (e *MinerUExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: false,
		SupportsImages:   true,
		SupportsOCR:      false,
		Precision:        registry.PrecisionMedium,
		Speed:            registry.SpeedFast,
	}
}

func (e *MinerUExtractor) IsAvailable() bool {
	if e.ModelPath == "" {
		return false
	}
	_, err := os.Stat(e.ModelPath)
	return err == nil
}

func (e *MinerUExtractor) Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error) {
	return runStub(ctx, e, filePath, opts, 0.85)
}

// HostedOCRExtractor is the remote fallback: the only backend that
// supports OCR, the highest latency, and the only one gated on an API
// key rather than a local model file.
type HostedOCRExtractor struct {
	APIKey string
	Client interface {
		Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error)
	}
}

func (e *HostedOCRExtractor) Name() string    { return "hostedocr" }
func (e *HostedOCRExtractor) Version() string { return "2026-01" }
func (e *HostedOCRExtractor) Priority() int   { return 3 }
func (e *HostedOCRExtractor) Capabilities() registry.Capabilities {
	return registry.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: false,
		SupportsImages:   true,
		SupportsOCR:      true,
		Precision:        registry.PrecisionMedium,
		Speed:            registry.SpeedSlow,
	}
}

func (e *HostedOCRExtractor) IsAvailable() bool {
	return e.APIKey != ""
}

func (e *HostedOCRExtractor) Extract(ctx context.Context, filePath string, opts job.Options) (job.CandidateExtraction, error) {
	if e.Client != nil {
		return e.Client.Extract(ctx, filePath, opts)
	}
	return runStub(ctx, e, filePath, opts, 0.80)
}

// runStub simulates a backend extraction: it respects ctx cancellation
// (the one behavior the executor actually depends on from a real
// backend) and otherwise returns a minimal, structurally valid
// CandidateExtraction. Real extraction logic is out of scope.
func runStub(ctx context.Context, e registry.Extractor, filePath string, opts job.Options, confidence float64) (job.CandidateExtraction, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return job.CandidateExtraction{}, ctx.Err()
	default:
	}

	if filePath == "" {
		return job.CandidateExtraction{}, fmt.Errorf("%s: empty file path", e.Name())
	}

	return job.CandidateExtraction{
		ExtractorName:    e.Name(),
		ExtractorVersion: e.Version(),
		Markdown:         fmt.Sprintf("<!-- extracted by %s -->\n", e.Name()),
		Confidence:       confidence,
		ElapsedMs:        time.Since(start).Milliseconds(),
		Success:          true,
		Priority:         e.Priority(),
	}, nil
}
