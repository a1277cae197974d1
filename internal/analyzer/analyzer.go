// Package analyzer reports how much each input file contributes to its
// bundle's output.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/mediapack/internal/bundle"
	"github.com/fluxbase-eu/mediapack/internal/pipeline"
)

// AnalysisResult contains the analyzed bundle information
type AnalysisResult struct {
	Bundle     string         `json:"bundle" yaml:"bundle"`
	Kind       string         `json:"kind" yaml:"kind"`
	Mode       string         `json:"mode" yaml:"mode"`
	InputBytes int            `json:"input_bytes" yaml:"input_bytes"`
	TotalBytes int            `json:"total_bytes" yaml:"total_bytes"`
	InputFiles []FileAnalysis `json:"files" yaml:"files"`
	Warnings   []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FileAnalysis contains analysis for a single file
type FileAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	// Order is the file's position in the manifest.
	Order int `json:"order" yaml:"order"`
}

// Analyzer builds bundles in memory without writing any output.
type Analyzer struct {
	builder   *pipeline.Builder
	warnBytes int
}

// NewAnalyzer creates an analyzer. Files and bundles whose output exceeds
// warnBytes produce a warning; 0 disables warnings.
func NewAnalyzer(builder *pipeline.Builder, warnBytes int) *Analyzer {
	return &Analyzer{builder: builder, warnBytes: warnBytes}
}

// Analyze analyzes the bundles named by ids, or every bundle when ids is
// empty.
func (a *Analyzer) Analyze(ctx context.Context, ids []string) ([]*AnalysisResult, error) {
	graph, err := a.builder.Graph(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := graph.Select(ids)
	if err != nil {
		return nil, err
	}

	results := make([]*AnalysisResult, 0, len(selected))
	for _, r := range selected {
		result, err := a.AnalyzeBundle(ctx, r)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// AnalyzeBundle compiles and minifies each file of r on its own to measure
// its contribution, and the whole bundle to measure the real output size.
func (a *Analyzer) AnalyzeBundle(ctx context.Context, r bundle.Resolved) (*AnalysisResult, error) {
	parts, err := a.builder.Parts(ctx, r)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{
		Bundle: r.ID.String(),
		Kind:   r.ID.Kind.String(),
		Mode:   string(a.builder.Minifier().Mode()),
	}

	var combined bytes.Buffer
	contributed := 0
	for i, part := range parts {
		out, err := a.builder.Minify(r.ID, part.Data)
		if err != nil {
			return nil, &pipeline.BundleError{ID: r.ID, Path: part.Path, Err: err}
		}
		combined.Write(part.Data)
		result.InputBytes += part.RawBytes
		contributed += len(out)
		result.InputFiles = append(result.InputFiles, FileAnalysis{
			Path:          a.displayPath(part.Path),
			Bytes:         part.RawBytes,
			BytesInOutput: len(out),
			Order:         i + 1,
		})
	}

	total, err := a.builder.Minify(r.ID, combined.Bytes())
	if err != nil {
		return nil, &pipeline.BundleError{ID: r.ID, Err: err}
	}
	result.TotalBytes = len(total)

	for i := range result.InputFiles {
		if contributed > 0 {
			result.InputFiles[i].Percentage = float64(result.InputFiles[i].BytesInOutput) / float64(contributed) * 100
		}
	}

	// Sort by bytes in output (largest first)
	sort.SliceStable(result.InputFiles, func(i, j int) bool {
		return result.InputFiles[i].BytesInOutput > result.InputFiles[j].BytesInOutput
	})

	if a.warnBytes > 0 {
		if result.TotalBytes > a.warnBytes {
			result.Warnings = append(result.Warnings, fmt.Sprintf("bundle output is %s, over the %s limit",
				formatBytesHuman(result.TotalBytes), formatBytesHuman(a.warnBytes)))
		}
		for _, f := range result.InputFiles {
			if f.BytesInOutput > a.warnBytes {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s contributes %s, over the %s limit",
					f.Path, formatBytesHuman(f.BytesInOutput), formatBytesHuman(a.warnBytes)))
			}
		}
	}

	return result, nil
}

// displayPath shows files relative to the project root.
func (a *Analyzer) displayPath(path string) string {
	rel, err := filepath.Rel(a.builder.Config().Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
