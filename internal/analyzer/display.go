package analyzer

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// DisplayAnalysis prints the bundle analysis in a formatted way
func DisplayAnalysis(w io.Writer, result *AnalysisResult, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s (%s) ===\n", result.Bundle, result.Mode)
	_, _ = fmt.Fprintf(w, "Input size:  %s\n", formatBytesHuman(result.InputBytes))
	_, _ = fmt.Fprintf(w, "Output size: %s\n", formatBytesHuman(result.TotalBytes))

	if len(result.InputFiles) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		// Determine how many files to show
		maxFiles := 10
		if showDetails {
			maxFiles = len(result.InputFiles)
		}

		// Calculate max path length for alignment
		maxPathLen := 0
		for i, file := range result.InputFiles {
			if i >= maxFiles {
				break
			}
			displayPath := truncatePath(file.Path, 50)
			if len(displayPath) > maxPathLen {
				maxPathLen = len(displayPath)
			}
		}

		for i, file := range result.InputFiles {
			if i >= maxFiles {
				remaining := len(result.InputFiles) - maxFiles
				_, _ = fmt.Fprintf(w, "  ... and %d more files\n", remaining)
				break
			}

			displayPath := truncatePath(file.Path, 50)
			padding := strings.Repeat(" ", maxPathLen-len(displayPath))
			_, _ = fmt.Fprintf(w, "  %s%s  %10s  %10s  %5.1f%%\n",
				displayPath,
				padding,
				formatBytesHuman(file.Bytes),
				formatBytesHuman(file.BytesInOutput),
				file.Percentage,
			)
		}
	}

	if len(result.Warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range result.Warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	_, _ = fmt.Fprintln(w)
}

// DisplaySummary prints a compact summary of multiple analyses
func DisplaySummary(w io.Writer, results []*AnalysisResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")

	sorted := append([]*AnalysisResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalBytes > sorted[j].TotalBytes
	})

	maxNameLen := 6 // "BUNDLE"
	for _, r := range sorted {
		if len(r.Bundle) > maxNameLen {
			maxNameLen = len(r.Bundle)
		}
	}

	namePadding := strings.Repeat(" ", maxNameLen-6)
	_, _ = fmt.Fprintf(w, "BUNDLE%s  INPUT SIZE  OUTPUT SIZE  FILES  WARNINGS\n", namePadding)
	_, _ = fmt.Fprintf(w, "%s  ----------  -----------  -----  --------\n", strings.Repeat("-", maxNameLen))

	var totalSize int
	for _, r := range sorted {
		totalSize += r.TotalBytes
		padding := strings.Repeat(" ", maxNameLen-len(r.Bundle))
		_, _ = fmt.Fprintf(w, "%s%s  %10s  %11s  %5d  %8d\n",
			r.Bundle,
			padding,
			formatBytesHuman(r.InputBytes),
			formatBytesHuman(r.TotalBytes),
			len(r.InputFiles),
			len(r.Warnings),
		)
	}

	_, _ = fmt.Fprintf(w, "%s  ----------  -----------  -----  --------\n", strings.Repeat("-", maxNameLen))
	totalPadding := strings.Repeat(" ", maxNameLen-5)
	_, _ = fmt.Fprintf(w, "TOTAL%s  %10s  %11s\n", totalPadding, "", formatBytesHuman(totalSize))
	_, _ = fmt.Fprintln(w)
}

// formatBytesHuman formats bytes in human-readable format
func formatBytesHuman(bytes int) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// truncatePath shortens a path if it's too long
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
