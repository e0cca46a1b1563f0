package bundler

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fluxbase-eu/bundlecheck/cli/util"
)

// DisplayResult prints one analysis in a human-readable block. elapsed is
// shown for fresh analyses when non-zero.
func DisplayResult(w io.Writer, result *Result, cached bool, elapsed time.Duration, showDetails bool) {
	title := result.PackageName
	if result.PackageVersion != "" {
		title += "@" + result.PackageVersion
	}
	_, _ = fmt.Fprintf(w, "\n=== Bundle Size: %s ===\n", title)

	if len(result.Exports) > 0 {
		_, _ = fmt.Fprintf(w, "Exports:    { %s }\n", strings.Join(result.Exports, ", "))
	}
	_, _ = fmt.Fprintf(w, "Platform:   %s\n", result.Platform)
	_, _ = fmt.Fprintf(w, "Minified:   %s\n", util.FormatBytes(result.RawSize))
	if result.GzipSize != nil {
		_, _ = fmt.Fprintf(w, "Gzipped:    %s (level %d)\n", util.FormatBytes(*result.GzipSize), result.GzipLevel)
	}
	if result.NamedExportCount > 0 {
		_, _ = fmt.Fprintf(w, "Named exports available: %d\n", result.NamedExportCount)
	}

	if len(result.Externals) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternals (not included in size):")
		for _, ext := range result.Externals {
			_, _ = fmt.Fprintf(w, "  - %s\n", ext)
		}
	}

	if len(result.Dependencies) > 0 {
		_, _ = fmt.Fprintf(w, "\nDependencies: %s\n", strings.Join(result.Dependencies, ", "))
	}

	if len(result.Breakdown) > 0 {
		displayBreakdown(w, result.Breakdown, showDetails)
	}

	if cached {
		_, _ = fmt.Fprintln(w, "\n(cached result, use --force to re-analyze)")
	} else if elapsed > 0 {
		_, _ = fmt.Fprintf(w, "\nAnalyzed in %s\n", util.FormatDuration(elapsed))
	}
	_, _ = fmt.Fprintln(w)
}

func displayBreakdown(w io.Writer, files []FileContribution, showDetails bool) {
	rows := SummarizeByPackage(files)
	heading := "\nBundle breakdown by package:"
	if showDetails {
		rows = files
		heading = "\nBundle breakdown:"
	}
	_, _ = fmt.Fprintln(w, heading)

	maxFiles := 10
	if showDetails {
		maxFiles = 25
	}

	// Calculate max path length for alignment
	maxPathLen := 0
	for i, file := range rows {
		if i >= maxFiles {
			break
		}
		displayPath := truncatePath(file.Path, 50)
		if len(displayPath) > maxPathLen {
			maxPathLen = len(displayPath)
		}
	}

	for i, file := range rows {
		if i >= maxFiles {
			_, _ = fmt.Fprintf(w, "  ... and %d more\n", len(rows)-maxFiles)
			break
		}

		displayPath := truncatePath(file.Path, 50)
		padding := strings.Repeat(" ", maxPathLen-len(displayPath))
		_, _ = fmt.Fprintf(w, "  %s%s  %10s  %5.1f%%\n",
			displayPath,
			padding,
			util.FormatBytes(file.BytesInOutput),
			file.Percentage,
		)
	}
}

// DisplaySummary prints a compact table of several analyses, largest first
func DisplaySummary(w io.Writer, results []*Result) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")

	sorted := append([]*Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RawSize > sorted[j].RawSize
	})

	names := make([]string, len(sorted))
	maxNameLen := len("PACKAGE")
	for i, r := range sorted {
		names[i] = r.PackageName + "@" + r.PackageVersion
		if len(names[i]) > maxNameLen {
			maxNameLen = len(names[i])
		}
	}

	_, _ = fmt.Fprintf(w, "PACKAGE%s  %10s  %10s  PLATFORM\n", strings.Repeat(" ", maxNameLen-7), "MINIFIED", "GZIPPED")
	_, _ = fmt.Fprintf(w, "%s  ----------  ----------  --------\n", strings.Repeat("-", maxNameLen))

	var totalRaw int64
	for i, r := range sorted {
		totalRaw += r.RawSize
		gz := "-"
		if r.GzipSize != nil {
			gz = util.FormatBytes(*r.GzipSize)
		}
		_, _ = fmt.Fprintf(w, "%s%s  %10s  %10s  %s\n",
			names[i],
			strings.Repeat(" ", maxNameLen-len(names[i])),
			util.FormatBytes(r.RawSize),
			gz,
			r.Platform,
		)
	}

	_, _ = fmt.Fprintf(w, "%s  ----------\n", strings.Repeat("-", maxNameLen))
	_, _ = fmt.Fprintf(w, "TOTAL%s  %10s\n", strings.Repeat(" ", maxNameLen-5), util.FormatBytes(totalRaw))
	_, _ = fmt.Fprintln(w)
}

// truncatePath shortens a path if it's too long
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
