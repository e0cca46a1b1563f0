package trend

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fluxbase-eu/bundlecheck/cli/util"
)

// RenderOptions controls the bar graph
type RenderOptions struct {
	// BarWidth is the length of the longest bar
	BarWidth int

	// MinBarWidth is the length of the shortest bar
	MinBarWidth int
}

// DefaultRenderOptions returns sensible widths for an 80 column terminal
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{BarWidth: 30, MinBarWidth: 3}
}

const barChar = "█"

// Render draws one bar graph per metric and the oldest → newest change.
// Bars are scaled between the metric's min and max so small differences
// stay visible.
func Render(w io.Writer, report *Report, opts RenderOptions) {
	if opts.BarWidth <= 0 {
		opts.BarWidth = DefaultRenderOptions().BarWidth
	}
	if opts.MinBarWidth <= 0 || opts.MinBarWidth > opts.BarWidth {
		opts.MinBarWidth = 1
	}

	_, _ = fmt.Fprintf(w, "\n=== Bundle Size Trend: %s ===\n", report.PackageName)

	versionWidth := 0
	for _, r := range report.Results {
		if len(r.Version) > versionWidth {
			versionWidth = len(r.Version)
		}
	}

	raw := make([]int64, len(report.Results))
	for i, r := range report.Results {
		raw[i] = r.RawSize
	}
	renderMetric(w, "Minified", report.Results, raw, versionWidth, opts)

	var gzip []int64
	for _, r := range report.Results {
		if r.GzipSize == nil {
			gzip = nil
			break
		}
		gzip = append(gzip, *r.GzipSize)
	}
	if gzip != nil {
		renderMetric(w, "Gzipped", report.Results, gzip, versionWidth, opts)
	}

	if c := report.Change; c != nil {
		_, _ = fmt.Fprintf(w, "\nChange %s → %s:\n", c.FromVersion, c.ToVersion)
		_, _ = fmt.Fprintf(w, "  Minified: %s\n", formatChange(c.RawDelta, c.RawPercent))
		if c.GzipDelta != nil {
			_, _ = fmt.Fprintf(w, "  Gzipped:  %s\n", formatChange(*c.GzipDelta, c.GzipPercent))
		}
	}
	_, _ = fmt.Fprintln(w)
}

func renderMetric(w io.Writer, title string, results []VersionResult, values []int64, versionWidth int, opts RenderOptions) {
	_, _ = fmt.Fprintf(w, "\n%s:\n", title)

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	for i, r := range results {
		width := BarLength(values[i], lo, hi, opts)
		_, _ = fmt.Fprintf(w, "  %-*s  %s %s\n",
			versionWidth, r.Version,
			strings.Repeat(barChar, width),
			util.FormatBytes(values[i]),
		)
	}
}

// BarLength scales value into [MinBarWidth, BarWidth] relative to lo..hi.
// When every value is equal, all bars are full width.
func BarLength(value, lo, hi int64, opts RenderOptions) int {
	if hi == lo {
		return opts.BarWidth
	}
	span := float64(opts.BarWidth - opts.MinBarWidth)
	ratio := float64(value-lo) / float64(hi-lo)
	return opts.MinBarWidth + int(math.Round(ratio*span))
}

func formatChange(delta int64, pct *float64) string {
	if pct == nil {
		return util.FormatDelta(delta)
	}
	return util.FormatDelta(delta) + " " + util.FormatPercent(*pct)
}
