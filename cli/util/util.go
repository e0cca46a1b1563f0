// Package util provides utility functions for the bundlecheck CLI.
package util

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

var byteUnits = []string{"B", "kB", "MB", "GB"}

// FormatBytes formats a byte count with the largest fitting unit (base 1024),
// up to two decimals with trailing zeros trimmed: 1536 -> "1.5 kB".
func FormatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	negative := bytes < 0
	value := math.Abs(float64(bytes))

	exp := 0
	for value >= 1024 && exp < len(byteUnits)-1 {
		value /= 1024
		exp++
	}
	scaled := math.Round(value*100) / 100

	formatted := strconv.FormatFloat(scaled, 'f', -1, 64)
	if negative {
		formatted = "-" + formatted
	}
	return formatted + " " + byteUnits[exp]
}

// FormatDelta formats a signed byte difference, e.g. "+1.2 kB (+1,234 B)".
func FormatDelta(delta int64) string {
	sign := "+"
	if delta < 0 {
		sign = "-"
	}
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("%s%s (%s%s B)", sign, FormatBytes(abs), sign, humanize.Comma(abs))
}

// FormatPercent formats a percentage change with an explicit sign
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%+.1f%%", pct)
}

// FormatDuration formats a duration rounded for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// TruncateString truncates a string to the specified length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// IsInteractive returns true if stdout is a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	if !IsInteractive() {
		return fallback
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
