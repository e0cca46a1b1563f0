// Package trend compares bundle sizes across versions of one package.
package trend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
)

// DefaultVersionCount is the number of versions analyzed when unspecified
const DefaultVersionCount = 5

// ErrNoResults is returned when no version could be analyzed
var ErrNoResults = errors.New("failed to analyze any versions")

// VersionResult is the measured size of one version
type VersionResult struct {
	Version  string `json:"version" yaml:"version"`
	RawSize  int64  `json:"rawSize" yaml:"rawSize"`
	GzipSize *int64 `json:"gzipSize" yaml:"gzipSize"`
}

// Change summarizes oldest → newest growth
type Change struct {
	FromVersion string   `json:"fromVersion" yaml:"fromVersion"`
	ToVersion   string   `json:"toVersion" yaml:"toVersion"`
	RawDelta    int64    `json:"rawDelta" yaml:"rawDelta"`
	RawPercent  *float64 `json:"rawPercent" yaml:"rawPercent"`
	GzipDelta   *int64   `json:"gzipDelta,omitempty" yaml:"gzipDelta,omitempty"`
	GzipPercent *float64 `json:"gzipPercent,omitempty" yaml:"gzipPercent,omitempty"`
}

// Report is the outcome of a trend run
type Report struct {
	PackageName string          `json:"packageName" yaml:"packageName"`
	Results     []VersionResult `json:"results" yaml:"results"`
	Change      *Change         `json:"change" yaml:"change"`
}

// SelectVersions drops prereleases from a newest-first list and keeps the
// first count of what remains.
func SelectVersions(versions []string, count int) []string {
	if count <= 0 {
		count = DefaultVersionCount
	}
	selected := make([]string, 0, count)
	for _, v := range versions {
		if isPrerelease(v) {
			continue
		}
		selected = append(selected, v)
		if len(selected) == count {
			break
		}
	}
	return selected
}

func isPrerelease(v string) bool {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return strings.Contains(v, "-")
	}
	return parsed.Prerelease() != ""
}

// BundleAnalyzer is the part of the bundle pipeline a trend run needs
type BundleAnalyzer interface {
	Analyze(ctx context.Context, opts bundler.Options) (*bundler.Result, error)
}

// Analyze measures each version in turn with base as the template request.
// Versions run one after another; failures are logged and skipped. Results
// keep the order of versions.
func Analyze(ctx context.Context, analyzer BundleAnalyzer, pkgName string, versions []string, base bundler.Options) (*Report, error) {
	report := &Report{PackageName: pkgName, Results: []VersionResult{}}

	for _, version := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		opts := base
		opts.Package = pkgName + "@" + version

		result, err := analyzer.Analyze(ctx, opts)
		if err != nil {
			log.Warn().Err(err).Str("package", pkgName).Str("version", version).Msg("Skipping version")
			continue
		}

		report.Results = append(report.Results, VersionResult{
			Version:  version,
			RawSize:  result.RawSize,
			GzipSize: result.GzipSize,
		})
	}

	if len(report.Results) == 0 {
		return nil, fmt.Errorf("%w for package: %s", ErrNoResults, pkgName)
	}

	report.Change = Summarize(report.Results)
	return report, nil
}

// Summarize compares the oldest (last) and newest (first) results. Percent
// is nil when the baseline is zero. Returns nil for fewer than two results.
func Summarize(results []VersionResult) *Change {
	if len(results) < 2 {
		return nil
	}
	newest := results[0]
	oldest := results[len(results)-1]

	change := &Change{
		FromVersion: oldest.Version,
		ToVersion:   newest.Version,
		RawDelta:    newest.RawSize - oldest.RawSize,
		RawPercent:  percent(newest.RawSize, oldest.RawSize),
	}
	if newest.GzipSize != nil && oldest.GzipSize != nil {
		delta := *newest.GzipSize - *oldest.GzipSize
		change.GzipDelta = &delta
		change.GzipPercent = percent(*newest.GzipSize, *oldest.GzipSize)
	}
	return change
}

func percent(newest, oldest int64) *float64 {
	if oldest == 0 {
		return nil
	}
	p := float64(newest-oldest) / float64(oldest) * 100
	return &p
}
