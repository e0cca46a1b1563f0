// Package bundler measures the bundled size of npm packages.
//
// A package is installed into a throwaway workspace, a synthetic entry module
// importing exactly the requested surface is bundled with esbuild, and the
// minified output is measured raw and gzipped.
package bundler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fluxbase-eu/bundlecheck/internal/registry"
)

// ErrInvalidOption is returned for options rejected before any work starts
var ErrInvalidOption = errors.New("invalid option")

// Platform is the esbuild platform a package is bundled for
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"

	// PlatformAuto means "detect from the package manifest"
	PlatformAuto Platform = ""
)

// ParsePlatform parses a platform name. "auto" and "" both select detection.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PlatformAuto, nil
	case "browser":
		return PlatformBrowser, nil
	case "node":
		return PlatformNode, nil
	default:
		return "", fmt.Errorf("%w: platform must be browser, node or auto (got %q)", ErrInvalidOption, s)
	}
}

const (
	DefaultGzipLevel = 5
	MinGzipLevel     = 1
	MaxGzipLevel     = 9
)

// Options describes one analysis request
type Options struct {
	// Package is the specifier, e.g. "react@18.2.0" or "@scope/pkg/sub"
	Package string

	// Exports limits the entry to these named exports
	Exports []string

	// External adds packages to leave out of the bundle
	External []string

	// NoExternal bundles everything, including default externals
	NoExternal bool

	// GzipLevel is the compression level used for measurement (1-9)
	GzipLevel int

	// Registry overrides the npm registry URL
	Registry string

	// Platform pins the target platform; PlatformAuto detects it
	Platform Platform

	// Details includes a per-input size breakdown in the result
	Details bool
}

// Normalize fills defaults and validates the options. Validation happens
// before any network or process work.
func (o Options) Normalize() (Options, error) {
	if strings.TrimSpace(o.Package) == "" {
		return o, fmt.Errorf("%w: package name is required", ErrInvalidOption)
	}

	if o.GzipLevel == 0 {
		o.GzipLevel = DefaultGzipLevel
	}
	if o.GzipLevel < MinGzipLevel || o.GzipLevel > MaxGzipLevel {
		return o, fmt.Errorf("%w: gzip level must be between %d and %d (got %d)", ErrInvalidOption, MinGzipLevel, MaxGzipLevel, o.GzipLevel)
	}

	platform, err := ParsePlatform(string(o.Platform))
	if err != nil {
		return o, err
	}
	o.Platform = platform

	if o.Registry != "" {
		validated, err := registry.ValidateURL(o.Registry)
		if err != nil {
			return o, err
		}
		o.Registry = validated
	}

	o.Exports = dedupe(o.Exports)
	o.External = dedupe(o.External)

	for _, name := range o.Exports {
		if !IsIdentifier(name) {
			return o, fmt.Errorf("%w: %q is not a valid export name", ErrInvalidOption, name)
		}
	}
	for _, ext := range o.External {
		if !IsModulePath(ext) {
			return o, fmt.Errorf("%w: %q is not a valid module name", ErrInvalidOption, ext)
		}
	}

	return o, nil
}

// dedupe returns values without repeats, keeping first occurrences. The
// input slice is never modified.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Result is the measured outcome of one analysis
type Result struct {
	PackageName      string             `json:"packageName" yaml:"packageName"`
	PackageVersion   string             `json:"packageVersion" yaml:"packageVersion"`
	Exports          []string           `json:"exports" yaml:"exports"`
	RawSize          int64              `json:"rawSize" yaml:"rawSize"`
	GzipSize         *int64             `json:"gzipSize" yaml:"gzipSize"`
	GzipLevel        int                `json:"gzipLevel" yaml:"gzipLevel"`
	Externals        []string           `json:"externals" yaml:"externals"`
	Dependencies     []string           `json:"dependencies" yaml:"dependencies"`
	Platform         Platform           `json:"platform" yaml:"platform"`
	NamedExportCount int                `json:"namedExportCount" yaml:"namedExportCount"`
	Breakdown        []FileContribution `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
}

// workspace is a temporary directory owned by a single analysis run
type workspace struct {
	dir string
}

// newWorkspace creates a uniquely named temporary directory under root (the
// system temp dir when root is empty).
func newWorkspace(root string) (*workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "bundlecheck-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &workspace{dir: dir}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *workspace) writeFile(name, content string) (string, error) {
	path := w.path(name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// cleanup removes the workspace. Failures are ignored.
func (w *workspace) cleanup() {
	_ = os.RemoveAll(w.dir)
}
