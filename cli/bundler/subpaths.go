package bundler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/internal/manifest"
)

// SubpathResolution says where requested exports live in an exports-only
// package
type SubpathResolution struct {
	// Subpath is set when every name was found in one subpath
	Subpath string

	// ExportSubpaths maps each name to its subpath when they span several
	ExportSubpaths map[string]string

	// AllSubpaths is set when some names could not be located and every
	// subpath should be bundled instead
	AllSubpaths bool
}

// ResolveExportSubpaths locates the subpath declaring each requested name.
//
// Subpaths are scanned in sorted order and the first match per name wins.
// The declaration file of each subpath is preferred, falling back to its JS
// target.
func ResolveExportSubpaths(pkgDir string, exportsMap map[string]json.RawMessage, names []string) SubpathResolution {
	names = dedupe(names)
	if len(names) == 0 {
		return SubpathResolution{}
	}

	keys := make([]string, 0, len(exportsMap))
	for key := range exportsMap {
		if key == "." || key == "./package.json" || strings.Contains(key, "*") || !strings.HasPrefix(key, "./") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	found := make(map[string]string, len(names))
	for _, key := range keys {
		if len(found) == len(names) {
			break
		}
		content, ok := readSubpathSource(pkgDir, exportsMap[key])
		if !ok {
			continue
		}
		subpath := strings.TrimPrefix(key, "./")
		for _, name := range names {
			if _, done := found[name]; done {
				continue
			}
			if declaresExport(content, name) {
				found[name] = subpath
			}
		}
	}

	if len(found) < len(names) {
		log.Debug().
			Int("requested", len(names)).
			Int("found", len(found)).
			Msg("Not all exports located in subpaths, bundling all subpaths")
		return SubpathResolution{AllSubpaths: true}
	}

	distinct := make(map[string]bool)
	for _, sub := range found {
		distinct[sub] = true
	}
	if len(distinct) == 1 {
		for sub := range distinct {
			return SubpathResolution{Subpath: sub}
		}
	}
	return SubpathResolution{ExportSubpaths: found}
}

func readSubpathSource(pkgDir string, target json.RawMessage) (string, bool) {
	for _, typesFirst := range []bool{true, false} {
		rel := manifest.ResolveTarget(target, typesFirst)
		if rel == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pkgDir, filepath.FromSlash(rel))) //nolint:gosec // path comes from an installed package manifest
		if err == nil {
			return string(data), true
		}
	}
	return "", false
}

// declaresExport tests the three export forms a subpath file may use
func declaresExport(content, name string) bool {
	quoted := regexp.QuoteMeta(name)
	patterns := []string{
		`export\s*(?:type\s*)?\{(?:[^}]*[\s,])?` + quoted + `\s*[,}]`,
		`export\s+declare\s+(?:const|function|class)\s+` + quoted + `\b`,
		`export\s+(?:const|function|class)\s+` + quoted + `\b`,
	}
	for _, p := range patterns {
		if regexp.MustCompile(p).MatchString(content) {
			return true
		}
	}
	return false
}

// displayName renders the package name with the resolved subpath(s)
func displayName(pkgName string, res SubpathResolution) string {
	switch {
	case res.Subpath != "":
		return pkgName + "/" + res.Subpath
	case len(res.ExportSubpaths) > 0:
		seen := make(map[string]bool)
		var subs []string
		for _, sub := range res.ExportSubpaths {
			if !seen[sub] {
				seen[sub] = true
				subs = append(subs, sub)
			}
		}
		sort.Strings(subs)
		return pkgName + "/{" + strings.Join(subs, ", ") + "}"
	default:
		return pkgName
	}
}
