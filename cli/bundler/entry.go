package bundler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	modulePathPattern = regexp.MustCompile(`^[A-Za-z0-9@._/\-]+$`)
)

// IsIdentifier reports whether s is safe to emit as a JavaScript identifier
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// IsModulePath reports whether s is safe to emit inside an import string
func IsModulePath(s string) bool {
	return modulePathPattern.MatchString(s) && !strings.Contains(s, "..")
}

// EntryRequest describes the surface the synthetic entry must import
type EntryRequest struct {
	// PackageName is the bare package name
	PackageName string

	// Subpath is a single resolved subpath, without "./"
	Subpath string

	// Exports are the requested export names
	Exports []string

	// ExportSubpaths maps export name to subpath when the names span
	// several subpaths
	ExportSubpaths map[string]string

	// HasMainEntry is false for exports-only packages
	HasMainEntry bool

	// AllSubpaths lists every declared subpath, used when there is no main
	// entry and nothing more specific was requested
	AllSubpaths []string
}

func (r EntryRequest) importPath(subpath string) string {
	if subpath == "" {
		return r.PackageName
	}
	return r.PackageName + "/" + subpath
}

// SynthesizeEntry returns the source of an ES module that imports exactly
// the requested surface of a package. Every interpolated name is validated
// first; unsafe input is an error, never emitted.
func SynthesizeEntry(req EntryRequest) (string, error) {
	if err := validateModulePath(req.PackageName); err != nil {
		return "", err
	}

	switch {
	case spansSubpaths(req.ExportSubpaths):
		return multiSubpathEntry(req)

	case len(req.Exports) > 0:
		path := req.importPath(req.Subpath)
		if err := validateModulePath(path); err != nil {
			return "", err
		}
		if err := validateIdentifiers(req.Exports); err != nil {
			return "", err
		}
		list := strings.Join(req.Exports, ", ")
		return fmt.Sprintf("import { %s } from %q;\nexport { %s };\n", list, path, list), nil

	case req.Subpath != "":
		return namespaceEntry(req.importPath(req.Subpath))

	case !req.HasMainEntry && len(req.AllSubpaths) > 0:
		var b strings.Builder
		locals := make([]string, 0, len(req.AllSubpaths))
		for i, sub := range req.AllSubpaths {
			path := req.importPath(sub)
			if err := validateModulePath(path); err != nil {
				return "", err
			}
			local := fmt.Sprintf("_mod%d", i)
			locals = append(locals, local)
			fmt.Fprintf(&b, "import * as %s from %q;\n", local, path)
		}
		fmt.Fprintf(&b, "export { %s };\n", strings.Join(locals, ", "))
		return b.String(), nil

	default:
		return namespaceEntry(req.PackageName)
	}
}

func namespaceEntry(path string) (string, error) {
	if err := validateModulePath(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("import * as _mod from %q;\nexport default _mod;\n", path), nil
}

// multiSubpathEntry emits one named import per subpath and a single export
// list. Subpaths and names are sorted so output is deterministic.
func multiSubpathEntry(req EntryRequest) (string, error) {
	bySubpath := make(map[string][]string)
	for name, sub := range req.ExportSubpaths {
		bySubpath[sub] = append(bySubpath[sub], name)
	}
	subpaths := make([]string, 0, len(bySubpath))
	for sub := range bySubpath {
		subpaths = append(subpaths, sub)
	}
	sort.Strings(subpaths)

	var b strings.Builder
	var all []string
	for _, sub := range subpaths {
		names := bySubpath[sub]
		sort.Strings(names)
		if err := validateIdentifiers(names); err != nil {
			return "", err
		}
		path := req.importPath(sub)
		if err := validateModulePath(path); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "import { %s } from %q;\n", strings.Join(names, ", "), path)
		all = append(all, names...)
	}
	fmt.Fprintf(&b, "export { %s };\n", strings.Join(all, ", "))
	return b.String(), nil
}

func spansSubpaths(m map[string]string) bool {
	if len(m) == 0 {
		return false
	}
	var first string
	for _, sub := range m {
		if first == "" {
			first = sub
		} else if sub != first {
			return true
		}
	}
	return false
}

func validateIdentifiers(names []string) error {
	for _, name := range names {
		if !IsIdentifier(name) {
			return fmt.Errorf("%w: %q is not a valid export name", ErrInvalidOption, name)
		}
	}
	return nil
}

func validateModulePath(path string) error {
	if !IsModulePath(path) {
		return fmt.Errorf("%w: %q is not a valid module path", ErrInvalidOption, path)
	}
	return nil
}
