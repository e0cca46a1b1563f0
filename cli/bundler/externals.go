package bundler

import "strings"

// KnownSubpaths maps a default external to the public subpaths that must be
// externalized alongside it. esbuild does not treat "react/jsx-runtime" as
// external just because "react" is.
//
// Every key is also a default external candidate: it is externalized when the
// analyzed package declares it as a dependency.
var KnownSubpaths = map[string][]string{
	"react":     {"react/jsx-runtime", "react/jsx-dev-runtime"},
	"react-dom": {"react-dom/client", "react-dom/server"},
}

// defaultExternals returns the default candidates in a stable order
func defaultExternals() []string {
	return []string{"react", "react-dom"}
}

// ResolveExternals computes the externals applied to a bundle.
//
// noExternal wins over everything. Default candidates are only used when the
// package depends on them and never for the package itself. Explicit extras
// are appended, de-duplicated, in the order given.
func ResolveExternals(pkgName string, extra []string, noExternal bool, deps []string) []string {
	if noExternal {
		return []string{}
	}

	declared := make(map[string]bool, len(deps))
	for _, dep := range deps {
		declared[dep] = true
	}

	seen := make(map[string]bool)
	result := []string{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		result = append(result, name)
	}

	for _, candidate := range defaultExternals() {
		if candidate != pkgName && declared[candidate] {
			add(candidate)
		}
	}
	for _, name := range extra {
		add(strings.TrimSpace(name))
	}

	return result
}

// ExpandExternals adds the known public subpaths of each external. The
// result is what the engine receives; callers report the unexpanded list.
func ExpandExternals(externals []string) []string {
	expanded := make([]string, 0, len(externals))
	seen := make(map[string]bool)
	for _, ext := range externals {
		for _, name := range append([]string{ext}, KnownSubpaths[ext]...) {
			if !seen[name] {
				seen[name] = true
				expanded = append(expanded, name)
			}
		}
	}
	return expanded
}

// UnresolvedDefaultExternal maps a module esbuild could not resolve back to
// the default external it belongs to, matching the exact name or a
// "name/" prefix.
func UnresolvedDefaultExternal(module string) (string, bool) {
	for _, candidate := range defaultExternals() {
		if module == candidate || strings.HasPrefix(module, candidate+"/") {
			return candidate, true
		}
	}
	return "", false
}

// withExternal returns externals with name appended if missing
func withExternal(externals []string, name string) []string {
	for _, ext := range externals {
		if ext == name {
			return externals
		}
	}
	out := make([]string, 0, len(externals)+1)
	out = append(out, externals...)
	return append(out, name)
}
