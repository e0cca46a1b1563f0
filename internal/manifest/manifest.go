// Package manifest reads and writes npm package.json files.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileName is the npm manifest file name
const FileName = "package.json"

// Manifest represents the subset of package.json fields bundlecheck reads
type Manifest struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Main             string            `json:"main,omitempty"`
	Module           string            `json:"module,omitempty"`
	Browser          json.RawMessage   `json:"browser,omitempty"`
	Types            string            `json:"types,omitempty"`
	Typings          string            `json:"typings,omitempty"`
	Exports          json.RawMessage   `json:"exports,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	Engines          map[string]string `json:"engines,omitempty"`
}

// Load reads the package.json in dir
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from an install directory we own
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &m, nil
}

// PackageDir returns the directory of an installed package inside a workspace
func PackageDir(workDir, name string) string {
	return filepath.Join(workDir, "node_modules", filepath.FromSlash(name))
}

// WriteDependencies writes a minimal private manifest declaring deps.
func WriteDependencies(dir string, deps map[string]string) error {
	doc := struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Private      bool              `json:"private"`
		Dependencies map[string]string `json:"dependencies"`
	}{
		Name:         "bundlecheck-workspace",
		Version:      "0.0.0",
		Private:      true,
		Dependencies: deps,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// DependencyNames returns the sorted, de-duplicated names of prod and peer
// dependencies.
func (m *Manifest) DependencyNames() []string {
	seen := make(map[string]bool, len(m.Dependencies)+len(m.PeerDependencies))
	names := make([]string, 0, len(m.Dependencies)+len(m.PeerDependencies))
	for _, deps := range []map[string]string{m.Dependencies, m.PeerDependencies} {
		for name := range deps {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// HasDependency reports whether name is a prod or peer dependency
func (m *Manifest) HasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.PeerDependencies[name]
	return ok
}

// ExportsMap returns the "exports" field normalized to subpath → target.
//
// A string or a conditions object without "." keys is treated as the "."
// entry. Returns nil when the field is absent or malformed.
func (m *Manifest) ExportsMap() map[string]json.RawMessage {
	if len(m.Exports) == 0 {
		return nil
	}

	var str string
	if err := json.Unmarshal(m.Exports, &str); err == nil {
		return map[string]json.RawMessage{".": m.Exports}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(m.Exports, &obj); err != nil {
		return nil
	}

	for key := range obj {
		if strings.HasPrefix(key, ".") {
			return obj
		}
	}
	return map[string]json.RawMessage{".": m.Exports}
}

// HasMainEntry reports whether the package can be imported by its bare name.
func (m *Manifest) HasMainEntry() bool {
	if m.Main != "" || m.Module != "" {
		return true
	}
	exports := m.ExportsMap()
	if exports == nil {
		// Node falls back to index.js when neither main nor exports is set.
		return true
	}
	_, ok := exports["."]
	return ok
}

// Subpaths returns the importable subpaths declared in "exports", sorted,
// without the "./" prefix. The root entry, package.json and wildcard
// patterns are skipped.
func (m *Manifest) Subpaths() []string {
	var subpaths []string
	for key := range m.ExportsMap() {
		if key == "." || key == "./package.json" || strings.Contains(key, "*") {
			continue
		}
		if !strings.HasPrefix(key, "./") {
			continue
		}
		subpaths = append(subpaths, strings.TrimPrefix(key, "./"))
	}
	sort.Strings(subpaths)
	return subpaths
}

// ResolveTarget picks a file from an exports target, preferring type
// declarations when typesFirst is set. Conditions are searched in a fixed
// order so the result is deterministic.
func ResolveTarget(target json.RawMessage, typesFirst bool) string {
	var str string
	if err := json.Unmarshal(target, &str); err == nil {
		return str
	}

	var list []json.RawMessage
	if err := json.Unmarshal(target, &list); err == nil {
		for _, item := range list {
			if resolved := ResolveTarget(item, typesFirst); resolved != "" {
				return resolved
			}
		}
		return ""
	}

	var conds map[string]json.RawMessage
	if err := json.Unmarshal(target, &conds); err != nil {
		return ""
	}

	order := []string{"import", "module", "browser", "default", "require", "node"}
	if typesFirst {
		order = append([]string{"types", "typings"}, order...)
	}
	for _, cond := range order {
		if next, ok := conds[cond]; ok {
			if resolved := ResolveTarget(next, typesFirst); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}
