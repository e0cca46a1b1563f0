// Package exports discovers the named exports of an installed npm package by
// scanning its TypeScript declaration files.
//
// The scanner is pattern based, not a compiler front end. It follows
// "export * from" chains across files, bounded by a depth limit, a file
// limit and a visited set so cyclic barrel files terminate.
package exports

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/internal/manifest"
)

// Kind classifies a named export
type Kind string

const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindConst     Kind = "const"
	KindType      Kind = "type"
	KindInterface Kind = "interface"
	KindEnum      Kind = "enum"
	KindUnknown   Kind = "unknown"
)

// IsRuntime reports whether exports of this kind exist at runtime
func (k Kind) IsRuntime() bool {
	return k != KindType && k != KindInterface
}

// NamedExport is a single exported identifier
type NamedExport struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Result holds the exports found for a package
type Result struct {
	Exports        []NamedExport `json:"exports"`
	Count          int           `json:"count"`
	RuntimeExports []NamedExport `json:"runtimeExports"`
	RuntimeCount   int           `json:"runtimeCount"`
}

const (
	DefaultMaxDepth = 10
	DefaultMaxFiles = 500
)

// fallbackEntries are tried when package.json does not point at declarations
var fallbackEntries = []string{
	"index.d.ts",
	"dist/index.d.ts",
	"lib/index.d.ts",
	"types/index.d.ts",
	"build/index.d.ts",
	"dist/types/index.d.ts",
}

// Analyzer scans declaration files for exports
type Analyzer struct {
	MaxDepth int
	MaxFiles int
}

// NewAnalyzer creates an analyzer with the default guard limits
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		MaxDepth: DefaultMaxDepth,
		MaxFiles: DefaultMaxFiles,
	}
}

// Analyze returns the named exports of the package installed at pkgDir.
// It never fails: any problem yields an empty result.
func Analyze(pkgDir, pkgName string) Result {
	return NewAnalyzer().Analyze(pkgDir, pkgName)
}

// Analyze returns the named exports of the package installed at pkgDir.
func (a *Analyzer) Analyze(pkgDir, pkgName string) Result {
	m, err := manifest.Load(pkgDir)
	if err != nil {
		log.Debug().Err(err).Str("package", pkgName).Msg("No readable manifest for export analysis")
		return newResult(nil)
	}

	entry := findDeclarationEntry(pkgDir, m)
	if entry == "" {
		log.Debug().Str("package", pkgName).Msg("No type declarations found")
		return newResult(nil)
	}

	return a.AnalyzeFile(entry)
}

// AnalyzeFile scans a single declaration file and everything it re-exports.
func (a *Analyzer) AnalyzeFile(path string) Result {
	s := &scan{
		analyzer: a,
		visited:  make(map[string]bool),
		found:    make(map[string]Kind),
	}
	s.file(path, 0)

	collected := make([]NamedExport, 0, len(s.found))
	for name, kind := range s.found {
		collected = append(collected, NamedExport{Name: name, Kind: kind})
	}
	return newResult(collected)
}

func newResult(collected []NamedExport) Result {
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Name < collected[j].Name
	})

	runtime := make([]NamedExport, 0, len(collected))
	for _, e := range collected {
		if e.Kind.IsRuntime() {
			runtime = append(runtime, e)
		}
	}

	if collected == nil {
		collected = []NamedExport{}
	}
	return Result{
		Exports:        collected,
		Count:          len(collected),
		RuntimeExports: runtime,
		RuntimeCount:   len(runtime),
	}
}

// findDeclarationEntry locates the root declaration file of a package
func findDeclarationEntry(pkgDir string, m *manifest.Manifest) string {
	candidates := []string{m.Types, m.Typings}

	if root, ok := m.ExportsMap()["."]; ok {
		if target := manifest.ResolveTarget(root, true); isDeclarationFile(target) {
			candidates = append(candidates, target)
		}
	}

	candidates = append(candidates, fallbackEntries...)

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		path := filepath.Join(pkgDir, filepath.FromSlash(candidate))
		if isFile(path) {
			return path
		}
	}
	return ""
}

// scan holds the state of one analysis run
type scan struct {
	analyzer *Analyzer
	visited  map[string]bool
	found    map[string]Kind
}

func (s *scan) add(name string, kind Kind) {
	if name == "default" || strings.HasPrefix(name, "_") {
		return
	}
	if _, exists := s.found[name]; exists {
		return
	}
	s.found[name] = kind
}

func (s *scan) file(path string, depth int) {
	if depth > s.analyzer.MaxDepth {
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if s.visited[abs] || len(s.visited) >= s.analyzer.MaxFiles {
		return
	}
	s.visited[abs] = true

	data, err := os.ReadFile(abs) //nolint:gosec // declaration files inside an installed package
	if err != nil {
		log.Debug().Err(err).Str("file", abs).Msg("Skipping unreadable declaration file")
		return
	}
	content := stripDecoration(string(data))

	s.declarations(content)
	s.lists(content)

	for _, match := range reExportAllPattern.FindAllStringSubmatch(content, -1) {
		target := resolveRelative(filepath.Dir(abs), match[1])
		if target == "" {
			continue
		}
		s.file(target, depth+1)
	}
}

// declarations records directly declared exports
func (s *scan) declarations(content string) {
	patterns := []struct {
		re   *regexp.Regexp
		kind Kind
	}{
		{functionPattern, KindFunction},
		{classPattern, KindClass},
		{enumPattern, KindEnum},
		{constPattern, KindConst},
		{typeAliasPattern, KindType},
		{interfacePattern, KindInterface},
		{namespacePattern, KindUnknown},
	}

	for _, p := range patterns {
		for _, match := range p.re.FindAllStringSubmatch(content, -1) {
			// "export declare const enum X" is an enum, not a const named "enum"
			if p.kind == KindConst && match[1] == "enum" {
				continue
			}
			s.add(match[1], p.kind)
		}
	}
}

// lists records names from export brace lists and namespace re-exports
func (s *scan) lists(content string) {
	for _, match := range typeReExportList.FindAllStringSubmatch(content, -1) {
		for _, entry := range parseExportList(match[1]) {
			s.add(entry.name, KindType)
		}
	}

	for _, match := range valueReExportList.FindAllStringSubmatch(content, -1) {
		for _, entry := range parseExportList(match[1]) {
			s.add(entry.name, listKind(entry))
		}
	}

	for _, match := range localExportGroup.FindAllStringSubmatch(content, -1) {
		if match[3] != "" {
			continue
		}
		typeOnly := match[1] != ""
		for _, entry := range parseExportList(match[2]) {
			if typeOnly {
				entry.typeOnly = true
			}
			s.add(entry.name, listKind(entry))
		}
	}

	for _, match := range namespaceReExport.FindAllStringSubmatch(content, -1) {
		s.add(match[1], KindConst)
	}
}

func listKind(entry listEntry) Kind {
	if entry.typeOnly {
		return KindType
	}
	return KindUnknown
}

var declarationSuffixes = []string{".d.ts", ".d.mts", ".d.cts", ".ts"}

// resolveRelative resolves a relative module specifier to a declaration
// file. Bare specifiers resolve to "".
func resolveRelative(dir, spec string) string {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return ""
	}

	base := filepath.Join(dir, filepath.FromSlash(spec))
	if isDeclarationFile(base) && isFile(base) {
		return base
	}

	stem := base
	for _, ext := range []string{".js", ".mjs", ".cjs"} {
		if strings.HasSuffix(stem, ext) {
			stem = strings.TrimSuffix(stem, ext)
			break
		}
	}

	for _, suffix := range declarationSuffixes {
		if candidate := stem + suffix; isFile(candidate) {
			return candidate
		}
	}
	for _, suffix := range declarationSuffixes {
		if candidate := filepath.Join(stem, "index"+suffix); isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func isDeclarationFile(path string) bool {
	for _, suffix := range declarationSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
