package bundler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlecheck/internal/manifest"
	"github.com/fluxbase-eu/bundlecheck/internal/registry"
)

// =============================================================================
// Options
// =============================================================================

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		input   string
		want    Platform
		wantErr bool
	}{
		{"", PlatformAuto, false},
		{"auto", PlatformAuto, false},
		{"Browser", PlatformBrowser, false},
		{" node ", PlatformNode, false},
		{"deno", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePlatform(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsNormalize(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		opts, err := Options{Package: "react"}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, DefaultGzipLevel, opts.GzipLevel)
		assert.Equal(t, PlatformAuto, opts.Platform)
	})

	t.Run("trims registry", func(t *testing.T) {
		opts, err := Options{Package: "react", Registry: "https://npm.example.com/"}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, "https://npm.example.com", opts.Registry)
	})

	t.Run("drops repeated exports and externals", func(t *testing.T) {
		exports := []string{"b", "a", "b"}
		opts, err := Options{Package: "react", Exports: exports, External: []string{"vue", "vue"}}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, opts.Exports)
		assert.Equal(t, []string{"vue"}, opts.External)
		assert.Equal(t, []string{"b", "a", "b"}, exports)
	})

	tests := []struct {
		name string
		opts Options
		is   error
	}{
		{"missing package", Options{}, ErrInvalidOption},
		{"gzip too low", Options{Package: "a", GzipLevel: -1}, ErrInvalidOption},
		{"gzip too high", Options{Package: "a", GzipLevel: 10}, ErrInvalidOption},
		{"bad platform", Options{Package: "a", Platform: "deno"}, ErrInvalidOption},
		{"bad registry scheme", Options{Package: "a", Registry: "ftp://npm.example.com"}, registry.ErrInvalidURL},
		{"bad export", Options{Package: "a", Exports: []string{"a-b"}}, ErrInvalidOption},
		{"bad external", Options{Package: "a", External: []string{"x;rm -rf"}}, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Normalize()
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestWorkspace(t *testing.T) {
	root := t.TempDir()

	a, err := newWorkspace(root)
	require.NoError(t, err)
	b, err := newWorkspace(root)
	require.NoError(t, err)
	assert.NotEqual(t, a.dir, b.dir)

	path, err := a.writeFile("entry.js", "export {};")
	require.NoError(t, err)
	assert.FileExists(t, path)

	a.cleanup()
	b.cleanup()
	b.cleanup()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// Externals
// =============================================================================

func TestResolveExternals(t *testing.T) {
	tests := []struct {
		name       string
		pkg        string
		extra      []string
		noExternal bool
		deps       []string
		want       []string
	}{
		{"no deps", "left-pad", nil, false, nil, []string{}},
		{"consumer with react peer", "react-select", nil, false, []string{"react", "react-dom"}, []string{"react", "react-dom"}},
		{"react itself", "react", nil, false, []string{"react", "loose-envify"}, []string{}},
		{"react-dom keeps react", "react-dom", nil, false, []string{"react", "react-dom", "scheduler"}, []string{"react"}},
		{"extras appended and deduped", "ui", []string{"lodash", "react", "lodash"}, false, []string{"react"}, []string{"react", "lodash"}},
		{"no external wins", "ui", []string{"lodash"}, true, []string{"react"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveExternals(tt.pkg, tt.extra, tt.noExternal, tt.deps))
		})
	}
}

func TestExpandExternals(t *testing.T) {
	got := ExpandExternals([]string{"react", "lodash", "react-dom"})
	assert.Equal(t, []string{
		"react", "react/jsx-runtime", "react/jsx-dev-runtime",
		"lodash",
		"react-dom", "react-dom/client", "react-dom/server",
	}, got)
	assert.Empty(t, ExpandExternals(nil))
}

func TestUnresolvedDefaultExternal(t *testing.T) {
	tests := []struct {
		module string
		want   string
		ok     bool
	}{
		{"react", "react", true},
		{"react/jsx-runtime", "react", true},
		{"react-dom/client", "react-dom", true},
		{"react-router", "", false},
		{"lodash", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			got, ok := UnresolvedDefaultExternal(tt.module)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithExternal(t *testing.T) {
	base := []string{"lodash"}
	got := withExternal(base, "react")
	assert.Equal(t, []string{"lodash", "react"}, got)
	assert.Equal(t, []string{"lodash"}, base)
	assert.Equal(t, got, withExternal(got, "react"))
}

// =============================================================================
// Entry synthesis
// =============================================================================

func TestSynthesizeEntry(t *testing.T) {
	tests := []struct {
		name string
		req  EntryRequest
		want string
	}{
		{
			name: "whole package",
			req:  EntryRequest{PackageName: "react", HasMainEntry: true},
			want: "import * as _mod from \"react\";\nexport default _mod;\n",
		},
		{
			name: "named exports",
			req:  EntryRequest{PackageName: "lodash-es", Exports: []string{"debounce", "throttle"}, HasMainEntry: true},
			want: "import { debounce, throttle } from \"lodash-es\";\nexport { debounce, throttle };\n",
		},
		{
			name: "named exports from subpath",
			req:  EntryRequest{PackageName: "@ui/kit", Subpath: "header", Exports: []string{"Button"}},
			want: "import { Button } from \"@ui/kit/header\";\nexport { Button };\n",
		},
		{
			name: "single subpath",
			req:  EntryRequest{PackageName: "date-fns", Subpath: "locale", HasMainEntry: true},
			want: "import * as _mod from \"date-fns/locale\";\nexport default _mod;\n",
		},
		{
			name: "exports spanning subpaths",
			req: EntryRequest{
				PackageName:    "ui",
				Exports:        []string{"Link", "Button"},
				ExportSubpaths: map[string]string{"Button": "header", "Link": "footer", "Nav": "header"},
			},
			want: "import { Link } from \"ui/footer\";\nimport { Button, Nav } from \"ui/header\";\nexport { Link, Button, Nav };\n",
		},
		{
			name: "exports-only package",
			req:  EntryRequest{PackageName: "ui", AllSubpaths: []string{"footer", "header"}},
			want: "import * as _mod0 from \"ui/footer\";\nimport * as _mod1 from \"ui/header\";\nexport { _mod0, _mod1 };\n",
		},
		{
			name: "one-subpath map behaves like explicit exports",
			req:  EntryRequest{PackageName: "ui", Exports: []string{"Button"}, ExportSubpaths: map[string]string{"Button": "header"}},
			want: "import { Button } from \"ui\";\nexport { Button };\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SynthesizeEntry(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSynthesizeEntry_RejectsUnsafeInput(t *testing.T) {
	tests := []struct {
		name string
		req  EntryRequest
	}{
		{"quote in package", EntryRequest{PackageName: `evil"; import "fs`}},
		{"traversal", EntryRequest{PackageName: "ui", Subpath: "../../etc"}},
		{"bad export", EntryRequest{PackageName: "ui", Exports: []string{"a}; alert(1); {b"}}},
		{"bad subpath in all", EntryRequest{PackageName: "ui", AllSubpaths: []string{"ok", "no pe"}}},
		{"bad mapped export", EntryRequest{PackageName: "ui", ExportSubpaths: map[string]string{"1x": "a", "y": "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SynthesizeEntry(tt.req)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

// =============================================================================
// Subpath resolution
// =============================================================================

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
}

func exportsOnlyFixture() map[string]string {
	return map[string]string{
		"package.json": `{
  "name": "ui-kit",
  "version": "1.2.0",
  "exports": {
    "./header": {"types": "./header.d.ts", "import": "./header.js"},
    "./footer": {"types": "./footer.d.ts", "import": "./footer.js"},
    "./package.json": "./package.json"
  }
}`,
		"header.d.ts": "export declare function Button(): string;\nexport declare const Title: string;\n",
		"header.js":   "export function Button() { return \"button\"; }\nexport const Title = \"title\";\n",
		"footer.d.ts": "declare const Link: string;\nexport { Link };\n",
		"footer.js":   "export const Link = \"link\";\n",
	}
}

func loadExportsMap(t *testing.T, dir string) map[string]json.RawMessage {
	t.Helper()
	m, err := manifest.Load(dir)
	require.NoError(t, err)
	return m.ExportsMap()
}

func TestResolveExportSubpaths(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, exportsOnlyFixture())
	exportsMap := loadExportsMap(t, dir)

	t.Run("single subpath", func(t *testing.T) {
		res := ResolveExportSubpaths(dir, exportsMap, []string{"Button", "Title"})
		assert.Equal(t, SubpathResolution{Subpath: "header"}, res)
		assert.Equal(t, "ui-kit/header", displayName("ui-kit", res))
	})

	t.Run("multiple subpaths", func(t *testing.T) {
		res := ResolveExportSubpaths(dir, exportsMap, []string{"Button", "Link"})
		assert.Equal(t, map[string]string{"Button": "header", "Link": "footer"}, res.ExportSubpaths)
		assert.Equal(t, "ui-kit/{footer, header}", displayName("ui-kit", res))
	})

	t.Run("missing name falls back to all subpaths", func(t *testing.T) {
		res := ResolveExportSubpaths(dir, exportsMap, []string{"Button", "Missing"})
		assert.True(t, res.AllSubpaths)
		assert.Equal(t, "ui-kit", displayName("ui-kit", res))
	})

	t.Run("repeated name", func(t *testing.T) {
		res := ResolveExportSubpaths(dir, exportsMap, []string{"Button", "Button"})
		assert.Equal(t, SubpathResolution{Subpath: "header"}, res)
	})

	t.Run("no names", func(t *testing.T) {
		assert.Equal(t, SubpathResolution{}, ResolveExportSubpaths(dir, exportsMap, nil))
	})
}

func TestResolveExportSubpaths_FallsBackToJS(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"package.json": `{"name":"plain","exports":{"./utils":"./utils.js"}}`,
		"utils.js":     "export function chunk(a, n) { return [a, n]; }\n",
	})

	res := ResolveExportSubpaths(dir, loadExportsMap(t, dir), []string{"chunk"})
	assert.Equal(t, "utils", res.Subpath)
}

func TestDeclaresExport(t *testing.T) {
	tests := []struct {
		name    string
		content string
		export  string
		want    bool
	}{
		{"brace list", "export { a, Button, c };", "Button", true},
		{"brace list alias target", "export { X as Button };", "Button", true},
		{"brace list alias source", "export { Button as X };", "Button", false},
		{"type brace list", "export type { Props } from './p';", "Props", true},
		{"declare function", "export declare function Button(): void;", "Button", true},
		{"plain const", "export const Button = 1;", "Button", true},
		{"prefix only", "export const ButtonGroup = 1;", "Button", false},
		{"absent", "export const Link = 1;", "Button", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, declaresExport(tt.content, tt.export))
		})
	}
}

// =============================================================================
// Platform, gzip, metafile
// =============================================================================

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name string
		m    manifest.Manifest
		want Platform
	}{
		{"no engines", manifest.Manifest{}, PlatformBrowser},
		{"node engine", manifest.Manifest{Engines: map[string]string{"node": ">=18"}}, PlatformNode},
		{"node and browser engines", manifest.Manifest{Engines: map[string]string{"node": ">=18", "browser": "*"}}, PlatformBrowser},
		{
			"react peer overrides node engine",
			manifest.Manifest{Engines: map[string]string{"node": ">=18"}, PeerDependencies: map[string]string{"react": "^18"}},
			PlatformBrowser,
		},
		{
			"vue dependency overrides node engine",
			manifest.Manifest{Engines: map[string]string{"node": ">=18"}, Dependencies: map[string]string{"vue": "^3"}},
			PlatformBrowser,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlatform(&tt.m))
		})
	}
}

func TestGzipSize(t *testing.T) {
	data := []byte(repeat("export const value = 42;\n", 200))

	fast, err := GzipSize(data, 1)
	require.NoError(t, err)
	best, err := GzipSize(data, 9)
	require.NoError(t, err)

	assert.Greater(t, fast, int64(0))
	assert.Less(t, fast, int64(len(data)))
	assert.LessOrEqual(t, best, fast)

	_, err = GzipSize(data, 42)
	assert.Error(t, err)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestParseBreakdown(t *testing.T) {
	meta := `{
  "inputs": {},
  "outputs": {
    "bundle.js": {
      "bytes": 1000,
      "inputs": {
        "entry.js": {"bytesInOutput": 100},
        "node_modules/@scope/a/index.js": {"bytesInOutput": 600},
        "node_modules/b/lib/x.js": {"bytesInOutput": 200},
        "node_modules/b/lib/y.js": {"bytesInOutput": 100}
      }
    }
  }
}`

	files, err := ParseBreakdown(meta, "/tmp/ws")
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, "node_modules/@scope/a/index.js", files[0].Path)
	assert.Equal(t, "@scope/a", files[0].Package)
	assert.InDelta(t, 60.0, files[0].Percentage, 0.001)
	assert.Equal(t, "<entry>", files[2].Path)

	byPkg := SummarizeByPackage(files)
	require.Len(t, byPkg, 3)
	assert.Equal(t, "@scope/a", byPkg[0].Path)
	assert.Equal(t, "b", byPkg[1].Path)
	assert.Equal(t, int64(300), byPkg[1].BytesInOutput)

	empty, err := ParseBreakdown("", "")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseBreakdown("{", "")
	assert.Error(t, err)
}
