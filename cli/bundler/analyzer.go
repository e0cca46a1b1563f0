package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/bundlecheck/internal/exports"
	"github.com/fluxbase-eu/bundlecheck/internal/installer"
	"github.com/fluxbase-eu/bundlecheck/internal/manifest"
	"github.com/fluxbase-eu/bundlecheck/internal/observability"
	"github.com/fluxbase-eu/bundlecheck/internal/specifier"
)

// entryFileName is the synthetic entry written into the workspace
const entryFileName = "entry.js"

// browserFrameworks force browser platform when depended upon, even if the
// manifest only declares a node engine
var browserFrameworks = []string{"react", "react-dom", "vue", "preact", "svelte"}

// Analyzer runs the install → entry → bundle → measure pipeline
type Analyzer struct {
	installer installer.Installer
	engine    Engine
	exports   *exports.Analyzer
	metrics   *observability.Metrics
	tempRoot  string
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithEngine replaces the esbuild engine
func WithEngine(engine Engine) AnalyzerOption {
	return func(a *Analyzer) {
		a.engine = engine
	}
}

// WithMetrics records pipeline metrics
func WithMetrics(m *observability.Metrics) AnalyzerOption {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// WithTempRoot sets the directory workspaces are created in
func WithTempRoot(dir string) AnalyzerOption {
	return func(a *Analyzer) {
		a.tempRoot = dir
	}
}

// WithExportAnalyzer replaces the named-export scanner
func WithExportAnalyzer(ea *exports.Analyzer) AnalyzerOption {
	return func(a *Analyzer) {
		a.exports = ea
	}
}

// NewAnalyzer creates a bundle size analyzer that installs packages with inst
func NewAnalyzer(inst installer.Installer, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		installer: inst,
		engine:    NewEsbuildEngine(),
		exports:   exports.NewAnalyzer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze measures the bundle size of one package request. The workspace is
// removed whether or not the analysis succeeds.
func (a *Analyzer) Analyze(ctx context.Context, opts Options) (result *Result, err error) {
	opts, err = opts.Normalize()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	spec := specifier.Parse(opts.Package)
	platform := opts.Platform
	defer func() {
		a.metrics.RecordAnalysis(string(platform), time.Since(start), err)
	}()

	ctx, span := observability.StartStepSpan(ctx, "analyze", spec.Name)
	defer func() { observability.EndSpan(span, err) }()

	ws, err := newWorkspace(a.tempRoot)
	if err != nil {
		return nil, err
	}
	defer ws.cleanup()

	log.Debug().
		Str("package", spec.Name).
		Str("version", spec.Version).
		Str("workspace", ws.dir).
		Msg("Analyzing package")

	m, pkgDir, err := a.install(ctx, ws, spec, opts.Registry)
	if err != nil {
		return nil, err
	}

	if platform == PlatformAuto {
		platform = DetectPlatform(m)
	}
	observability.SetSpanAttributes(ctx,
		attribute.String("package.version", m.Version),
		attribute.String("bundlecheck.platform", string(platform)),
	)

	resolution := SubpathResolution{Subpath: spec.Subpath}
	if spec.Subpath == "" && len(opts.Exports) > 0 && !m.HasMainEntry() {
		resolution = ResolveExportSubpaths(pkgDir, m.ExportsMap(), opts.Exports)
	}

	entryReq := EntryRequest{
		PackageName:    spec.Name,
		Subpath:        resolution.Subpath,
		Exports:        opts.Exports,
		ExportSubpaths: resolution.ExportSubpaths,
		HasMainEntry:   m.HasMainEntry(),
		AllSubpaths:    m.Subpaths(),
	}
	if resolution.AllSubpaths {
		entryReq.Exports = nil
	}

	source, err := SynthesizeEntry(entryReq)
	if err != nil {
		return nil, err
	}
	entryPath, err := ws.writeFile(entryFileName, source)
	if err != nil {
		return nil, err
	}

	externals := ResolveExternals(spec.Name, opts.External, opts.NoExternal, m.DependencyNames())

	out, externals, err := a.bundle(ctx, ws, spec.Name, entryPath, platform, externals, opts)
	if err != nil {
		return nil, err
	}

	raw := int64(len(out.Contents))
	var gzipSize *int64
	if platform == PlatformBrowser {
		size, err := GzipSize(out.Contents, opts.GzipLevel)
		if err != nil {
			return nil, err
		}
		gzipSize = &size
	}
	a.metrics.RecordSizes(raw, gzipSize)

	result = &Result{
		PackageName:    displayName(spec.Name, resolution),
		PackageVersion: m.Version,
		Exports:        append([]string{}, opts.Exports...),
		RawSize:        raw,
		GzipSize:       gzipSize,
		GzipLevel:      opts.GzipLevel,
		Externals:      externals,
		Dependencies:   m.DependencyNames(),
		Platform:       platform,
	}

	if opts.Details {
		breakdown, err := ParseBreakdown(out.Metafile, ws.dir)
		if err != nil {
			log.Warn().Err(err).Str("package", spec.Name).Msg("Failed to read bundle breakdown")
		}
		result.Breakdown = breakdown
	}

	result.NamedExportCount = a.exports.Analyze(pkgDir, spec.Name).Count

	log.Debug().
		Str("package", result.PackageName).
		Str("version", result.PackageVersion).
		Int64("raw", raw).
		Str("platform", string(platform)).
		Msg("Analysis complete")

	return result, nil
}

// ListExports installs a package and returns its named exports
func (a *Analyzer) ListExports(ctx context.Context, pkg, registryURL string) (exports.Result, string, error) {
	opts, err := Options{Package: pkg, Registry: registryURL}.Normalize()
	if err != nil {
		return exports.Result{}, "", err
	}
	spec := specifier.Parse(opts.Package)

	ws, err := newWorkspace(a.tempRoot)
	if err != nil {
		return exports.Result{}, "", err
	}
	defer ws.cleanup()

	m, pkgDir, err := a.install(ctx, ws, spec, opts.Registry)
	if err != nil {
		return exports.Result{}, "", err
	}
	return a.exports.Analyze(pkgDir, spec.Name), m.Version, nil
}

// install writes the workspace manifest, installs the package and, when it
// declares peers, reinstalls with them added at their declared ranges.
func (a *Analyzer) install(ctx context.Context, ws *workspace, spec specifier.Specifier, registryURL string) (*manifest.Manifest, string, error) {
	deps := map[string]string{spec.Name: spec.Version}
	if err := a.installDeps(ctx, ws, spec.Name, deps, registryURL); err != nil {
		return nil, "", err
	}

	pkgDir := manifest.PackageDir(ws.dir, spec.Name)
	m, err := manifest.Load(pkgDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read installed package %s: %w", spec.Name, err)
	}

	if len(m.PeerDependencies) > 0 {
		// pin the target so the reinstall cannot move it
		if m.Version != "" {
			deps[spec.Name] = m.Version
		}
		for peer, rng := range m.PeerDependencies {
			if peer != spec.Name {
				deps[peer] = rng
			}
		}
		log.Debug().
			Str("package", spec.Name).
			Int("peers", len(m.PeerDependencies)).
			Msg("Reinstalling with peer dependencies")

		if err := a.installDeps(ctx, ws, spec.Name, deps, registryURL); err != nil {
			return nil, "", err
		}
	}

	return m, pkgDir, nil
}

func (a *Analyzer) installDeps(ctx context.Context, ws *workspace, pkg string, deps map[string]string, registryURL string) error {
	if err := manifest.WriteDependencies(ws.dir, deps); err != nil {
		return err
	}
	return a.step(ctx, "install", pkg, func(ctx context.Context) error {
		return a.installer.Install(ctx, ws.dir, registryURL)
	})
}

// bundle runs the engine, retrying once when the failure is an unresolved
// default external that can be externalized.
func (a *Analyzer) bundle(ctx context.Context, ws *workspace, pkg, entryPath string, platform Platform, externals []string, opts Options) (*BuildOutput, []string, error) {
	build := func(externals []string) (*BuildOutput, error) {
		var out *BuildOutput
		err := a.step(ctx, "bundle", pkg, func(ctx context.Context) error {
			var err error
			out, err = a.engine.Build(ctx, BuildRequest{
				EntryPath: entryPath,
				WorkDir:   ws.dir,
				Platform:  platform,
				Externals: ExpandExternals(externals),
				Minify:    true,
				Metafile:  opts.Details,
			})
			return err
		})
		return out, err
	}

	out, err := build(externals)
	if err == nil {
		return out, externals, nil
	}

	var buildErr *BuildError
	if opts.NoExternal || !errors.As(err, &buildErr) {
		return nil, nil, err
	}
	module, ok := buildErr.UnresolvedModule()
	if !ok {
		return nil, nil, err
	}
	candidate, ok := UnresolvedDefaultExternal(module)
	if !ok || candidate == pkg {
		return nil, nil, err
	}

	log.Debug().
		Str("package", pkg).
		Str("external", candidate).
		Msg("Retrying bundle with unresolved module marked external")
	a.metrics.RecordRetry()

	externals = withExternal(externals, candidate)
	out, err = build(externals)
	if err != nil {
		return nil, nil, err
	}
	return out, externals, nil
}

func (a *Analyzer) step(ctx context.Context, name, pkg string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := observability.StartStepSpan(ctx, name, pkg)
	err := fn(ctx)
	observability.EndSpan(span, err)
	a.metrics.RecordStep(name, time.Since(start))
	return err
}

// DetectPlatform infers the platform from a manifest: node when only a node
// engine is declared and no browser framework is a dependency, otherwise
// browser.
func DetectPlatform(m *manifest.Manifest) Platform {
	_, hasNode := m.Engines["node"]
	_, hasBrowser := m.Engines["browser"]
	if !hasNode || hasBrowser {
		return PlatformBrowser
	}
	for _, framework := range browserFrameworks {
		if m.HasDependency(framework) {
			return PlatformBrowser
		}
	}
	return PlatformNode
}

// GzipSize returns the compressed length of data at the given level
func GzipSize(data []byte, level int) (int64, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return 0, fmt.Errorf("failed to compress bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to compress bundle: %w", err)
	}
	return int64(buf.Len()), nil
}
