package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
	"github.com/fluxbase-eu/bundlecheck/internal/cache"
	"github.com/fluxbase-eu/bundlecheck/internal/installer"
	"github.com/fluxbase-eu/bundlecheck/internal/registry"
	"github.com/fluxbase-eu/bundlecheck/internal/specifier"
)

// bundleAnalyzer is the part of *bundler.Analyzer the runner drives
type bundleAnalyzer interface {
	Analyze(ctx context.Context, opts bundler.Options) (*bundler.Result, error)
}

// versionResolver maps tags and ranges to published versions
type versionResolver interface {
	Resolve(ctx context.Context, name, version string) (string, error)
}

// runner puts the result cache in front of the analyzer. Tags and ranges
// are resolved against the registry first so that "latest" hits the entry of
// the version it currently points to.
type runner struct {
	analyzer bundleAnalyzer
	cache    *cache.Cache
	force    bool

	// resolvers is keyed by registry URL, "" for the default registry
	newResolver func(registryURL string) (versionResolver, error)
	mu          sync.Mutex
	resolvers   map[string]versionResolver
}

const (
	registryRequestsPerSecond = 10
	registryBurst             = 5
)

// newRegistryClient creates the rate-limited registry client shared by the
// commands
func newRegistryClient(registryURL string) (*registry.Client, error) {
	return registry.NewClient(registryURL, registry.WithRateLimit(registryRequestsPerSecond, registryBurst))
}

func newRunner(analyzer bundleAnalyzer, c *cache.Cache, force bool) *runner {
	return &runner{
		analyzer: analyzer,
		cache:    c,
		force:    force,
		newResolver: func(registryURL string) (versionResolver, error) {
			return newRegistryClient(registryURL)
		},
		resolvers: make(map[string]versionResolver),
	}
}

// Analyze implements trend.BundleAnalyzer
func (r *runner) Analyze(ctx context.Context, opts bundler.Options) (*bundler.Result, error) {
	result, _, err := r.analyze(ctx, opts)
	return result, err
}

// analyze returns the result and whether it came from the cache
func (r *runner) analyze(ctx context.Context, opts bundler.Options) (*bundler.Result, bool, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, false, err
	}
	spec := specifier.Parse(opts.Package)

	key := cache.Key{
		Name:       spec.ImportPath(),
		Exports:    opts.Exports,
		Externals:  opts.External,
		GzipLevel:  opts.GzipLevel,
		NoExternal: opts.NoExternal,
		Platform:   opts.Platform,
	}

	// Breakdowns are not stored, so a detailed run always bundles
	lookup := r.cache.Enabled() && !r.force && !opts.Details
	if lookup {
		if version, ok := r.resolveVersion(ctx, spec, opts.Registry); ok {
			key.Version = version
			if cached := r.cache.Get(ctx, key); cached != nil {
				log.Debug().Str("package", spec.String()).Str("version", version).Msg("Using cached result")
				return cached, true, nil
			}
		}
	}

	result, err := r.analyzer.Analyze(ctx, opts)
	if err != nil {
		return nil, false, err
	}

	key.Version = result.PackageVersion
	stored := *result
	stored.Breakdown = nil
	r.cache.Set(ctx, key, &stored)

	return result, false, nil
}

// resolveVersion returns the exact version spec refers to. A failed lookup
// only costs the cache hit; the install reports real registry errors.
func (r *runner) resolveVersion(ctx context.Context, spec specifier.Specifier, registryURL string) (string, bool) {
	if _, err := semver.StrictNewVersion(spec.Version); err == nil {
		return spec.Version, true
	}

	resolver, err := r.resolver(registryURL)
	if err != nil {
		log.Debug().Err(err).Msg("No registry client for cache lookup")
		return "", false
	}
	version, err := resolver.Resolve(ctx, spec.Name, spec.Version)
	if err != nil {
		log.Debug().Err(err).Str("package", spec.Name).Str("version", spec.Version).Msg("Could not resolve version for cache lookup")
		return "", false
	}
	return version, true
}

func (r *runner) resolver(registryURL string) (versionResolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resolvers[registryURL]; ok {
		return res, nil
	}
	res, err := r.newResolver(registryURL)
	if err != nil {
		return nil, err
	}
	r.resolvers[registryURL] = res
	return res, nil
}

// openCache creates the configured cache. Backend failures disable caching
// for this run instead of failing the command.
func openCache() *cache.Cache {
	store, err := cache.NewStore(settings.Cache, GetConfigDir())
	if err != nil {
		log.Warn().Err(err).Str("backend", settings.Cache.Backend).Msg("Result cache disabled")
		metrics.RecordCacheError("open")
		return cache.New(nil)
	}
	return cache.New(store, cache.WithMetrics(metrics))
}

// openCacheStrict is openCache for the cache subcommands, where an
// unavailable backend is the error being reported
func openCacheStrict() (*cache.Cache, error) {
	store, err := cache.NewStore(settings.Cache, GetConfigDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", settings.Cache.Backend, err)
	}
	return cache.New(store, cache.WithMetrics(metrics)), nil
}

// newBundleAnalyzer wires the installer, esbuild engine and metrics
func newBundleAnalyzer() *bundler.Analyzer {
	inst := installer.NewCommandInstaller(installer.NewDetector(), 0)
	return bundler.NewAnalyzer(inst, bundler.WithMetrics(metrics))
}
