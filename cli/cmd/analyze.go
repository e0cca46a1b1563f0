package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
	"github.com/fluxbase-eu/bundlecheck/cli/util"
)

// analysisFlags are shared by analyze and trend
type analysisFlags struct {
	exports    []string
	external   []string
	noExternal bool
	gzipLevel  int
	registry   string
	platform   string
	force      bool
}

func (f *analysisFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.exports, "exports", nil, "named exports to measure, comma-separated")
	cmd.Flags().StringSliceVar(&f.external, "external", nil, "additional packages to leave out of the bundle")
	cmd.Flags().BoolVar(&f.noExternal, "no-external", false, "bundle everything, including react and react-dom")
	cmd.Flags().IntVar(&f.gzipLevel, "gzip-level", 0, "gzip compression level 1-9 (default from config, 5)")
	cmd.Flags().StringVar(&f.registry, "registry", "", "npm registry URL")
	cmd.Flags().StringVar(&f.platform, "platform", "", "target platform: browser, node, auto")
	cmd.Flags().BoolVar(&f.force, "force", false, "ignore cached results")
}

// options merges flags over the resolved settings for pkg
func (f *analysisFlags) options(cmd *cobra.Command, pkg string) bundler.Options {
	opts := bundler.Options{
		Package:    pkg,
		Exports:    util.SplitList(f.exports),
		External:   append(append([]string{}, settings.External...), util.SplitList(f.external)...),
		NoExternal: f.noExternal,
		GzipLevel:  settings.GzipLevel,
		Registry:   settings.Registry,
		Platform:   bundler.Platform(settings.Platform),
	}
	if cmd.Flags().Changed("gzip-level") {
		opts.GzipLevel = f.gzipLevel
	}
	if cmd.Flags().Changed("registry") {
		opts.Registry = f.registry
	}
	if cmd.Flags().Changed("platform") {
		opts.Platform = bundler.Platform(f.platform)
	}
	return opts
}

var (
	analyzeFlags   analysisFlags
	analyzeDetails bool
	analyzeByFile  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <package>...",
	Short: "Measure the bundle size of npm packages",
	Long: `Install each package into a temporary workspace, bundle it with esbuild and
report the minified and gzipped size. Results are cached by package version
and analysis options.

Examples:
  bundlecheck analyze react
  bundlecheck analyze lodash@4.17.21 --exports debounce,throttle
  bundlecheck analyze date-fns/format
  bundlecheck analyze express --platform node
  bundlecheck analyze react vue preact --output json`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: initializeSettings,
	RunE:    runAnalyze,
}

func init() {
	analyzeFlags.register(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "show which packages contribute to the bundle")
	analyzeCmd.Flags().BoolVar(&analyzeByFile, "files", false, "break the bundle down per file instead of per package (implies --details)")
}

// analyzed pairs a result with where it came from
type analyzed struct {
	result  *bundler.Result
	cached  bool
	elapsed time.Duration
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c := openCache()
	defer func() { _ = c.Close() }()
	r := newRunner(newBundleAnalyzer(), c, analyzeFlags.force)

	var (
		results []analyzed
		errs    []error
	)
	for _, pkg := range args {
		opts := analyzeFlags.options(cmd, pkg)
		opts.Details = analyzeDetails || analyzeByFile

		start := time.Now()
		result, cached, err := r.analyze(ctx, opts)
		if err != nil {
			if len(args) == 1 {
				return err
			}
			log.Error().Err(err).Str("package", pkg).Msg("Analysis failed")
			errs = append(errs, fmt.Errorf("%s: %w", pkg, err))
			continue
		}
		results = append(results, analyzed{result: result, cached: cached, elapsed: time.Since(start)})
	}

	if err := printAnalyzed(results); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func printAnalyzed(results []analyzed) error {
	f := GetFormatter()
	list := make([]*bundler.Result, len(results))
	for i, a := range results {
		list[i] = a.result
	}

	if f.Structured() {
		if len(list) == 1 {
			return f.Print(list[0])
		}
		return f.Print(list)
	}
	if f.Quiet {
		return nil
	}

	for _, a := range results {
		bundler.DisplayResult(f.Writer, a.result, a.cached, a.elapsed, analyzeByFile)
	}
	if len(list) > 1 {
		bundler.DisplaySummary(f.Writer, list)
	}
	return nil
}
