package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlecheck/cli/util"
	"github.com/fluxbase-eu/bundlecheck/internal/specifier"
	"github.com/fluxbase-eu/bundlecheck/internal/trend"
)

var (
	trendFlags    analysisFlags
	trendVersions int
)

var trendCmd = &cobra.Command{
	Use:   "trend <package>",
	Short: "Compare bundle size across recent versions",
	Long: `Analyze the most recent stable versions of a package one after another and
draw the minified and gzipped sizes as bar graphs. Prereleases are skipped.

Examples:
  bundlecheck trend react
  bundlecheck trend lodash --versions 10 --exports debounce
  bundlecheck trend @tanstack/react-query -o json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: initializeSettings,
	RunE:    runTrend,
}

func init() {
	trendFlags.register(trendCmd)
	trendCmd.Flags().IntVar(&trendVersions, "versions", 0, "number of versions to compare (default from config, 5)")
}

func runTrend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec := specifier.Parse(args[0])

	count := settings.Versions
	if cmd.Flags().Changed("versions") {
		if trendVersions < 1 {
			return fmt.Errorf("--versions must be at least 1")
		}
		count = trendVersions
	}

	base := trendFlags.options(cmd, spec.ImportPath())
	if _, err := base.Normalize(); err != nil {
		return err
	}

	client, err := newRegistryClient(base.Registry)
	if err != nil {
		return err
	}
	published, err := client.Versions(ctx, spec.Name)
	if err != nil {
		return err
	}
	selected := trend.SelectVersions(published, count)
	if len(selected) == 0 {
		return fmt.Errorf("no stable versions found for package: %s", spec.Name)
	}

	c := openCache()
	defer func() { _ = c.Close() }()
	r := newRunner(newBundleAnalyzer(), c, trendFlags.force)

	report, err := trend.Analyze(ctx, r, spec.ImportPath(), selected, base)
	if err != nil {
		return err
	}

	f := GetFormatter()
	if f.Structured() {
		return f.Print(report)
	}
	if f.Quiet {
		return nil
	}

	opts := trend.DefaultRenderOptions()
	if width := util.TerminalWidth(80); width < 80 {
		opts.BarWidth = max(opts.MinBarWidth, width-50)
	}
	trend.Render(f.Writer, report, opts)
	return nil
}
