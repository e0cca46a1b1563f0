// Package cmd provides the Cobra commands for the bundlecheck CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cliconfig "github.com/fluxbase-eu/bundlecheck/cli/config"
	"github.com/fluxbase-eu/bundlecheck/cli/output"
	"github.com/fluxbase-eu/bundlecheck/internal/logging"
	"github.com/fluxbase-eu/bundlecheck/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile     string
	profileName string
	outputFmt   string
	logFormat   string
	metricsFile string
	noHeaders   bool
	quiet       bool
	debug       bool

	// Shared across commands
	settings  *cliconfig.Settings
	formatter *output.Formatter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bundlecheck",
	Short: "Measure what an npm package costs your bundle",
	Long: `bundlecheck installs an npm package into a throwaway workspace, bundles it
with esbuild and reports the minified and gzipped size.

Get started:
  bundlecheck analyze react                 Size of the whole package
  bundlecheck analyze lodash --exports map  Size of a single export
  bundlecheck trend date-fns --versions 3   Size across recent releases
  bundlecheck --help                        Show available commands`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
		cliconfig.LoadEnvFile()
		return logging.Setup(os.Stderr, logging.Options{Format: logFormat, Debug: debug, Quiet: quiet})
	},
}

// Execute runs the CLI and flushes metrics and traces afterwards. An
// interrupt cancels the running analysis so its workspace is removed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	shutdown()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ~/.bundlecheck/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "",
		"profile to use (default is current profile)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole,
		"log format: console, json")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "",
		"write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(cacheCmd)
}

// initializeSettings loads the config file, applies the profile, environment
// and global flags, and prepares the formatter, metrics and tracer. Commands
// that analyze packages use it as PreRunE.
func initializeSettings(cmd *cobra.Command, args []string) error {
	cfg, err := cliconfig.LoadOrCreate(GetConfigPath())
	if err != nil {
		return err
	}

	settings, err = cfg.Resolve(profileName, cliconfig.NewEnv())
	if err != nil {
		return err
	}

	if outputFmt == "" {
		outputFmt = settings.Output
	}
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders || settings.NoHeaders, quiet || settings.Quiet)

	metrics = observability.NewMetrics()

	tracer, err = observability.NewTracer(cmd.Context(), settings.Tracing, Version)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
		tracer = nil
	}

	return nil
}

func shutdown() {
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			log.Warn().Err(err).Msg("Failed to write metrics file")
		}
	}

	if tracer != nil && tracer.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return cliconfig.DefaultConfigPath()
}

// GetConfigDir returns the directory holding the config file, where the
// SQLite cache lives by default
func GetConfigDir() string {
	return filepath.Dir(GetConfigPath())
}
