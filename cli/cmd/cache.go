package cmd

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlecheck/cli/output"
	"github.com/fluxbase-eu/bundlecheck/cli/util"
	"github.com/fluxbase-eu/bundlecheck/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached analysis results",
	Long: `Inspect and clear the result cache. Results are stored in SQLite under the
config directory by default; set cache.backend to redis to share a cache.`,
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached results, newest first",
	Long: `List cached results, newest first.

Examples:
  bundlecheck cache list
  bundlecheck cache list -o json`,
	PreRunE: initializeSettings,
	RunE:    runCacheList,
}

var cacheClearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Remove all cached results",
	PreRunE: initializeSettings,
	RunE:    runCacheClear,
}

var cacheCountCmd = &cobra.Command{
	Use:     "count",
	Short:   "Show the number of cached results",
	PreRunE: initializeSettings,
	RunE:    runCacheCount,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCountCmd)
}

// cacheEntries renders as a table in table mode
type cacheEntries []cache.Entry

// Table implements output.Tabular
func (entries cacheEntries) Table() output.TableData {
	data := output.TableData{
		Headers: []string{"PACKAGE", "VERSION", "EXPORTS", "PLATFORM", "MINIFIED", "GZIPPED", "CACHED"},
	}
	for _, e := range entries {
		exports := e.Key.Exports
		if exports == "" {
			exports = "-"
		}
		gzip := "-"
		if e.Result.GzipSize != nil {
			gzip = util.FormatBytes(*e.Result.GzipSize)
		}
		data.Rows = append(data.Rows, []string{
			e.Key.Name,
			e.Key.Version,
			util.TruncateString(exports, 40),
			string(e.Result.Platform),
			util.FormatBytes(e.Result.RawSize),
			gzip,
			humanize.Time(e.CreatedAt),
		})
	}
	return data
}

func runCacheList(cmd *cobra.Command, args []string) error {
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if !c.Enabled() {
		GetFormatter().PrintWarning("result cache is disabled (cache.backend: none)")
		return nil
	}

	entries, err := c.Entries(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	if entries == nil {
		entries = []cache.Entry{}
	}
	return GetFormatter().Print(cacheEntries(entries))
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	n := c.Count(cmd.Context())
	if err := c.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	GetFormatter().PrintSuccess(fmt.Sprintf("Cleared %d cached results", n))
	return nil
}

func runCacheCount(cmd *cobra.Command, args []string) error {
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	return GetFormatter().Print(cacheStatus{
		Backend: settings.Cache.Backend,
		Entries: c.Count(cmd.Context()),
		Path:    c.Path(),
	})
}

// cacheStatus summarizes the configured cache for "cache count"
type cacheStatus struct {
	Backend string `json:"backend" yaml:"backend"`
	Entries int    `json:"entries" yaml:"entries"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Table implements output.Tabular
func (s cacheStatus) Table() output.TableData {
	return output.TableData{
		Headers: []string{"BACKEND", "ENTRIES", "PATH"},
		Rows:    [][]string{{s.Backend, strconv.Itoa(s.Entries), valueOr(s.Path, "-")}},
	}
}
