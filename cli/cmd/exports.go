package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlecheck/cli/output"
	"github.com/fluxbase-eu/bundlecheck/internal/exports"
	"github.com/fluxbase-eu/bundlecheck/internal/specifier"
)

var (
	exportsRegistry    string
	exportsRuntimeOnly bool
)

var exportsCmd = &cobra.Command{
	Use:   "exports <package>",
	Short: "List the named exports of a package",
	Long: `Install a package and list the named exports found in its type declarations.
Use the names with 'bundlecheck analyze --exports'.

Examples:
  bundlecheck exports lodash-es
  bundlecheck exports date-fns@3 --runtime
  bundlecheck exports zod -o json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: initializeSettings,
	RunE:    runExports,
}

func init() {
	exportsCmd.Flags().StringVar(&exportsRegistry, "registry", "", "npm registry URL")
	exportsCmd.Flags().BoolVar(&exportsRuntimeOnly, "runtime", false, "omit type-only exports (types and interfaces)")
}

// exportList is the exports command response
type exportList struct {
	PackageName  string                `json:"packageName" yaml:"packageName"`
	Version      string                `json:"version" yaml:"version"`
	Exports      []exports.NamedExport `json:"exports" yaml:"exports"`
	Count        int                   `json:"count" yaml:"count"`
	RuntimeCount int                   `json:"runtimeCount" yaml:"runtimeCount"`
}

// Table implements output.Tabular
func (l exportList) Table() output.TableData {
	data := output.TableData{Headers: []string{"NAME", "KIND"}}
	for _, e := range l.Exports {
		data.Rows = append(data.Rows, []string{e.Name, string(e.Kind)})
	}
	return data
}

func runExports(cmd *cobra.Command, args []string) error {
	registryURL := settings.Registry
	if cmd.Flags().Changed("registry") {
		registryURL = exportsRegistry
	}

	result, version, err := newBundleAnalyzer().ListExports(cmd.Context(), args[0], registryURL)
	if err != nil {
		return err
	}

	list := exportList{
		PackageName:  specifier.Parse(args[0]).Name,
		Version:      version,
		Exports:      result.Exports,
		Count:        result.Count,
		RuntimeCount: result.RuntimeCount,
	}
	if exportsRuntimeOnly {
		list.Exports = result.RuntimeExports
	}
	if list.Exports == nil {
		list.Exports = []exports.NamedExport{}
	}

	f := GetFormatter()
	if !f.Structured() && !f.Quiet {
		if len(list.Exports) == 0 {
			f.PrintWarning(fmt.Sprintf("no type declarations with named exports found in %s@%s", list.PackageName, version))
			return nil
		}
		_, _ = fmt.Fprintf(f.Writer, "%s@%s: %d named exports (%d runtime)\n\n", list.PackageName, version, list.Count, list.RuntimeCount)
	}
	return f.Print(list)
}
