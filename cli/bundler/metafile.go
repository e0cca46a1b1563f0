package bundler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Metafile represents the esbuild metafile JSON structure
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput represents an input file in the metafile
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"` // "cjs" or "esm"
}

// MetafileImport represents an import in the metafile
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput represents an output file in the metafile
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib represents the contribution of an input to an output
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// FileContribution is one input's share of the bundle
type FileContribution struct {
	Path          string  `json:"path" yaml:"path"`
	Package       string  `json:"package" yaml:"package"`
	BytesInOutput int64   `json:"bytesInOutput" yaml:"bytesInOutput"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
}

// entryDisplayName labels the synthetic entry in breakdowns
const entryDisplayName = "<entry>"

// ParseBreakdown returns the inputs of the first output ordered by their
// contribution, largest first. Paths are made relative to workDir.
func ParseBreakdown(metafile, workDir string) ([]FileContribution, error) {
	if metafile == "" {
		return nil, nil
	}

	var meta Metafile
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	// esbuild emits one output for a single entry point; sort keys so a
	// stray sourcemap output never wins by map order
	outputs := make([]string, 0, len(meta.Outputs))
	for key := range meta.Outputs {
		if strings.HasSuffix(key, ".js") {
			outputs = append(outputs, key)
		}
	}
	if len(outputs) == 0 {
		return nil, nil
	}
	sort.Strings(outputs)
	output := meta.Outputs[outputs[0]]

	var files []FileContribution
	for inputPath, contrib := range output.Inputs {
		display := displayInputPath(inputPath, workDir)

		percentage := 0.0
		if output.Bytes > 0 {
			percentage = float64(contrib.BytesInOutput) / float64(output.Bytes) * 100
		}

		files = append(files, FileContribution{
			Path:          display,
			Package:       inputPackage(display),
			BytesInOutput: int64(contrib.BytesInOutput),
			Percentage:    percentage,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].BytesInOutput != files[j].BytesInOutput {
			return files[i].BytesInOutput > files[j].BytesInOutput
		}
		return files[i].Path < files[j].Path
	})

	return files, nil
}

func displayInputPath(inputPath, workDir string) string {
	display := filepath.ToSlash(inputPath)
	if workDir != "" {
		prefix := filepath.ToSlash(workDir)
		display = strings.TrimPrefix(display, prefix)
		display = strings.TrimPrefix(display, "/")
	}
	if display == entryFileName {
		return entryDisplayName
	}
	return display
}

// inputPackage extracts the package owning a node_modules path
func inputPackage(path string) string {
	idx := strings.LastIndex(path, "node_modules/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("node_modules/"):]
	parts := strings.Split(rest, "/")
	if strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// SummarizeByPackage folds a breakdown into one row per package, largest
// first. Inputs outside node_modules are grouped under the entry label.
func SummarizeByPackage(files []FileContribution) []FileContribution {
	totals := make(map[string]*FileContribution)
	var order []string
	for _, f := range files {
		key := f.Package
		if key == "" {
			key = entryDisplayName
		}
		row, ok := totals[key]
		if !ok {
			row = &FileContribution{Path: key, Package: f.Package}
			totals[key] = row
			order = append(order, key)
		}
		row.BytesInOutput += f.BytesInOutput
		row.Percentage += f.Percentage
	}

	out := make([]FileContribution, 0, len(order))
	for _, key := range order {
		out = append(out, *totals[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BytesInOutput > out[j].BytesInOutput
	})
	return out
}
