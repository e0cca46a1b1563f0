package bundler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Engine bundles a single entry file
type Engine interface {
	Build(ctx context.Context, req BuildRequest) (*BuildOutput, error)
}

// BuildRequest is the input of one bundle
type BuildRequest struct {
	EntryPath string
	WorkDir   string
	Platform  Platform
	Externals []string
	Minify    bool
	Metafile  bool
}

// BuildOutput is the bundled module and, when requested, the esbuild metafile
type BuildOutput struct {
	Contents []byte
	Metafile string
}

// BuildError carries the messages of a failed bundle
type BuildError struct {
	Messages []string
}

func (e *BuildError) Error() string {
	return "bundling failed: " + strings.Join(e.Messages, "; ")
}

var unresolvedPattern = regexp.MustCompile(`Could not resolve "([^"]+)"`)

// UnresolvedModule returns the first module esbuild reported it could not
// resolve, if any
func (e *BuildError) UnresolvedModule() (string, bool) {
	for _, msg := range e.Messages {
		if m := unresolvedPattern.FindStringSubmatch(msg); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// EsbuildEngine bundles in-process with esbuild
type EsbuildEngine struct{}

// NewEsbuildEngine creates an esbuild-backed engine
func NewEsbuildEngine() *EsbuildEngine {
	return &EsbuildEngine{}
}

// Build bundles req.EntryPath to a single minified ES2020 module held in
// memory.
func (e *EsbuildEngine) Build(ctx context.Context, req BuildRequest) (*BuildOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	platform := api.PlatformBrowser
	if req.Platform == PlatformNode {
		platform = api.PlatformNode
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{req.EntryPath},
		Bundle:            true,
		Write:             false,
		Metafile:          req.Metafile,
		Outfile:           "bundle.js",
		Format:            api.FormatESModule,
		Platform:          platform,
		Target:            api.ES2020,
		MinifyWhitespace:  req.Minify,
		MinifyIdentifiers: req.Minify,
		MinifySyntax:      req.Minify,
		External:          req.Externals,
		AbsWorkingDir:     req.WorkDir,
		LogLevel:          api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": `"production"`,
		},
	})

	if len(result.Errors) > 0 {
		messages := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			messages = append(messages, msg.Text)
		}
		return nil, &BuildError{Messages: messages}
	}

	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("esbuild produced no output for %s", req.EntryPath)
	}

	var contents []byte
	for _, file := range result.OutputFiles {
		if strings.HasSuffix(file.Path, ".js") {
			contents = append(contents, file.Contents...)
		}
	}

	return &BuildOutput{Contents: contents, Metafile: result.Metafile}, nil
}
