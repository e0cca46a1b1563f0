// Package installer installs npm packages into throwaway workspaces by
// shelling out to a package manager.
package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/internal/registry"
)

// Installer installs the dependencies declared in dir/package.json
type Installer interface {
	Install(ctx context.Context, dir, registryURL string) error
}

// Tool identifies a package manager binary
type Tool string

const (
	ToolBun Tool = "bun"
	ToolNpm Tool = "npm"
)

// LookPathFunc resolves a binary name to a path
type LookPathFunc func(file string) (string, error)

// Detector decides which package manager to use. The decision is made once
// and memoized until Reset is called.
type Detector struct {
	lookPath LookPathFunc

	mu       sync.Mutex
	detected bool
	tool     Tool
	path     string
}

// NewDetector creates a detector using exec.LookPath
func NewDetector() *Detector {
	return &Detector{lookPath: exec.LookPath}
}

// NewDetectorWithLookPath creates a detector with a custom lookup, for tests
func NewDetectorWithLookPath(lookPath LookPathFunc) *Detector {
	return &Detector{lookPath: lookPath}
}

// Detect returns the package manager to use, preferring bun when present.
func (d *Detector) Detect() (Tool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detected {
		return d.tool, d.path, nil
	}

	if path, err := d.lookPath(string(ToolBun)); err == nil {
		d.tool, d.path, d.detected = ToolBun, path, true
		log.Debug().Str("path", path).Msg("Using bun for installs")
		return d.tool, d.path, nil
	}

	path, err := d.lookPath(string(ToolNpm))
	if err != nil {
		return "", "", fmt.Errorf("no package manager found: install npm or bun")
	}
	d.tool, d.path, d.detected = ToolNpm, path, true
	log.Debug().Str("path", path).Msg("Using npm for installs")
	return d.tool, d.path, nil
}

// Reset forgets the memoized decision so the next call re-detects
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detected = false
	d.tool = ""
	d.path = ""
}

// CommandInstaller runs the detected package manager
type CommandInstaller struct {
	detector *Detector
	timeout  time.Duration
}

// NewCommandInstaller creates an installer backed by detector
func NewCommandInstaller(detector *Detector, timeout time.Duration) *CommandInstaller {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandInstaller{detector: detector, timeout: timeout}
}

// Args returns the install arguments for a tool. The registry URL must
// already be validated.
func Args(tool Tool, registryURL string) []string {
	var args []string
	switch tool {
	case ToolBun:
		args = []string{"install", "--ignore-scripts", "--no-save", "--silent"}
	default:
		args = []string{
			"install",
			"--ignore-scripts",
			"--no-audit",
			"--no-fund",
			"--no-package-lock",
			"--legacy-peer-deps",
			"--loglevel=error",
		}
	}
	if registryURL != "" {
		args = append(args, "--registry", registryURL)
	}
	return args
}

// Install installs dependencies into dir
func (i *CommandInstaller) Install(ctx context.Context, dir, registryURL string) error {
	if registryURL != "" {
		validated, err := registry.ValidateURL(registryURL)
		if err != nil {
			return err
		}
		registryURL = validated
	}

	tool, path, err := i.detector.Detect()
	if err != nil {
		return err
	}

	installCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := Args(tool, registryURL)
	cmd := exec.CommandContext(installCtx, path, args...) //nolint:gosec // path comes from LookPath, args are fixed flags plus a validated URL
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "npm_config_update_notifier=false", "CI=true")

	var stderr strings.Builder
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	if installCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("install timed out after %s", i.timeout)
	}
	if runErr != nil {
		msg := cleanInstallError(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return fmt.Errorf("%s install failed: %s", tool, msg)
	}

	log.Debug().
		Str("tool", string(tool)).
		Str("dir", dir).
		Dur("duration", time.Since(start)).
		Msg("Install finished")
	return nil
}

// cleanInstallError keeps the lines of installer output that explain a failure
func cleanInstallError(output string) string {
	var relevant []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") ||
			strings.Contains(lower, "404") ||
			strings.Contains(lower, "not found") ||
			strings.Contains(lower, "no matching version") ||
			strings.Contains(lower, "etarget") ||
			strings.Contains(lower, "enotfound") {
			relevant = append(relevant, line)
		}
	}
	if len(relevant) > 0 {
		return strings.Join(relevant, "\n")
	}
	return strings.TrimSpace(output)
}
