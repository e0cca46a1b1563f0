// Package cache stores bundle size results keyed by the request fields that
// affect them.
package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
)

// DefaultMaxEntries is the hard cap on stored results
const DefaultMaxEntries = 100

// PlatformAuto is stored for requests that let the platform be detected
const PlatformAuto = "auto"

// Key holds the request fields a cached result depends on
type Key struct {
	Name       string
	Version    string
	Exports    []string
	Externals  []string
	GzipLevel  int
	NoExternal bool
	Platform   bundler.Platform
}

// NormalizedKey is the storage form of a Key. Two requests that differ only
// in list order normalize to the same value.
type NormalizedKey struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Exports    string `json:"exports"`
	Externals  string `json:"externals"`
	GzipLevel  int    `json:"gzipLevel"`
	NoExternal int    `json:"noExternal"`
	Platform   string `json:"platform"`
}

// String renders the key as a single identifier
func (k NormalizedKey) String() string {
	return strings.Join([]string{
		k.Name,
		k.Version,
		k.Exports,
		k.Externals,
		strconv.Itoa(k.GzipLevel),
		strconv.Itoa(k.NoExternal),
		k.Platform,
	}, "|")
}

// NormalizeKey builds the storage key. The input slices are never modified.
func NormalizeKey(k Key) NormalizedKey {
	platform := string(k.Platform)
	if platform == "" {
		platform = PlatformAuto
	}
	noExternal := 0
	if k.NoExternal {
		noExternal = 1
	}
	return NormalizedKey{
		Name:       k.Name,
		Version:    k.Version,
		Exports:    sortedJoin(k.Exports),
		Externals:  sortedJoin(k.Externals),
		GzipLevel:  k.GzipLevel,
		NoExternal: noExternal,
		Platform:   platform,
	}
}

func sortedJoin(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// Entry is one stored result
type Entry struct {
	Key       NormalizedKey   `json:"key"`
	Result    *bundler.Result `json:"result"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store is the interface for result cache backends.
//   - SQLite: default, a file under the config directory
//   - Redis: shared between machines (CI runners)
//   - Memory: process-local, mostly for tests
type Store interface {
	// Get returns the stored result, or nil on a miss
	Get(ctx context.Context, key NormalizedKey) (*bundler.Result, error)

	// Set upserts a result stamped with at, then evicts the oldest entries
	// beyond the store's cap. Returns the number of evicted entries.
	Set(ctx context.Context, key NormalizedKey, result *bundler.Result, at time.Time) (int64, error)

	// Clear removes all entries
	Clear(ctx context.Context) error

	// Count returns the number of entries
	Count(ctx context.Context) (int, error)

	// Entries lists entries newest first
	Entries(ctx context.Context) ([]Entry, error)

	// Close releases resources
	Close() error
}
