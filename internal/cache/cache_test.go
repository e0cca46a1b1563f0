package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
	"github.com/fluxbase-eu/bundlecheck/internal/observability"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleResult(name string) *bundler.Result {
	return &bundler.Result{
		PackageName:      name,
		PackageVersion:   "1.0.0",
		Exports:          []string{},
		RawSize:          2048,
		GzipSize:         int64Ptr(812),
		GzipLevel:        5,
		Externals:        []string{"react"},
		Dependencies:     []string{"loose-envify", "react"},
		Platform:         bundler.PlatformBrowser,
		NamedExportCount: 12,
	}
}

func sampleKey(name string) Key {
	return Key{Name: name, Version: "1.0.0", GzipLevel: 5}
}

// =============================================================================
// Key normalization
// =============================================================================

func TestNormalizeKey(t *testing.T) {
	t.Run("order independent", func(t *testing.T) {
		a := NormalizeKey(Key{Name: "x", Exports: []string{"b", "a"}, Externals: []string{"vue", "react"}})
		b := NormalizeKey(Key{Name: "x", Exports: []string{"a", "b"}, Externals: []string{"react", "vue"}})
		assert.Equal(t, a, b)
		assert.Equal(t, "a,b", a.Exports)
		assert.Equal(t, "react,vue", a.Externals)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		exports := []string{"b", "a"}
		externals := []string{"z", "y"}
		NormalizeKey(Key{Exports: exports, Externals: externals})
		assert.Equal(t, []string{"b", "a"}, exports)
		assert.Equal(t, []string{"z", "y"}, externals)
	})

	t.Run("platform sentinel", func(t *testing.T) {
		assert.Equal(t, "auto", NormalizeKey(Key{}).Platform)
		assert.Equal(t, "browser", NormalizeKey(Key{Platform: bundler.PlatformBrowser}).Platform)
		assert.NotEqual(t, NormalizeKey(Key{}), NormalizeKey(Key{Platform: bundler.PlatformBrowser}))
	})

	t.Run("no external flag", func(t *testing.T) {
		assert.Equal(t, 0, NormalizeKey(Key{}).NoExternal)
		assert.Equal(t, 1, NormalizeKey(Key{NoExternal: true}).NoExternal)
	})
}

// =============================================================================
// Store behavior, shared by every backend
// =============================================================================

type storeFactory func(t *testing.T, max int) Store

func storeFactories(t *testing.T) map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T, max int) Store {
			return NewMemoryStore(max)
		},
		"sqlite": func(t *testing.T, max int) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), max)
			require.NoError(t, err)
			return store
		},
	}
	if url := os.Getenv("BUNDLECHECK_TEST_REDIS_URL"); url != "" {
		factories["redis"] = func(t *testing.T, max int) Store {
			store, err := NewRedisStore(url, max)
			require.NoError(t, err)
			store.prefix = fmt.Sprintf("bundlecheck:test:%d:", time.Now().UnixNano())
			t.Cleanup(func() { _ = store.Clear(context.Background()) })
			return store
		}
	}
	return factories
}

func newTestCache(t *testing.T, factory storeFactory, max int) *Cache {
	t.Helper()
	store := factory(t, max)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(store, WithClock(func() time.Time { return base }))
}

func TestCache_RoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, DefaultMaxEntries)
			ctx := context.Background()

			key := Key{Name: "react", Version: "18.2.0", Exports: []string{"useState", "useEffect"}, GzipLevel: 5}
			result := sampleResult("react")
			result.Exports = []string{"useEffect", "useState"}

			assert.Nil(t, c.Get(ctx, key))
			c.Set(ctx, key, result)
			assert.Equal(t, result, c.Get(ctx, key))

			reordered := key
			reordered.Exports = []string{"useEffect", "useState"}
			assert.Equal(t, result, c.Get(ctx, reordered))

			pinned := key
			pinned.Platform = bundler.PlatformBrowser
			assert.Nil(t, c.Get(ctx, pinned))
		})
	}
}

func TestCache_NullGzip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, DefaultMaxEntries)
			ctx := context.Background()

			result := sampleResult("express")
			result.GzipSize = nil
			result.Platform = bundler.PlatformNode
			key := sampleKey("express")

			c.Set(ctx, key, result)
			got := c.Get(ctx, key)
			require.NotNil(t, got)
			assert.Nil(t, got.GzipSize)
			assert.Equal(t, bundler.PlatformNode, got.Platform)
		})
	}
}

func TestCache_UpsertReplaces(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, DefaultMaxEntries)
			ctx := context.Background()
			key := sampleKey("lodash")

			first := sampleResult("lodash")
			c.Set(ctx, key, first)
			second := sampleResult("lodash")
			second.RawSize = 4096
			c.Set(ctx, key, second)

			assert.Equal(t, 1, c.Count(ctx))
			assert.Equal(t, int64(4096), c.Get(ctx, key).RawSize)
		})
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, DefaultMaxEntries)
			ctx := context.Background()

			for i := 0; i < 105; i++ {
				name := fmt.Sprintf("pkg-%03d", i)
				c.Set(ctx, sampleKey(name), sampleResult(name))
			}

			assert.Equal(t, 100, c.Count(ctx))
			for i := 0; i < 5; i++ {
				assert.Nil(t, c.Get(ctx, sampleKey(fmt.Sprintf("pkg-%03d", i))), "entry %d should be evicted", i)
			}
			for i := 5; i < 105; i++ {
				assert.NotNil(t, c.Get(ctx, sampleKey(fmt.Sprintf("pkg-%03d", i))), "entry %d should remain", i)
			}
		})
	}
}

func TestCache_RefreshMovesEntryToBack(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, 3)
			ctx := context.Background()

			for _, name := range []string{"a", "b", "c"} {
				c.Set(ctx, sampleKey(name), sampleResult(name))
			}
			c.Set(ctx, sampleKey("a"), sampleResult("a"))
			c.Set(ctx, sampleKey("d"), sampleResult("d"))

			assert.Nil(t, c.Get(ctx, sampleKey("b")))
			assert.NotNil(t, c.Get(ctx, sampleKey("a")))

			entries, err := c.Entries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "d", entries[0].Key.Name)
			assert.Equal(t, "c", entries[2].Key.Name)
		})
	}
}

func TestCache_Clear(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCache(t, factory, DefaultMaxEntries)
			ctx := context.Background()

			c.Set(ctx, sampleKey("a"), sampleResult("a"))
			c.Set(ctx, sampleKey("b"), sampleResult("b"))
			require.NoError(t, c.Clear(ctx))

			assert.Equal(t, 0, c.Count(ctx))
			assert.Nil(t, c.Get(ctx, sampleKey("a")))
		})
	}
}

func TestSQLiteStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	first, err := NewSQLiteStore(path, 10)
	require.NoError(t, err)
	c := New(first)
	c.Set(context.Background(), sampleKey("a"), sampleResult("a"))
	require.NoError(t, c.Close())

	second, err := NewSQLiteStore(path, 10)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	assert.Equal(t, path, second.Path())
	assert.Equal(t, path, New(second).Path())
	got, err := second.Get(context.Background(), NormalizeKey(sampleKey("a")))
	require.NoError(t, err)
	assert.Equal(t, sampleResult("a"), got)
}

// =============================================================================
// Fault tolerance
// =============================================================================

type brokenStore struct{}

var errBroken = errors.New("database is locked")

func (brokenStore) Get(context.Context, NormalizedKey) (*bundler.Result, error) {
	return nil, errBroken
}
func (brokenStore) Set(context.Context, NormalizedKey, *bundler.Result, time.Time) (int64, error) {
	return 0, errBroken
}
func (brokenStore) Clear(context.Context) error              { return errBroken }
func (brokenStore) Count(context.Context) (int, error)       { return 0, errBroken }
func (brokenStore) Entries(context.Context) ([]Entry, error) { return nil, errBroken }
func (brokenStore) Close() error                             { return nil }

func TestCache_FaultsDegrade(t *testing.T) {
	metrics := observability.NewMetrics()
	c := New(brokenStore{}, WithMetrics(metrics))
	ctx := context.Background()

	assert.NotPanics(t, func() { c.Set(ctx, sampleKey("a"), sampleResult("a")) })
	assert.Nil(t, c.Get(ctx, sampleKey("a")))
	assert.Equal(t, 0, c.Count(ctx))
	assert.ErrorIs(t, c.Clear(ctx), errBroken)

	// one series per failed operation: get, set, count, clear
	series, err := testutil.GatherAndCount(metrics.Registry(), "bundlecheck_cache_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 4, series)
}

func TestCache_Disabled(t *testing.T) {
	var nilCache *Cache
	disabled := New(nil)
	ctx := context.Background()

	for _, c := range []*Cache{nilCache, disabled} {
		assert.False(t, c.Enabled())
		c.Set(ctx, sampleKey("a"), sampleResult("a"))
		assert.Nil(t, c.Get(ctx, sampleKey("a")))
		assert.Equal(t, 0, c.Count(ctx))
		assert.NoError(t, c.Clear(ctx))
		assert.Empty(t, c.Path())
		assert.NoError(t, c.Close())
	}
	assert.Empty(t, New(NewMemoryStore(1)).Path())
}

func TestCache_TimestampsStrictlyIncrease(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(NewMemoryStore(10), WithClock(func() time.Time { return fixed }))

	a := c.timestamp()
	b := c.timestamp()
	assert.True(t, b.After(a))
	assert.Equal(t, time.Microsecond, b.Sub(a))
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(Config{}, dir)
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), store.(*SQLiteStore).Path())
	require.NoError(t, store.Close())

	store, err = NewStore(Config{Backend: BackendMemory}, dir)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStore(Config{Backend: BackendNone}, dir)
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = NewStore(Config{Backend: BackendRedis}, dir)
	assert.Error(t, err)

	_, err = NewStore(Config{Backend: "etcd"}, dir)
	assert.Error(t, err)
}
