package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
	"github.com/fluxbase-eu/bundlecheck/internal/observability"
)

// Backend names accepted by NewStore
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// DefaultFileName is the SQLite file created under the config directory
const DefaultFileName = "cache.db"

// Config selects and configures the cache backend
type Config struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	RedisURL   string `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// NewStore creates the store for cfg. A nil store (backend "none") disables
// caching. configDir is used when cfg.Path is empty.
func NewStore(cfg Config, configDir string) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(configDir, DefaultFileName)
		}
		return NewSQLiteStore(path, cfg.MaxEntries)

	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis cache backend")
		}
		return NewRedisStore(cfg.RedisURL, cfg.MaxEntries)

	case BackendMemory:
		return NewMemoryStore(cfg.MaxEntries), nil

	case BackendNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid options: sqlite, redis, memory, none)", cfg.Backend)
	}
}

// Cache wraps a Store so that storage faults never reach the caller: they
// are logged and counted, and reads degrade to a miss. A nil *Cache or a
// Cache without a store caches nothing.
type Cache struct {
	store   Store
	metrics *observability.Metrics
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithMetrics records lookups, faults and evictions
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New wraps store
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether results are stored at all
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// Get returns the cached result for key, or nil
func (c *Cache) Get(ctx context.Context, key Key) *bundler.Result {
	if !c.Enabled() {
		return nil
	}
	result, err := c.store.Get(ctx, NormalizeKey(key))
	if err != nil {
		c.fault("get", err)
		return nil
	}
	c.metrics.RecordCacheLookup(result != nil)
	return result
}

// Set stores result under key, replacing any previous value
func (c *Cache) Set(ctx context.Context, key Key, result *bundler.Result) {
	if !c.Enabled() || result == nil {
		return
	}
	evicted, err := c.store.Set(ctx, NormalizeKey(key), result, c.timestamp())
	if err != nil {
		c.fault("set", err)
		return
	}
	if evicted > 0 {
		log.Debug().Int64("evicted", evicted).Msg("Evicted oldest cache entries")
		c.metrics.RecordEvictions(evicted)
	}
}

// Clear removes all entries. Unlike the lookup path, failures are returned
// since the caller asked for this explicitly.
func (c *Cache) Clear(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		c.fault("clear", err)
		return err
	}
	return nil
}

// Count returns the number of entries, 0 on any fault
func (c *Cache) Count(ctx context.Context) int {
	if !c.Enabled() {
		return 0
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		c.fault("count", err)
		return 0
	}
	return n
}

// Entries lists entries newest first
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	if !c.Enabled() {
		return nil, nil
	}
	entries, err := c.store.Entries(ctx)
	if err != nil {
		c.fault("list", err)
		return nil, err
	}
	return entries, nil
}

// Path returns the database file of a SQLite-backed cache, or "" for other
// backends
func (c *Cache) Path() string {
	if !c.Enabled() {
		return ""
	}
	if s, ok := c.store.(*SQLiteStore); ok {
		return s.Path()
	}
	return ""
}

// Close closes the underlying store
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}

// timestamp returns a strictly increasing insertion time so entries written
// in the same microsecond still evict in insertion order
func (c *Cache) timestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

func (c *Cache) fault(op string, err error) {
	log.Warn().Err(err).Str("operation", op).Msg("Result cache unavailable")
	c.metrics.RecordCacheError(op)
}
