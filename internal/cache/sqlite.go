package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bundle_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	package_name TEXT NOT NULL,
	version TEXT NOT NULL,
	exports TEXT NOT NULL,
	platform TEXT NOT NULL,
	gzip_level INTEGER NOT NULL,
	externals TEXT NOT NULL,
	no_external INTEGER NOT NULL,
	raw_size INTEGER NOT NULL,
	gzip_size INTEGER,
	dependencies TEXT NOT NULL,
	display_name TEXT NOT NULL,
	resolved_platform TEXT NOT NULL,
	applied_externals TEXT NOT NULL,
	named_export_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (package_name, version, exports, platform, gzip_level, externals, no_external)
);
CREATE INDEX IF NOT EXISTS idx_bundle_cache_created_at ON bundle_cache (created_at);
`

// SQLiteStore implements Store on a local SQLite file. Separate CLI
// processes may share the file; WAL mode and a busy timeout keep concurrent
// writers from failing immediately.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	maxEntries int
}

// NewSQLiteStore opens or creates the cache database at path
func NewSQLiteStore(path string, maxEntries int) (*SQLiteStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Opened SQLite result cache")

	return &SQLiteStore{db: db, path: path, maxEntries: maxEntries}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

const selectColumns = `package_name, version, exports, platform, gzip_level, externals, no_external,
	raw_size, gzip_size, dependencies, display_name, resolved_platform, applied_externals,
	named_export_count, created_at`

// Get retrieves a result by exact key match
func (s *SQLiteStore) Get(ctx context.Context, key NormalizedKey) (*bundler.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM bundle_cache
		WHERE package_name = ? AND version = ? AND exports = ? AND platform = ?
		AND gzip_level = ? AND externals = ? AND no_external = ?`,
		key.Name, key.Version, key.Exports, key.Platform, key.GzipLevel, key.Externals, key.NoExternal,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Result, nil
}

// Set upserts a result and evicts the oldest entries beyond the cap
func (s *SQLiteStore) Set(ctx context.Context, key NormalizedKey, result *bundler.Result, at time.Time) (int64, error) {
	deps, err := json.Marshal(nonNil(result.Dependencies))
	if err != nil {
		return 0, fmt.Errorf("failed to encode dependencies: %w", err)
	}
	applied, err := json.Marshal(nonNil(result.Externals))
	if err != nil {
		return 0, fmt.Errorf("failed to encode externals: %w", err)
	}

	var gzipSize sql.NullInt64
	if result.GzipSize != nil {
		gzipSize = sql.NullInt64{Int64: *result.GzipSize, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO bundle_cache (
			package_name, version, exports, platform, gzip_level, externals, no_external,
			raw_size, gzip_size, dependencies, display_name, resolved_platform, applied_externals,
			named_export_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (package_name, version, exports, platform, gzip_level, externals, no_external)
		DO UPDATE SET
			raw_size = excluded.raw_size,
			gzip_size = excluded.gzip_size,
			dependencies = excluded.dependencies,
			display_name = excluded.display_name,
			resolved_platform = excluded.resolved_platform,
			applied_externals = excluded.applied_externals,
			named_export_count = excluded.named_export_count,
			created_at = excluded.created_at`,
		key.Name, key.Version, key.Exports, key.Platform, key.GzipLevel, key.Externals, key.NoExternal,
		result.RawSize, gzipSize, string(deps), result.PackageName, string(result.Platform), string(applied),
		result.NamedExportCount, at.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store result: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bundle_cache WHERE id IN (
			SELECT id FROM bundle_cache ORDER BY created_at ASC, id ASC
			LIMIT max(0, (SELECT COUNT(*) FROM bundle_cache) - ?)
		)`, s.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to evict entries: %w", err)
	}
	evicted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return evicted, nil
}

// Clear removes all entries
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bundle_cache`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Count returns the number of entries
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bundle_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Entries lists entries newest first
func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM bundle_cache ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		key              NormalizedKey
		rawSize          int64
		gzipSize         sql.NullInt64
		deps, applied    string
		display          string
		resolvedPlatform string
		namedExports     int
		createdAt        int64
	)
	if err := row.Scan(
		&key.Name, &key.Version, &key.Exports, &key.Platform, &key.GzipLevel, &key.Externals, &key.NoExternal,
		&rawSize, &gzipSize, &deps, &display, &resolvedPlatform, &applied, &namedExports, &createdAt,
	); err != nil {
		return nil, err
	}

	result := &bundler.Result{
		PackageName:      display,
		PackageVersion:   key.Version,
		Exports:          splitList(key.Exports),
		RawSize:          rawSize,
		GzipLevel:        key.GzipLevel,
		Platform:         bundler.Platform(resolvedPlatform),
		NamedExportCount: namedExports,
	}
	if gzipSize.Valid {
		size := gzipSize.Int64
		result.GzipSize = &size
	}
	if err := json.Unmarshal([]byte(deps), &result.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(applied), &result.Externals); err != nil {
		return nil, fmt.Errorf("failed to decode externals: %w", err)
	}

	return &Entry{Key: key, Result: result, CreatedAt: time.Unix(0, createdAt)}, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
