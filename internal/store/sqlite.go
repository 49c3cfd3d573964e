package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cookclip/internal/logging"
	"cookclip/internal/observability"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bundle_cache (
	url_key    TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bundle_cache_created ON bundle_cache(created_at);
`

// SQLiteCache persists entries in a local SQLite file so they survive
// restarts.
type SQLiteCache struct {
	db      *sql.DB
	ttl     time.Duration
	metrics *observability.Metrics
	logger  logging.Logger
	now     func() time.Time
}

var _ Cache = (*SQLiteCache)(nil)

// OpenSQLite opens (creating when missing) the cache database at path.
func OpenSQLite(ctx context.Context, path string, ttl time.Duration, metrics *observability.Metrics, logger logging.Logger) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteCache{
		db:      db,
		ttl:     ttl,
		metrics: metrics,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, rawURL string) (Entry, bool, error) {
	key := Key(rawURL)
	var (
		payload string
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM bundle_cache WHERE url_key = ?`, key,
	).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		c.metrics.RecordCacheLookup(ctx, "sqlite", false)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	if c.expired(time.Unix(0, created)) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM bundle_cache WHERE url_key = ?`, key); err != nil {
			c.logger.Warn("drop expired cache entry %s: %v", key, err)
		}
		c.metrics.RecordCacheLookup(ctx, "sqlite", false)
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	c.metrics.RecordCacheLookup(ctx, "sqlite", true)
	return entry, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO bundle_cache (url_key, url, payload, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(url_key) DO UPDATE SET url = excluded.url, payload = excluded.payload, created_at = excluded.created_at`,
		Key(entry.URL), entry.URL, string(payload), entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (c *SQLiteCache) Prune(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM bundle_cache WHERE created_at < ?`, c.now().Add(-c.ttl).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) expired(created time.Time) bool {
	return c.ttl > 0 && c.now().Sub(created) > c.ttl
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
