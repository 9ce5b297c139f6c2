// # internal/llm/cache.go
// SQLite-backed response cache keyed by the request hash. Re-running an
// audit over an unchanged program replays confirmation verdicts without
// spending provider quota.
package llm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS llm_cache (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_cache_created ON llm_cache(created_at);
`

type Cache struct {
	db *sql.DB
}

// OpenCache creates dir when needed and opens the cache database inside it.
func OpenCache(ctx context.Context, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, "llm_cache.db")

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open llm cache: %w", err)
	}

	// Single writer keeps WAL access serialized under concurrent workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping llm cache: %w", err)
	}
	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate llm cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached response for key. A nil cache always misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.db == nil {
		return "", false
	}
	var response string
	err := c.db.QueryRowContext(ctx,
		`SELECT response FROM llm_cache WHERE key = ?`, key).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return response, true
}

// Put stores or replaces the response for key.
func (c *Cache) Put(ctx context.Context, key, model, response string) error {
	if c == nil || c.db == nil {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO llm_cache(key, model, response, created_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			model = excluded.model,
			response = excluded.response,
			created_at = excluded.created_at`,
		key, model, response, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write llm cache: %w", err)
	}
	return nil
}

// Len reports the number of cached responses, for startup logging.
func (c *Cache) Len(ctx context.Context) (int, error) {
	if c == nil || c.db == nil {
		return 0, nil
	}
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count llm cache: %w", err)
	}
	return n, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
