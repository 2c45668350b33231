// Package cache provides the durable local cache for nestlog collections.
//
// The cache is an embedded SQLite database (ncruces/go-sqlite3, no cgo) with
// WAL enabled. Each collection key maps to one row holding the canonical JSON
// value, its content hash and the time it was written.
//
// Architecture:
//   - Database file: <data dir>/nest.db
//   - Table kv(key, value, hash, updated_at)
//   - Reads never fail from the caller's point of view: corrupt or
//     incompatible values are logged and the caller's default is returned
//   - Writes of nil remove the key instead of storing a sentinel
//
// Write failures (disk full, read-only file system) are logged by Set and the
// session continues with reduced durability. Callers that need to observe
// the failure use SetContext.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nestlog/nestlog/internal/schema"
)

// Cache wraps the SQLite connection used for local persistence.
type Cache struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Entry is one stored collection row.
type Entry struct {
	Key       string
	Value     json.RawMessage
	Hash      string
	UpdatedAt time.Time
}

// Stats summarizes the cache contents.
type Stats struct {
	Keys       int
	TotalBytes int64
	LastWrite  *time.Time
}

// Open creates or opens the cache database at path and initializes its
// schema. The caller MUST call Close() when done.
//
// Example:
//
//	c, err := cache.Open(filepath.Join(dataDir, "nest.db"), nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func Open(path string, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	// One writer; reads are cheap enough that a small pool is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &Cache{conn: conn, path: path, logger: logger}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := c.conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := c.InitSchema(); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}

	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	c.conn = nil
	return nil
}

// InitSchema creates the kv table. Idempotent.
func (c *Cache) InitSchema() error {
	return c.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the kv table with context support.
func (c *Cache) InitSchemaContext(ctx context.Context) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		hash TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := c.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Load returns the stored entry for key. ok is false when the key has never
// been written or was removed.
func (c *Cache) Load(key string) (Entry, bool, error) {
	return c.LoadContext(context.Background(), key)
}

// LoadContext returns the stored entry for key with context support.
func (c *Cache) LoadContext(ctx context.Context, key string) (Entry, bool, error) {
	if c.conn == nil {
		return Entry{}, false, errClosed
	}

	var value, hash, updatedAt string
	err := c.conn.QueryRowContext(ctx,
		`SELECT value, hash, updated_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &hash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	e := Entry{Key: key, Value: json.RawMessage(value), Hash: hash}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		e.UpdatedAt = t
	}
	return e, true, nil
}

// Set serializes value and writes it under key. A nil value (or one that
// marshals to null) removes the key. Failures are logged, never returned.
func (c *Cache) Set(key string, value any) {
	if err := c.SetContext(context.Background(), key, value); err != nil {
		c.logger.Printf("Warning: failed to persist %s: %v", key, err)
	}
}

// SetContext is Set with context support and error reporting.
func (c *Cache) SetContext(ctx context.Context, key string, value any) error {
	if value == nil {
		return c.DeleteContext(ctx, key)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.SetRawContext(ctx, key, data)
}

// SetRaw writes already encoded JSON under key.
func (c *Cache) SetRaw(key string, data json.RawMessage) error {
	return c.SetRawContext(context.Background(), key, data)
}

// SetRawContext writes already encoded JSON under key with context support.
// The value is canonicalized before it is hashed and stored.
func (c *Cache) SetRawContext(ctx context.Context, key string, data json.RawMessage) error {
	if schema.IsNull(data) {
		return c.DeleteContext(ctx, key)
	}
	if c.conn == nil {
		return errClosed
	}

	canonical, err := schema.Canonical(data)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	query := `
	INSERT INTO kv (key, value, hash, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		hash = excluded.hash,
		updated_at = excluded.updated_at
	`
	_, err = c.conn.ExecContext(ctx, query,
		key,
		string(canonical),
		schema.HashBytes(canonical),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Returns nil if the key does not exist.
func (c *Cache) Delete(key string) error {
	return c.DeleteContext(context.Background(), key)
}

// DeleteContext removes key with context support.
func (c *Cache) DeleteContext(ctx context.Context, key string) error {
	if c.conn == nil {
		return errClosed
	}
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored key in sorted order.
func (c *Cache) Keys() ([]string, error) {
	if c.conn == nil {
		return nil, errClosed
	}

	rows, err := c.conn.Query(`SELECT key FROM kv ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// Stats returns the number of keys, their total size and the newest write.
func (c *Cache) Stats() (Stats, error) {
	if c.conn == nil {
		return Stats{}, errClosed
	}

	var s Stats
	var last sql.NullString
	err := c.conn.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0), MAX(updated_at) FROM kv`,
	).Scan(&s.Keys, &s.TotalBytes, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339Nano, last.String); err == nil {
			s.LastWrite = &t
		}
	}
	return s, nil
}

// Get decodes the value stored under key into T. Missing keys, read errors
// and values that do not decode into T all return def; the latter two are
// logged.
func Get[T any](c *Cache, key string, def T) T {
	e, ok, err := c.Load(key)
	if err != nil {
		c.logger.Printf("Warning: failed to read %s, using default: %v", key, err)
		return def
	}
	if !ok {
		return def
	}

	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		c.logger.Printf("Warning: stored %s is unreadable, using default: %v", key, err)
		return def
	}
	return v
}

var errClosed = errors.New("cache is closed")
