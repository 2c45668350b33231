package mirror

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
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// docStore holds remote documents keyed by path. Each document is a JSON
// object; pushes merge top-level fields so writers never clobber fields they
// did not send.
type docStore struct {
	db *sql.DB
}

// openDocStore opens the document database at path. An empty path keeps
// documents in memory for the lifetime of the server.
func openDocStore(path string) (*docStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create mirror data dir: %w", err)
		}
		dsn = path
	}

	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	// Merges read-modify-write inside one transaction; a single connection
	// keeps them serialized and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize mirror schema: %w", err)
	}

	return &docStore{db: db}, nil
}

func (d *docStore) close() error {
	return d.db.Close()
}

// get returns the document at path. ok is false if it was never written.
func (d *docStore) get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	var body string
	err := d.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return json.RawMessage(body), true, nil
}

// merge upserts the top-level fields of patch into the document at path and
// returns the merged document.
func (d *docStore) merge(ctx context.Context, path string, patch json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("push body must be a JSON object")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc := make(map[string]json.RawMessage)
	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := json.Unmarshal([]byte(body), &doc); err != nil || doc == nil {
			// A broken stored document is replaced rather than wedging the key.
			doc = make(map[string]json.RawMessage)
		}
	}

	for k, v := range fields {
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO documents (path, body, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`, path, string(merged), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return merged, nil
}

// count returns the number of stored documents.
func (d *docStore) count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}
