// Package store is the relational layer: one SQLite database per
// workspace holding project registrations, indexing state, user
// context, templates, cached query results, and team patterns. The
// driver is pure Go, so the binary stays CGO-free.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the workspace database. Safe for concurrent use; the
// connection pool is pinned to one connection because SQLite allows a
// single writer.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens or creates the database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN params, so pragmas go through Exec.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		config BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS indexing_state (
		project_id TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_context (
		user_id TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS templates (
		name TEXT PRIMARY KEY,
		blob BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cached_results (
		fingerprint TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expiry INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cached_results_expiry
		ON cached_results(expiry);

	-- Reverse index from touched file paths to cached fingerprints,
	-- so a file change invalidates exactly the entries that cite it.
	CREATE TABLE IF NOT EXISTS cached_result_paths (
		fingerprint TEXT NOT NULL,
		file_path TEXT NOT NULL,
		PRIMARY KEY (fingerprint, file_path)
	);
	CREATE INDEX IF NOT EXISTS idx_cached_result_paths_path
		ON cached_result_paths(file_path);

	CREATE TABLE IF NOT EXISTS team_patterns (
		file_path TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Get returns the value for key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var value []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

// KeysWithPrefix returns all keys starting with prefix, sorted.
func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("kv scan %q: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteKey removes key. Deleting an absent key is not an error.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

// Transaction runs fn inside a transaction, committing on nil and
// rolling back on error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	return s.db, nil
}
