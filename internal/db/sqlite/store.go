// Package sqlite implements db.Store on an embedded SQLite file (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds the database location.
type Config struct {
	Path string
}

// Store is a SQLite-backed library store.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database and its schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(conn); err != nil {
		conn.Close()
		return nil, &db.Error{Op: db.OpSchema, Err: err}
	}
	return &Store{db: conn}, nil
}

func createSchema(conn *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS spectra (
			spectrum_id TEXT PRIMARY KEY,
			structure_id TEXT NOT NULL DEFAULT '',
			parent_mass REAL NOT NULL DEFAULT 0,
			peaks_json TEXT NOT NULL,
			metadata_json TEXT NOT NULL
		);

		-- Range queries over parent mass
		CREATE INDEX IF NOT EXISTS idx_spectra_parent_mass ON spectra(parent_mass);
		CREATE INDEX IF NOT EXISTS idx_spectra_structure ON spectra(structure_id);

		CREATE TABLE IF NOT EXISTS embeddings (
			space TEXT NOT NULL,
			spectrum_id TEXT NOT NULL,
			dim INTEGER NOT NULL,
			vector BLOB NOT NULL,
			PRIMARY KEY (space, spectrum_id)
		);

		CREATE TABLE IF NOT EXISTS neighbors (
			structure_id TEXT PRIMARY KEY,
			neighbors_json TEXT NOT NULL
		);

		-- structure_a < structure_b
		CREATE TABLE IF NOT EXISTS similarities (
			structure_a TEXT NOT NULL,
			structure_b TEXT NOT NULL,
			similarity REAL NOT NULL,
			PRIMARY KEY (structure_a, structure_b)
		);

		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
	`
	_, err := conn.Exec(schema)
	return err
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() {
	_ = s.db.Close()
}

// WaitForReady polls Ping until the database responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := s.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return v, nil
}

// Set stores a value at the given key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpBegin, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &db.Error{Op: db.OpCommit, Err: err}
	}
	return nil
}
