package storage

// sqlite.go — document store on embedded SQLite (pure Go, no CGo).
//
// One `documents` table keyed by path; bodies are the same JSON the file
// backend writes. A transaction per save keeps the atomic-replace contract.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/ports"
	_ "modernc.org/sqlite"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    path       TEXT PRIMARY KEY,
    body       TEXT     NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// SQLiteStore implements ports.DocumentStore on a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load unmarshals the stored document into out.
func (s *SQLiteStore) Load(ctx context.Context, path string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage.SQLiteStore: load %q: %w", path, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("storage.SQLiteStore: decode %q: %w", path, err)
	}
	return nil
}

// Save upserts the document in a single statement.
func (s *SQLiteStore) Save(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage.SQLiteStore: encode %q: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		path, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SQLiteStore: save %q: %w", path, err)
	}
	return nil
}

// Delete removes the document; absent is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("storage.SQLiteStore: delete %q: %w", path, err)
	}
	return nil
}

// Exists reports document presence.
func (s *SQLiteStore) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.SQLiteStore: exists %q: %w", path, err)
	}
	return true, nil
}
