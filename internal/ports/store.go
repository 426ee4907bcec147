package ports

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no document exists at the path.
var ErrNotFound = errors.New("document not found")

// DocumentStore persists JSON-shaped documents at named paths with
// atomic-replace semantics. The core never sees the storage mechanism;
// implementations include flat files and SQLite.
type DocumentStore interface {
	// Load unmarshals the document at path into out. Returns ErrNotFound
	// when no document exists yet.
	Load(ctx context.Context, path string, out any) error

	// Save atomically replaces the document at path with the marshalled v.
	Save(ctx context.Context, path string, v any) error

	// Delete removes the document at path. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether a document is present at path.
	Exists(ctx context.Context, path string) (bool, error)
}
