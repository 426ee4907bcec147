package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// FileStore persists documents as JSON files under a root directory.
// Document paths map to <root>/<path>.json; saves go through a temp file and
// an atomic rename so a crash mid-write never leaves a torn document.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewFileStore: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Load reads and unmarshals the document at path.
func (f *FileStore) Load(_ context.Context, path string, out any) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage.FileStore: read %q: %w", path, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("storage.FileStore: decode %q: %w", path, err)
	}
	return nil
}

// Save writes the document via temp file + rename.
func (f *FileStore) Save(_ context.Context, path string, v any) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.FileStore: encode %q: %w", path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage.FileStore: mkdir for %q: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage.FileStore: temp for %q: %w", path, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage.FileStore: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage.FileStore: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage.FileStore: replace %q: %w", path, err)
	}
	return nil
}

// Delete removes the document; absent is not an error.
func (f *FileStore) Delete(_ context.Context, path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage.FileStore: delete %q: %w", path, err)
	}
	return nil
}

// Exists reports document presence.
func (f *FileStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := f.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.FileStore: stat %q: %w", path, err)
	}
	return true, nil
}

// resolve maps a document path to a file path, refusing escapes from root.
func (f *FileStore) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storage.FileStore: invalid document path %q", path)
	}
	return filepath.Join(f.root, clean+".json"), nil
}
