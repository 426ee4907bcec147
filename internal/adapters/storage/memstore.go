package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// MemStore is an in-memory ports.DocumentStore. Used by tests and dry runs;
// documents round-trip through JSON so behavior matches the durable stores.
type MemStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string][]byte)}
}

// Load unmarshals the stored document into out.
func (m *MemStore) Load(_ context.Context, path string, out any) error {
	m.mu.Lock()
	b, ok := m.docs[path]
	m.mu.Unlock()
	if !ok {
		return ports.ErrNotFound
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("storage.MemStore: decode %q: %w", path, err)
	}
	return nil
}

// Save replaces the document atomically (single map write under lock).
func (m *MemStore) Save(_ context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage.MemStore: encode %q: %w", path, err)
	}
	m.mu.Lock()
	m.docs[path] = b
	m.mu.Unlock()
	return nil
}

// Delete removes the document if present.
func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.docs, path)
	m.mu.Unlock()
	return nil
}

// Exists reports document presence.
func (m *MemStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	_, ok := m.docs[path]
	m.mu.Unlock()
	return ok, nil
}
