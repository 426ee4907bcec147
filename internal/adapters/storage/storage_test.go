package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Score float64 `json:"score"`
}

// every backend must satisfy the same contract.
func backends(t *testing.T) map[string]ports.DocumentStore {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]ports.DocumentStore{
		"mem":    NewMemStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestDocumentStore_Contract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var out doc
			err := store.Load(ctx, "ledger/orders", &out)
			assert.ErrorIs(t, err, ports.ErrNotFound)

			ok, err := store.Exists(ctx, "ledger/orders")
			require.NoError(t, err)
			assert.False(t, ok)

			in := doc{Name: "orders", Count: 3, Score: 0.58}
			require.NoError(t, store.Save(ctx, "ledger/orders", in))

			ok, err = store.Exists(ctx, "ledger/orders")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, store.Load(ctx, "ledger/orders", &out))
			assert.Equal(t, in, out)

			// Save replaces, never merges.
			require.NoError(t, store.Save(ctx, "ledger/orders", doc{Name: "orders", Count: 4}))
			require.NoError(t, store.Load(ctx, "ledger/orders", &out))
			assert.Equal(t, 4, out.Count)
			assert.Zero(t, out.Score)

			require.NoError(t, store.Delete(ctx, "ledger/orders"))
			assert.ErrorIs(t, store.Load(ctx, "ledger/orders", &out), ports.ErrNotFound)

			// Deleting an absent document is not an error.
			assert.NoError(t, store.Delete(ctx, "ledger/orders"))
		})
	}
}

func TestFileStore_NestedPathsAndAtomicLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "momentum/BTC", doc{Name: "btc"}))

	// The document lands at a predictable path with no temp litter.
	_, err = os.Stat(filepath.Join(root, "momentum", "BTC.json"))
	assert.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(root, "momentum"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_RejectsEscapingPaths(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Save(context.Background(), "../outside", doc{}))
	assert.Error(t, store.Save(context.Background(), "/abs/path", doc{}))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "risk/state", doc{Name: "risk", Count: 7}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	var out doc
	require.NoError(t, reopened.Load(ctx, "risk/state", &out))
	assert.Equal(t, 7, out.Count)
}
