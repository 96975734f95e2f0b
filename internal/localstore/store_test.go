package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": openTestSQLite(t, filepath.Join(t.TempDir(), "local.db")),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, KeyOfflineQueue)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, KeyOfflineQueue, "first"))
			require.NoError(t, store.Set(ctx, KeyOfflineQueue, "second"))

			v, ok, err := store.Get(ctx, KeyOfflineQueue)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "second", v)

			require.NoError(t, store.Remove(ctx, KeyOfflineQueue))
			_, ok, err = store.Get(ctx, KeyOfflineQueue)
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, store.Remove(ctx, "never-set"))
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(context.Background(), KeyCachedAssets, `{"assets":[]}`))
	require.NoError(t, first.Close())

	second := openTestSQLite(t, path)
	v, ok, err := second.Get(context.Background(), KeyCachedAssets)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"assets":[]}`, v)
}
