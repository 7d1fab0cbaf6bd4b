package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/vectorstore"
	"docqa-platform/internal/vectorstore/indextest"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStoreConformance(t *testing.T) {
	indextest.Run(t, func(t *testing.T) vectorstore.Index { return setupTestStore(t) })
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx, 3))
	require.NoError(t, store.Upsert(ctx, []vectorstore.Record{
		vectorstore.NewRecord("u1", "d1", 0, "persisted", []float32{1, 0, 0}),
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Init(ctx, 3))
	results, err := reopened.Search(ctx, "u1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Content)
}

func TestInitRejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx, 3))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Error(t, reopened.Init(ctx, 8))
}

func TestSearchBeforeInit(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.Search(context.Background(), "u", []float32{1}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrNotInitialized)
}
