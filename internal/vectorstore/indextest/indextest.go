// Package indextest holds the behaviour every vectorstore.Index backend
// must share. Backend tests call Run with a constructor.
package indextest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/vectorstore"
)

const Dimension = 4

// Factory returns a fresh, empty index.
type Factory func(t *testing.T) vectorstore.Index

func Run(t *testing.T, newIndex Factory) {
	t.Run("SearchBeforeAnyWriteIsEmpty", func(t *testing.T) {
		idx := initialized(t, newIndex)
		results, err := idx.Search(context.Background(), "nobody", unit(0), 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("InitIsIdempotent", func(t *testing.T) {
		idx := initialized(t, newIndex)
		require.NoError(t, idx.Init(context.Background(), Dimension))
	})

	t.Run("UpsertIsIdempotentByKey", func(t *testing.T) {
		ctx := context.Background()
		idx := initialized(t, newIndex)

		rec := vectorstore.NewRecord("u1", "d1", 0, "first version", unit(0))
		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec}))

		rec.Content = "second version"
		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{rec}))

		results, err := idx.Search(ctx, "u1", unit(0), 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "second version", results[0].Content)
		assert.Equal(t, rec.Key, results[0].Key)
	})

	t.Run("SearchOrdersByScoreAndRespectsTopK", func(t *testing.T) {
		ctx := context.Background()
		idx := initialized(t, newIndex)

		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
			vectorstore.NewRecord("u1", "d1", 0, "exact", unit(0)),
			vectorstore.NewRecord("u1", "d1", 1, "near", []float32{0.9, 0.1, 0, 0}),
			vectorstore.NewRecord("u1", "d1", 2, "far", unit(3)),
		}))

		results, err := idx.Search(ctx, "u1", unit(0), 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "exact", results[0].Content)
		assert.Equal(t, "near", results[1].Content)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		assert.Equal(t, "d1", results[0].Metadata.DocumentID)
		assert.Equal(t, "u1", results[0].Metadata.UserID)
	})

	t.Run("SearchNeverCrossesUsers", func(t *testing.T) {
		ctx := context.Background()
		idx := initialized(t, newIndex)

		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
			vectorstore.NewRecord("alice", "da", 0, "alice text", unit(0)),
			vectorstore.NewRecord("bob", "db", 0, "bob text", unit(0)),
			vectorstore.NewRecord("bob", "db", 1, "bob more", unit(1)),
		}))

		for i := 0; i < Dimension; i++ {
			results, err := idx.Search(ctx, "alice", unit(i), 10)
			require.NoError(t, err)
			for _, r := range results {
				assert.Equal(t, "alice", r.Metadata.UserID)
			}
		}
	})

	t.Run("DeleteDocumentIsScoped", func(t *testing.T) {
		ctx := context.Background()
		idx := initialized(t, newIndex)

		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
			vectorstore.NewRecord("u1", "keep", 0, "keep me", unit(0)),
			vectorstore.NewRecord("u1", "drop", 0, "drop me", unit(1)),
			vectorstore.NewRecord("u1", "drop", 1, "drop me too", unit(2)),
			vectorstore.NewRecord("u2", "drop", 0, "other user", unit(1)),
		}))

		n, err := idx.DeleteDocument(ctx, "u1", "drop")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		results, err := idx.Search(ctx, "u1", unit(1), 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "keep", results[0].Metadata.DocumentID)

		other, err := idx.Search(ctx, "u2", unit(1), 10)
		require.NoError(t, err)
		assert.Len(t, other, 1)

		n, err = idx.DeleteDocument(ctx, "u1", "missing")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("DeleteUser", func(t *testing.T) {
		ctx := context.Background()
		idx := initialized(t, newIndex)

		require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
			vectorstore.NewRecord("u1", "a", 0, "one", unit(0)),
			vectorstore.NewRecord("u1", "b", 0, "two", unit(1)),
			vectorstore.NewRecord("u2", "c", 0, "three", unit(2)),
		}))

		n, err := idx.DeleteUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		results, err := idx.Search(ctx, "u1", unit(0), 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = idx.Search(ctx, "u2", unit(2), 10)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("RejectsWrongDimension", func(t *testing.T) {
		idx := initialized(t, newIndex)
		err := idx.Upsert(context.Background(), []vectorstore.Record{
			vectorstore.NewRecord("u1", "d1", 0, "x", []float32{1, 2}),
		})
		assert.Error(t, err)
	})
}

func initialized(t *testing.T, newIndex Factory) vectorstore.Index {
	t.Helper()
	idx := newIndex(t)
	require.NoError(t, idx.Init(context.Background(), Dimension))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// unit returns the basis vector e_i.
func unit(i int) []float32 {
	v := make([]float32, Dimension)
	v[i] = 1
	return v
}
