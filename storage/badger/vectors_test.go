package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/needmatch/ai/mock"
	"github.com/poiesic/needmatch/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEmbedder maps known texts onto fixed vectors.
func axisEmbedder(vectors map[string][]float32) *mock.MockEmbedder {
	return mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float32{0, 0, 1}, nil
	})
}

func TestVectorIndex_Search(t *testing.T) {
	ctx := context.Background()
	embedder := axisEmbedder(map[string][]float32{"query": {1, 0, 0}})
	supply, demand, backend, err := NewMemoryIndexes(embedder)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, supply.Upsert(ctx, "2401.00001", []float32{1, 0, 0}))
	require.NoError(t, supply.Upsert(ctx, "achievement_7", []float32{1, 1, 0}))
	require.NoError(t, supply.Upsert(ctx, "2401.00002", []float32{0, 1, 0}))
	require.NoError(t, supply.Upsert(ctx, "2401.00003", []float32{-1, 0, 0}))
	require.NoError(t, demand.Upsert(ctx, "published_need_1", []float32{1, 0, 0}))

	t.Run("ordered by similarity", func(t *testing.T) {
		matches, err := supply.Search(ctx, "query", 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)

		assert.Equal(t, "2401.00001", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
		assert.Equal(t, "achievement_7", matches[1].ID)
		assert.InDelta(t, 0.7071, matches[1].Similarity, 1e-3)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Similarity, float32(0))
			assert.LessOrEqual(t, m.Similarity, float32(1))
		}
	})

	t.Run("limited to topK", func(t *testing.T) {
		matches, err := supply.Search(ctx, "query", 2)
		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		matches, err := demand.Search(ctx, "query", 10)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "published_need_1", matches[0].ID)
	})

	t.Run("zero topK", func(t *testing.T) {
		matches, err := supply.Search(ctx, "query", 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestVectorIndex_UpsertReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	supply, _, backend, err := NewMemoryIndexes(mock.NewMockEmbedder())
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, supply.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, supply.Upsert(ctx, "a", []float32{0, 1}))
	require.NoError(t, supply.Upsert(ctx, "b", []float32{1, 0}))

	count, err := supply.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := supply.SearchVector(ctx, []float32{0, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", matches[0].ID)

	require.NoError(t, supply.Delete(ctx, "a", "missing"))
	count, err = supply.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, supply.Upsert(ctx, "", []float32{1}), storage.ErrInvalidQuery)
}

func TestVectorIndex_EmbedderFailure(t *testing.T) {
	boom := errors.New("embedding service down")
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	})
	supply, _, backend, err := NewMemoryIndexes(embedder)
	require.NoError(t, err)
	defer backend.Close()

	_, err = supply.Search(context.Background(), "query", 5)
	assert.ErrorIs(t, err, boom)
}

func TestNewVectorIndex_Validation(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	_, err = NewVectorIndex(backend, "supply", nil)
	assert.ErrorIs(t, err, storage.ErrEmbedderRequired)

	_, err = NewVectorIndex(backend, "", mock.NewMockEmbedder())
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
