package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/needmatch/core"
)

func TestHydrate_ResortsByVectorScore(t *testing.T) {
	matches := []core.Match{
		{ID: "b", Similarity: 0.5},
		{ID: "a", Similarity: 0.9},
		{ID: "missing", Similarity: 0.8},
		{ID: "c", Similarity: 0.5},
	}
	records := newFakeRecords(
		&core.CandidateItem{ID: "a", Kind: core.KindPaper},
		&core.CandidateItem{ID: "b", Kind: core.KindPaper},
		&core.CandidateItem{ID: "c", Kind: core.KindPaper},
	)

	r := NewRetriever(&fakeIndex{}, nil, records, DefaultConfig(), nil)
	items, err := r.Hydrate(context.Background(), matches)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "a", items[0].ID)
	assert.InDelta(t, 0.9, items[0].VectorScore, 1e-6)
	// Equal scores keep match order.
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "c", items[2].ID)
	assert.Equal(t, int32(1), records.calls.Load())
}

func TestHydrate_Empty(t *testing.T) {
	records := newFakeRecords()
	r := NewRetriever(&fakeIndex{}, nil, records, DefaultConfig(), nil)

	items, err := r.Hydrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, records.calls.Load())
}

func TestRetrieve_UsesCoarseTopK(t *testing.T) {
	matches, _ := corpus(60)
	index := &fakeIndex{matches: matches}
	r := NewRetriever(index, nil, newFakeRecords(), DefaultConfig(), nil)

	got, err := r.Retrieve(context.Background(), "query", ModeAll)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, "query", index.lastQuery())
}
