package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/needmatch/ai/mock"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage/badger"
	"github.com/poiesic/needmatch/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	records  *sqlite.Store
	supply   *badger.VectorIndex
	demand   *badger.VectorIndex
	embedder *mock.MockEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	embedder := mock.NewMockEmbedder()
	supply, demand, backend, err := badger.NewMemoryIndexes(embedder)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	return &fixture{records: records, supply: supply, demand: demand, embedder: embedder}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithRetry(1, time.Millisecond)}, opts...)
	p, err := NewPipeline(f.records, f.supply, f.embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestPipeline_IngestStoresAndEmbeds(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, WithDemandIndex(f.demand), WithBatchSize(2), WithPoolSize(2))
	ctx := context.Background()

	var items []*core.CandidateItem
	for i := range 5 {
		items = append(items, &core.CandidateItem{ID: fmt.Sprintf("2401.%05d", i), Title: fmt.Sprintf("paper %d", i)})
	}
	items = append(items,
		&core.CandidateItem{ID: "achievement_1", Title: "Defect detector", Body: "vision"},
		&core.CandidateItem{ID: "published_need_1", Title: "Need", Meta: map[string]string{"status": "active"}},
	)

	require.NoError(t, p.Ingest(ctx, items...))
	require.NoError(t, p.Wait())

	assert.Equal(t, core.KindPaper, items[0].Kind)
	assert.Equal(t, core.KindAchievement, items[5].Kind)
	assert.Equal(t, core.KindRequirement, items[6].Kind)

	n, err := f.supply.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = f.demand.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.records.FetchByIDs(ctx, core.ParseItemIDs([]string{"achievement_1", "published_need_1"}))
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// 6 supply items in chunks of 2, plus one demand chunk.
	assert.Equal(t, 4, f.embedder.CallCount())
}

func TestPipeline_RequirementsWithoutDemandIndex(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Ingest(ctx, &core.CandidateItem{ID: "requirement_9", Title: "Need", Meta: map[string]string{"status": "published"}}))
	require.NoError(t, p.Wait())

	assert.Equal(t, 0, f.embedder.CallCount())
	stored, err := f.records.ListItems(ctx, core.KindRequirement, "", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestPipeline_EmbeddingErrorsSurfaceInWait(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Ingest(ctx, &core.CandidateItem{ID: "2401.00001", Title: "paper"}))
	err := p.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding service down")

	// Errors are reported once.
	assert.NoError(t, p.Wait())

	// The record is stored even though embedding failed.
	stored, err := f.records.ListItems(ctx, core.KindPaper, "", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestPipeline_InvalidItems(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	tests := []struct {
		name string
		item *core.CandidateItem
	}{
		{"nil", nil},
		{"missing id", &core.CandidateItem{Title: "t"}},
		{"unknown kind", &core.CandidateItem{ID: "x", Kind: "patent", Title: "t"}},
		{"missing title", &core.CandidateItem{ID: "2401.00001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, p.Ingest(ctx, tt.item), ErrInvalidItem)
		})
	}
	assert.Equal(t, 0, f.embedder.CallCount())
}

func TestPipeline_EmptyIngest(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	assert.NoError(t, p.Ingest(context.Background()))
	assert.NoError(t, p.Wait())
}

func TestNewPipeline_Requirements(t *testing.T) {
	f := newFixture(t)

	_, err := NewPipeline(nil, f.supply, f.embedder)
	assert.ErrorIs(t, err, ErrRecordStoreRequired)

	_, err = NewPipeline(f.records, nil, f.embedder)
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewPipeline(f.records, f.supply, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}
