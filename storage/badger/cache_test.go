package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRepository(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	repo := NewCacheRepository(backend)

	_, err = repo.GetEntry(ctx, "2401.00001", 20)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entry := &core.CacheEntry{DocID: "2401.00001", PageLimit: 20, Text: "full text", UseCount: 1}
	require.NoError(t, repo.PutEntry(ctx, entry))

	got, err := repo.GetEntry(ctx, "2401.00001", 20)
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	// Different page limit is a different key.
	_, err = repo.GetEntry(ctx, "2401.00001", 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCheckpointRepository(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	repo := NewCheckpointRepository(backend)

	cp, err := repo.LoadCheckpoint(ctx, "reindex:paper")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, repo.SaveCheckpoint(ctx, &core.Checkpoint{Name: "reindex:paper", LastID: "2401.00010", Processed: 10}))

	cp, err = repo.LoadCheckpoint(ctx, "reindex:paper")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "2401.00010", cp.LastID)
	assert.Equal(t, uint64(10), cp.Processed)
	assert.False(t, cp.UpdatedAt.IsZero())
}

func TestProgressRepository(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	repo := NewProgressRepository(backend)

	_, err = repo.Get(ctx, "progress:t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repo.Set(ctx, "progress:t1", []byte(`{"status":"running"}`), time.Hour))
	data, err := repo.Get(ctx, "progress:t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running"}`, string(data))

	require.NoError(t, repo.Set(ctx, "progress:t1", []byte(`{"status":"completed"}`), 0))
	data, err = repo.Get(ctx, "progress:t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, string(data))
}
