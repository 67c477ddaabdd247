// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"time"

	"github.com/poiesic/needmatch/core"
)

// Vector index collections.
const (
	// SupplyCollection indexes papers and published achievements.
	SupplyCollection = "supply"

	// DemandCollection indexes published requirements.
	DemandCollection = "demand"
)

// CollectionFor returns the vector index collection that holds documents of kind.
func CollectionFor(kind core.Kind) string {
	if kind == core.KindRequirement {
		return DemandCollection
	}
	return SupplyCollection
}

// VectorIndex provides nearest-neighbour search over embedded documents.
// Implementations must be thread-safe and support concurrent access.
type VectorIndex interface {
	// Search embeds text and returns up to topK matches ordered by similarity
	// (highest first). Similarities are in [0, 1].
	Search(ctx context.Context, text string, topK int) ([]core.Match, error)

	// Upsert stores or replaces the vector for id. Vectors are normalized on write.
	Upsert(ctx context.Context, id string, vector []float32) error

	// Delete removes vectors by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int, error)
}

// RecordStore holds the corpus documents referenced by vector IDs.
// Implementations must be thread-safe and support concurrent access.
type RecordStore interface {
	// FetchByIDs hydrates refs in one round trip per kind.
	// Unknown or unpublished IDs are dropped; no error is returned for them.
	// The order of the result is unspecified.
	FetchByIDs(ctx context.Context, refs []core.ItemRef) ([]*core.CandidateItem, error)

	// UpsertItems inserts or replaces documents.
	UpsertItems(ctx context.Context, items ...*core.CandidateItem) error

	// ListItems returns up to limit visible documents of kind with ID greater
	// than afterID, ordered by ID.
	ListItems(ctx context.Context, kind core.Kind, afterID string, limit int) ([]*core.CandidateItem, error)

	// Close releases the store's resources.
	Close() error
}

// ProgressStore is a small shared key-value store with expiry, used to publish
// task snapshots and cancellation flags across processes.
type ProgressStore interface {
	// Set stores data under key. Entries expire after ttl.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Get returns the data stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// CacheStore persists extracted document text across restarts.
type CacheStore interface {
	// GetEntry returns the entry for (docID, pageLimit), or ErrNotFound.
	GetEntry(ctx context.Context, docID string, pageLimit int) (*core.CacheEntry, error)

	// PutEntry stores entry. An existing entry for the same key is replaced.
	PutEntry(ctx context.Context, entry *core.CacheEntry) error
}

// CheckpointStore persists progress of resumable batch processes.
type CheckpointStore interface {
	// SaveCheckpoint persists a checkpoint under its name.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns the checkpoint for name.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)
}
