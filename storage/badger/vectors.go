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

package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// VectorIndex implements storage.VectorIndex with a brute-force cosine scan
// over one collection of normalized vectors.
type VectorIndex struct {
	backend    *Backend
	collection string
	prefix     []byte
	embedder   ai.Embedder
	logger     *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a vector index over collection.
// The embedder is used to embed query text in Search.
func NewVectorIndex(backend *Backend, collection string, embedder ai.Embedder) (*VectorIndex, error) {
	if embedder == nil {
		return nil, storage.ErrEmbedderRequired
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", storage.ErrInvalidQuery)
	}
	return &VectorIndex{
		backend:    backend,
		collection: collection,
		prefix:     makeVectorPrefix(collection),
		embedder:   embedder,
		logger:     slog.Default().With("component", "vector-index", "collection", collection),
	}, nil
}

// Collection returns the collection name.
func (v *VectorIndex) Collection() string {
	return v.collection
}

// Search embeds text and returns the topK most similar documents.
func (v *VectorIndex) Search(ctx context.Context, text string, topK int) ([]core.Match, error) {
	if topK <= 0 {
		return []core.Match{}, nil
	}

	query, err := v.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", storage.ErrInvalidQuery)
	}
	return v.SearchVector(ctx, query, topK)
}

// SearchVector returns the topK documents most similar to vector.
func (v *VectorIndex) SearchVector(ctx context.Context, vector []float32, topK int) ([]core.Match, error) {
	query := core.NormalizeVector(vector)
	var matches []core.Match

	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = v.prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			id := string(item.Key()[len(v.prefix):])

			err := item.Value(func(val []byte) error {
				stored, err := storage.UnmarshalVector(val)
				if err != nil {
					return err
				}
				matches = append(matches, core.Match{
					ID:         id,
					Similarity: core.Similarity(query, stored),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Ties keep key order, which makes results deterministic.
	slices.SortStableFunc(matches, func(a, b core.Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	v.logger.Debug("vector search complete", "hits", len(matches), "topK", topK)
	return matches, nil
}

// Upsert stores or replaces the normalized vector for id.
func (v *VectorIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidQuery)
	}
	return v.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeVectorKey(v.collection, id), storage.MarshalVector(core.NormalizeVector(vector))); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Delete removes vectors by id.
func (v *VectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return v.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			if err := tx.Delete(makeVectorKey(v.collection, id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Count returns the number of vectors in the collection.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	count := 0
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = v.prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}
