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
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// CacheRepository implements storage.CacheStore for BadgerDB.
type CacheRepository struct {
	backend *Backend
}

var _ storage.CacheStore = (*CacheRepository)(nil)

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(backend *Backend) *CacheRepository {
	return &CacheRepository{backend: backend}
}

// GetEntry returns the cached text for (docID, pageLimit).
// Returns storage.ErrNotFound if no entry exists.
func (r *CacheRepository) GetEntry(ctx context.Context, docID string, pageLimit int) (*core.CacheEntry, error) {
	var entry *core.CacheEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCacheKey(docID, pageLimit))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			entry, unmarshalErr = storage.UnmarshalCacheEntry(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PutEntry stores entry under (entry.DocID, entry.PageLimit).
func (r *CacheRepository) PutEntry(ctx context.Context, entry *core.CacheEntry) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeCacheKey(entry.DocID, entry.PageLimit), storage.MarshalCacheEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
