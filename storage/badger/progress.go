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
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/needmatch/storage"
)

// ProgressRepository implements storage.ProgressStore with badger entry TTLs.
// It serves single-node deployments and tests where no NATS server is available.
type ProgressRepository struct {
	backend *Backend
}

var _ storage.ProgressStore = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(backend *Backend) *ProgressRepository {
	return &ProgressRepository{backend: backend}
}

// Set stores data under key, expiring after ttl. A zero ttl never expires.
func (r *ProgressRepository) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		entry := badger.NewEntry(makeProgressKey(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := tx.SetEntry(entry); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get returns the data stored under key, or storage.ErrNotFound.
func (r *ProgressRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeProgressKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	}, false)
	return data, err
}
