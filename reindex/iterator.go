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

package reindex

import (
	"context"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// RecordIterator pages through the records of one kind in ID order.
type RecordIterator struct {
	records   storage.RecordStore
	kind      core.Kind
	batchSize int
}

// NewRecordIterator creates an iterator over records of kind.
func NewRecordIterator(records storage.RecordStore, kind core.Kind, batchSize int) *RecordIterator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &RecordIterator{
		records:   records,
		kind:      kind,
		batchSize: batchSize,
	}
}

// ForEach calls fn with successive batches of records whose ID sorts after
// afterID. Iteration stops at the first error returned by fn or the store.
func (it *RecordIterator) ForEach(ctx context.Context, afterID string, fn func([]*core.CandidateItem) error) error {
	cursor := afterID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.records.ListItems(ctx, it.kind, cursor, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		cursor = batch[len(batch)-1].ID
		if len(batch) < it.batchSize {
			return nil
		}
	}
}

// Count returns how many records ForEach would visit from afterID.
func (it *RecordIterator) Count(ctx context.Context, afterID string) (int, error) {
	total := 0
	err := it.ForEach(ctx, afterID, func(batch []*core.CandidateItem) error {
		total += len(batch)
		return nil
	})
	return total, err
}
