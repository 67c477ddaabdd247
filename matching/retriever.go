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

package matching

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// Retriever performs coarse retrieval and hydration.
type Retriever struct {
	supply  storage.VectorIndex
	demand  storage.VectorIndex
	records storage.RecordStore
	config  Config
	logger  *slog.Logger
}

// NewRetriever creates a retriever. demand may be nil when requirement
// matching is not used.
func NewRetriever(supply, demand storage.VectorIndex, records storage.RecordStore, config Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		supply:  supply,
		demand:  demand,
		records: records,
		config:  config,
		logger:  logger,
	}
}

// Retrieve returns up to CoarseTopK matches for query from the index that
// serves mode. In ModePapers achievement IDs are dropped.
func (r *Retriever) Retrieve(ctx context.Context, query string, mode Mode) ([]core.Match, error) {
	index := r.supply
	if mode == ModeRequirements {
		index = r.demand
	}
	if index == nil {
		return nil, fmt.Errorf("%w: no vector index for mode %s", core.ErrUpstreamUnavailable, mode)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	matches, err := index.Search(ctx, query, r.config.CoarseTopK)
	if err != nil {
		r.logger.Error("vector search failed", "mode", mode, "err", err)
		return nil, fmt.Errorf("%w: vector search: %w", core.ErrUpstreamUnavailable, err)
	}

	if mode == ModePapers {
		matches = slices.DeleteFunc(matches, func(m core.Match) bool {
			return core.ParseItemID(m.ID).Kind != core.KindPaper
		})
	}
	return matches, nil
}

// Hydrate loads the records behind matches in one batched lookup and returns
// them ordered by vector score, highest first. Ties keep match order. IDs the
// store does not know are dropped.
func (r *Retriever) Hydrate(ctx context.Context, matches []core.Match) ([]*core.CandidateItem, error) {
	if len(matches) == 0 {
		return []*core.CandidateItem{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	records, err := r.records.FetchByIDs(ctx, core.ParseItemIDs(ids))
	if err != nil {
		r.logger.Error("hydration failed", "candidates", len(ids), "err", err)
		return nil, fmt.Errorf("%w: record fetch: %w", core.ErrUpstreamUnavailable, err)
	}

	byID := make(map[string]*core.CandidateItem, len(records))
	for _, rec := range records {
		if rec != nil {
			byID[rec.ID] = rec
		}
	}

	items := make([]*core.CandidateItem, 0, len(byID))
	for _, m := range matches {
		rec, ok := byID[m.ID]
		if !ok {
			continue
		}
		delete(byID, m.ID)
		rec.VectorScore = m.Similarity
		items = append(items, rec)
	}

	slices.SortStableFunc(items, func(a, b *core.CandidateItem) int {
		switch {
		case a.VectorScore > b.VectorScore:
			return -1
		case a.VectorScore < b.VectorScore:
			return 1
		}
		return 0
	})

	if dropped := len(matches) - len(items); dropped > 0 {
		r.logger.Debug("dropped unknown or unpublished candidates", "count", dropped)
	}
	return items, nil
}
