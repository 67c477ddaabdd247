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
	"fmt"
	"time"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/retry"
	"github.com/poiesic/needmatch/storage"
)

// BatchProcessor embeds batches of records and writes their vectors to an index.
type BatchProcessor struct {
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BatchProcessor{
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds items and upserts the normalized vectors into index.
// Items without any text are skipped. Returns the number of vectors written.
func (bp *BatchProcessor) Process(ctx context.Context, index storage.VectorIndex, items []*core.CandidateItem) (int, error) {
	ids := make([]string, 0, len(items))
	texts := make([]string, 0, len(items))
	for _, item := range items {
		text := item.Text()
		if text == "" {
			continue
		}
		ids = append(ids, item.ID)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(texts) {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(texts), len(embeddings))
	}

	for i, id := range ids {
		if err := index.Upsert(ctx, id, core.NormalizeVector(embeddings[i])); err != nil {
			return i, fmt.Errorf("failed to upsert vector %s: %w", id, err)
		}
	}

	return len(ids), nil
}
