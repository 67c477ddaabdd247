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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/reindex"
	"github.com/poiesic/needmatch/storage"
)

// Pipeline stores documents and embeds them on a worker pool.
type Pipeline struct {
	records    storage.RecordStore
	indexes    map[string]storage.VectorIndex
	processor  *reindex.BatchProcessor
	pool       *ants.Pool
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many documents go into one embedding call. Default is 32.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.batchSize = size
		return nil
	}
}

// WithRetry sets the attempts and base backoff delay for embedding calls.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(p *Pipeline) error {
		p.maxRetries = maxRetries
		p.retryDelay = delay
		return nil
	}
}

// WithDemandIndex sets the index that receives requirement vectors.
// Without it requirements are stored but not embedded.
func WithDemandIndex(index storage.VectorIndex) Option {
	return func(p *Pipeline) error {
		if index != nil {
			p.indexes[storage.DemandCollection] = index
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline writing papers and
// achievements to supply.
func NewPipeline(records storage.RecordStore, supply storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if supply == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		records:    records,
		indexes:    map[string]storage.VectorIndex{storage.SupplyCollection: supply},
		pool:       pool,
		batchSize:  32,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.processor = reindex.NewBatchProcessor(embedder, p.maxRetries, p.retryDelay)
	return p, nil
}

// Ingest stores items and schedules their embedding. Items without a kind
// are classified by ID prefix. Storage errors are returned; embedding errors
// are collected and reported by Wait.
func (p *Pipeline) Ingest(ctx context.Context, items ...*core.CandidateItem) error {
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if err := prepare(item); err != nil {
			return err
		}
	}

	if err := p.records.UpsertItems(ctx, items...); err != nil {
		return fmt.Errorf("storing items: %w", err)
	}

	byCollection := make(map[string][]*core.CandidateItem)
	for _, item := range items {
		collection := storage.CollectionFor(item.Kind)
		byCollection[collection] = append(byCollection[collection], item)
	}

	// Embedding continues even if the caller's context ends after Ingest returns.
	embedCtx := context.WithoutCancel(ctx)
	for collection, group := range byCollection {
		index, ok := p.indexes[collection]
		if !ok {
			p.logger.Warn("no index configured, items stored without vectors",
				"collection", collection, "items", len(group))
			continue
		}

		for chunk := range slices.Chunk(group, p.batchSize) {
			p.wg.Add(1)
			err := p.pool.Submit(func() {
				defer p.wg.Done()
				if _, err := p.processor.Process(embedCtx, index, chunk); err != nil {
					p.logger.Error("error embedding items", "collection", collection, "items", len(chunk), "err", err)
					p.recordErr(err)
				}
			})
			if err != nil {
				p.wg.Done()
				return fmt.Errorf("scheduling embeddings: %w", err)
			}
		}
	}

	p.logger.Info("items ingested", "items", len(items))
	return nil
}

// Wait blocks until every scheduled embedding finishes and returns the
// errors collected since the previous Wait.
func (p *Pipeline) Wait() error {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	err := errors.Join(p.errs...)
	p.errs = nil
	return err
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) recordErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func prepare(item *core.CandidateItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if item.Kind == "" {
		item.Kind = core.ParseItemID(item.ID).Kind
	}
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidItem, item.ID, item.Kind)
	}
	if item.Title == "" {
		return fmt.Errorf("%w: %s has no title", ErrInvalidItem, item.ID)
	}
	return nil
}
