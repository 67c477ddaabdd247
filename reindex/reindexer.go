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
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of records embedded per call.
	BatchSize int

	// ReportInterval is how often to report progress (number of records).
	ReportInterval int

	// MaxRetries is the maximum number of attempts per embedding call.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// Resume continues from the last saved checkpoint instead of the first record.
	Resume bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      64,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Stats summarizes a run.
type Stats struct {
	Indexed map[core.Kind]int
	Skipped map[core.Kind]int
	Elapsed time.Duration
}

// Total returns the number of vectors written across all kinds.
func (s Stats) Total() int {
	total := 0
	for _, n := range s.Indexed {
		total += n
	}
	return total
}

// Reindexer embeds corpus records and writes them to the vector indexes.
type Reindexer struct {
	records     storage.RecordStore
	indexes     map[string]storage.VectorIndex
	checkpoints storage.CheckpointStore
	processor   *BatchProcessor
	config      *Config
	progress    io.Writer
	logger      *slog.Logger
}

// Option configures a Reindexer.
type Option func(*Reindexer) error

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(r *Reindexer) error {
		if config != nil {
			r.config = config
		}
		return nil
	}
}

// WithCheckpoints enables checkpointing after each batch.
func WithCheckpoints(store storage.CheckpointStore) Option {
	return func(r *Reindexer) error {
		r.checkpoints = store
		return nil
	}
}

// WithDemandIndex sets the index that receives requirement vectors.
// Without it requirements are skipped.
func WithDemandIndex(index storage.VectorIndex) Option {
	return func(r *Reindexer) error {
		if index != nil {
			r.indexes[storage.DemandCollection] = index
		}
		return nil
	}
}

// WithProgress sets where progress lines are written. Default is io.Discard.
func WithProgress(w io.Writer) Option {
	return func(r *Reindexer) error {
		if w != nil {
			r.progress = w
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reindexer) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// NewReindexer creates a reindexer writing papers and achievements to supply.
func NewReindexer(records storage.RecordStore, supply storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Reindexer, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if supply == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Reindexer{
		records:  records,
		indexes:  map[string]storage.VectorIndex{storage.SupplyCollection: supply},
		config:   DefaultConfig(),
		progress: io.Discard,
		logger:   slog.Default().With("component", "reindexer"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.processor = NewBatchProcessor(embedder, r.config.MaxRetries, r.config.RetryDelay)
	return r, nil
}

// Run reindexes the given kinds, or every kind when none are named.
func (r *Reindexer) Run(ctx context.Context, kinds ...core.Kind) (Stats, error) {
	if len(kinds) == 0 {
		kinds = core.Kinds
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return Stats{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
	}

	start := time.Now()
	stats := Stats{
		Indexed: make(map[core.Kind]int, len(kinds)),
		Skipped: make(map[core.Kind]int, len(kinds)),
	}
	for _, kind := range kinds {
		indexed, skipped, err := r.runKind(ctx, kind)
		stats.Indexed[kind] = indexed
		stats.Skipped[kind] = skipped
		if err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("reindex %s: %w", kind, err)
		}
	}
	stats.Elapsed = time.Since(start)

	r.logger.Info("reindex complete", "vectors", stats.Total(), "elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

func (r *Reindexer) runKind(ctx context.Context, kind core.Kind) (int, int, error) {
	index, ok := r.indexes[storage.CollectionFor(kind)]
	if !ok {
		r.logger.Warn("no index configured, skipping", "kind", kind)
		return 0, 0, nil
	}

	checkpoint, err := r.startCheckpoint(ctx, kind)
	if err != nil {
		return 0, 0, err
	}

	iterator := NewRecordIterator(r.records, kind, r.config.BatchSize)
	total, err := iterator.Count(ctx, checkpoint.LastID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No %s records to index\n", kind)
		return 0, 0, r.finishCheckpoint(ctx, checkpoint)
	}

	fmt.Fprintf(r.progress, "Indexing %d %s records (batch size: %d)\n", total, kind, r.config.BatchSize)
	tracker := NewProgressTracker(r.progress, string(kind), total, r.config.ReportInterval)
	tracker.Start()

	indexed, skipped := 0, 0
	err = iterator.ForEach(ctx, checkpoint.LastID, func(batch []*core.CandidateItem) error {
		n, err := r.processor.Process(ctx, index, batch)
		if err != nil {
			return err
		}
		indexed += n
		skipped += len(batch) - n
		tracker.Add(len(batch))

		checkpoint.LastID = batch[len(batch)-1].ID
		checkpoint.Processed += uint64(len(batch))
		return r.saveCheckpoint(ctx, checkpoint)
	})
	tracker.Finish()
	if err != nil {
		return indexed, skipped, err
	}

	if skipped > 0 {
		r.logger.Warn("records without text were skipped", "kind", kind, "skipped", skipped)
	}
	return indexed, skipped, r.finishCheckpoint(ctx, checkpoint)
}

func checkpointName(kind core.Kind) string {
	return "reindex:" + string(kind)
}

func (r *Reindexer) startCheckpoint(ctx context.Context, kind core.Kind) (*core.Checkpoint, error) {
	name := checkpointName(kind)
	if r.checkpoints == nil || !r.config.Resume {
		return &core.Checkpoint{Name: name}, nil
	}

	saved, err := r.checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if saved == nil {
		return &core.Checkpoint{Name: name}, nil
	}
	if saved.LastID != "" {
		r.logger.Info("resuming from checkpoint", "kind", kind, "after", saved.LastID, "processed", saved.Processed)
	}
	return saved, nil
}

func (r *Reindexer) saveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if r.checkpoints == nil {
		return nil
	}
	checkpoint.UpdatedAt = time.Now()
	if err := r.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// finishCheckpoint clears the cursor so the next resumed run starts over.
func (r *Reindexer) finishCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	checkpoint.LastID = ""
	return r.saveCheckpoint(ctx, checkpoint)
}
