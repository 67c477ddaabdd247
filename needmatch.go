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

package needmatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/ai/openai"
	"github.com/poiesic/needmatch/analysis"
	"github.com/poiesic/needmatch/cache"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/extract"
	"github.com/poiesic/needmatch/ingestion"
	"github.com/poiesic/needmatch/matching"
	"github.com/poiesic/needmatch/reindex"
	"github.com/poiesic/needmatch/storage"
	"github.com/poiesic/needmatch/storage/badger"
	"github.com/poiesic/needmatch/storage/sqlite"
)

const (
	indexDir    = "index"
	recordsFile = "records.db"
)

// Engine wires the stores, the model provider, the matcher and the analysis
// orchestrator behind one facade.
type Engine struct {
	backend      *badger.Backend
	supply       *badger.VectorIndex
	demand       *badger.VectorIndex
	checkpoints  storage.CheckpointStore
	records      storage.RecordStore
	ownsRecords  bool
	provider     ai.AIProvider
	gate         *ai.Gate
	matcher      *matching.Matcher
	runner       *analysis.Runner
	orchestrator *analysis.Orchestrator
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	aiConfig       *ai.Config
	provider       ai.AIProvider
	records        storage.RecordStore
	fetcher        analysis.Fetcher
	matchConfig    matching.Config
	analysisConfig analysis.Config
	natsURL        string
	inMemory       bool
}

// WithAIConfig sets the model endpoints, admission ceiling and call timeout.
func WithAIConfig(config *ai.Config) Option {
	return func(o *options) {
		if config != nil {
			o.aiConfig = config
		}
	}
}

// WithProvider replaces the OpenAI-compatible provider built from the AI config.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithRecordStore replaces the SQLite record store. The caller keeps ownership.
func WithRecordStore(records storage.RecordStore) Option {
	return func(o *options) {
		o.records = records
	}
}

// WithFetcher replaces the HTTP document extractor used by analysis.
func WithFetcher(fetcher analysis.Fetcher) Option {
	return func(o *options) {
		o.fetcher = fetcher
	}
}

// WithMatchingConfig sets the matching pipeline tunables.
func WithMatchingConfig(config matching.Config) Option {
	return func(o *options) {
		o.matchConfig = config
	}
}

// WithAnalysisConfig sets the deep analysis tunables.
func WithAnalysisConfig(config analysis.Config) Option {
	return func(o *options) {
		o.analysisConfig = config
	}
}

// WithNATS selects the distributed analysis backend when url answers.
func WithNATS(url string) Option {
	return func(o *options) {
		o.natsURL = url
	}
}

// InMemory keeps every store in memory. dataDir is ignored.
func InMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// Open opens or creates an engine whose stores live under dataDir.
func Open(ctx context.Context, dataDir string, opts ...Option) (*Engine, error) {
	options := &options{
		aiConfig:       ai.DefaultConfig(),
		matchConfig:    matching.DefaultConfig(),
		analysisConfig: analysis.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{
		records: options.records,
		logger:  slog.Default().With("component", "engine"),
	}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	if !options.inMemory {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	backend, err := badger.OpenBackend(filepath.Join(dataDir, indexDir), options.inMemory)
	if err != nil {
		return nil, err
	}
	e.backend = backend
	e.checkpoints = badger.NewCheckpointRepository(backend)

	if e.records == nil {
		path := filepath.Join(dataDir, recordsFile)
		if options.inMemory {
			path = ":memory:"
		}
		records, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		e.records = records
		e.ownsRecords = true
	}

	e.provider = options.provider
	if e.provider == nil {
		provider, err := openai.NewProvider(options.aiConfig)
		if err != nil {
			return nil, err
		}
		e.provider = provider
	}

	e.supply, err = badger.NewVectorIndex(backend, storage.SupplyCollection, e.provider.Embedder())
	if err != nil {
		return nil, err
	}
	e.demand, err = badger.NewVectorIndex(backend, storage.DemandCollection, e.provider.Embedder())
	if err != nil {
		return nil, err
	}

	// Every model caller shares this gate.
	e.gate = ai.NewGate(options.aiConfig.Concurrency)
	completer := ai.Gated(e.provider.Completer(), e.gate, options.aiConfig.Timeout)

	e.matcher, err = matching.NewMatcher(e.supply, e.records, completer,
		matching.WithConfig(options.matchConfig),
		matching.WithDemandIndex(e.demand),
	)
	if err != nil {
		return nil, err
	}

	contentCache, err := cache.New(cache.WithStore(badger.NewCacheRepository(backend)))
	if err != nil {
		return nil, err
	}
	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = extract.New(extract.WithTimeout(options.analysisConfig.FetchTimeout))
	}
	e.runner, err = analysis.NewRunner(e.records, completer, fetcher,
		analysis.WithConfig(options.analysisConfig),
		analysis.WithCache(contentCache),
	)
	if err != nil {
		return nil, err
	}

	e.orchestrator, err = analysis.NewOrchestrator(ctx, e.runner, options.natsURL)
	if err != nil {
		return nil, err
	}

	e.logger.Info("engine ready",
		"backend", e.orchestrator.Backend().Name(),
		"llm_concurrency", e.gate.Limit(),
		"in_memory", options.inMemory)
	ok = true
	return e, nil
}

// Close releases every resource. It is safe to call on a partially opened engine.
func (e *Engine) Close() error {
	var errs []error
	if e.orchestrator != nil {
		if err := e.orchestrator.Close(); err != nil {
			e.logger.Error("error closing orchestrator", "err", err)
			errs = append(errs, err)
		}
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.records != nil && e.ownsRecords {
		if err := e.records.Close(); err != nil {
			e.logger.Error("error closing record store", "err", err)
			errs = append(errs, err)
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Match ranks corpus documents against need. See matching.Matcher.Match.
func (e *Engine) Match(ctx context.Context, need string, topK int, mode matching.Mode) ([]core.RankedItem, error) {
	return e.matcher.Match(ctx, need, topK, mode)
}

// SubmitAnalysis starts deep analysis of docIDs and returns the task ID.
// An empty taskID is replaced by a generated one.
func (e *Engine) SubmitAnalysis(ctx context.Context, taskID string, docIDs []string, need string) (string, error) {
	return e.orchestrator.Submit(ctx, taskID, docIDs, need)
}

// PollAnalysis returns the current snapshot of a task.
func (e *Engine) PollAnalysis(ctx context.Context, taskID string) (*core.AnalysisTask, error) {
	return e.orchestrator.Poll(ctx, taskID)
}

// CancelAnalysis requests cooperative cancellation of a task.
func (e *Engine) CancelAnalysis(ctx context.Context, taskID string) error {
	return e.orchestrator.Cancel(ctx, taskID)
}

// NewIngestionPipeline returns a pipeline seeding this engine's stores.
func (e *Engine) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	opts = append([]ingestion.Option{ingestion.WithDemandIndex(e.demand)}, opts...)
	return ingestion.NewPipeline(e.records, e.supply, e.provider.Embedder(), opts...)
}

// Reindex re-embeds the records of kinds (all kinds when empty).
func (e *Engine) Reindex(ctx context.Context, config *reindex.Config, progress io.Writer, kinds ...core.Kind) (reindex.Stats, error) {
	r, err := reindex.NewReindexer(e.records, e.supply, e.provider.Embedder(),
		reindex.WithDemandIndex(e.demand),
		reindex.WithCheckpoints(e.checkpoints),
		reindex.WithConfig(config),
		reindex.WithProgress(progress),
	)
	if err != nil {
		return reindex.Stats{}, err
	}
	return r.Run(ctx, kinds...)
}

// Runner returns the analysis job runner, for hosting a distributed worker.
func (e *Engine) Runner() *analysis.Runner {
	return e.runner
}

// Records returns the record store.
func (e *Engine) Records() storage.RecordStore {
	return e.records
}

// Gate returns the process-wide model admission gate.
func (e *Engine) Gate() *ai.Gate {
	return e.gate
}
