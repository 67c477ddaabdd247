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
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// Matcher runs the two-stage matching pipeline.
type Matcher struct {
	supply    storage.VectorIndex
	demand    storage.VectorIndex
	records   storage.RecordStore
	completer ai.Completer
	config    Config
	rng       *rand.Rand
	logger    *slog.Logger

	expander  *Expander
	retriever *Retriever
	reranker  *Reranker
}

// Option configures a Matcher.
type Option func(*Matcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithConfig replaces the default pipeline settings.
func WithConfig(config Config) Option {
	return func(m *Matcher) error {
		if err := config.Validate(); err != nil {
			return err
		}
		m.config = config
		return nil
	}
}

// WithDemandIndex sets the requirement index used by ModeRequirements.
func WithDemandIndex(index storage.VectorIndex) Option {
	return func(m *Matcher) error {
		m.demand = index
		return nil
	}
}

// WithRand sets the source of default scores for candidates the model
// failed to score.
func WithRand(rng *rand.Rand) Option {
	return func(m *Matcher) error {
		m.rng = rng
		return nil
	}
}

// NewMatcher creates a matcher over the supply index and record store.
// The completer should already be wrapped in the process-wide admission gate.
func NewMatcher(
	supply storage.VectorIndex,
	records storage.RecordStore,
	completer ai.Completer,
	opts ...Option,
) (*Matcher, error) {
	if supply == nil {
		return nil, ErrVectorIndexRequired
	}
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if completer == nil {
		return nil, ErrCompleterRequired
	}

	m := &Matcher{
		supply:    supply,
		records:   records,
		completer: completer,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "matcher")

	m.expander = NewExpander(completer, m.config, m.logger)
	m.retriever = NewRetriever(m.supply, m.demand, records, m.config, m.logger)
	m.reranker = NewReranker(completer, m.config, m.logger, m.rng)
	return m, nil
}

// Match returns up to topK ranked items for need. A non-positive topK
// returns every re-ranked item.
//
// Invalid need text yields an empty result and no error, without any vector
// or model call. Vector index and record store failures are returned wrapped
// in core.ErrUpstreamUnavailable.
func (m *Matcher) Match(ctx context.Context, need string, topK int, mode Mode) ([]core.RankedItem, error) {
	return m.MatchWithMonitor(ctx, need, topK, mode, nil)
}

// MatchWithMonitor is Match with a monitor receiving a callback after each stage.
func (m *Matcher) MatchWithMonitor(ctx context.Context, need string, topK int, mode Mode, monitor MatchMonitor) ([]core.RankedItem, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	monitor.Start(need, mode)

	// 1. Validity gate and query expansion
	query, err := m.expander.Expand(ctx, need, mode)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			m.logger.Info("rejected need text", "mode", mode, "err", err)
			empty := []core.RankedItem{}
			monitor.Finish(empty)
			return empty, nil
		}
		return nil, err
	}
	monitor.AfterExpansion(query)
	expandDone := time.Now()

	// 2. Coarse retrieval
	matches, err := m.retriever.Retrieve(ctx, query, mode)
	if err != nil {
		return nil, err
	}
	monitor.AfterRetrieval(matches)

	// 3. Hydration
	items, err := m.retriever.Hydrate(ctx, matches)
	if err != nil {
		return nil, err
	}
	monitor.AfterHydration(items)
	coarseDone := time.Now()

	if len(items) == 0 {
		empty := []core.RankedItem{}
		monitor.Finish(empty)
		return empty, nil
	}

	// 4. Listwise re-rank against the original need
	ranked, stats := m.reranker.Rerank(ctx, need, items, mode)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	monitor.AfterRerank(stats)

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	monitor.Finish(ranked)

	m.logger.Info("match complete",
		"mode", mode,
		"candidates", len(matches),
		"hydrated", len(items),
		"results", len(ranked),
		"defaulted", stats.Defaulted,
		"expand", expandDone.Sub(start),
		"coarse", coarseDone.Sub(expandDone),
		"rerank", time.Since(coarseDone),
	)
	return ranked, nil
}
