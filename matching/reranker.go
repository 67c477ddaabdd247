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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
)

const (
	reasonParseFailed = "parse failed"
	reasonUnavailable = "scoring unavailable"
)

// RerankStats summarizes one re-rank.
type RerankStats struct {
	Candidates     int
	Batches        int
	FailedBatches  int
	Defaulted      int
	DistinctScores int
	Dispersion     float64
}

// Degenerate reports whether too few distinct scores were produced.
func (s RerankStats) Degenerate(threshold float64) bool {
	return s.Candidates > 1 && s.Dispersion < threshold
}

// Reranker scores candidates in small batches so the model compares them
// with each other.
type Reranker struct {
	completer ai.Completer
	config    Config
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewReranker creates a re-ranker. A nil rng uses the shared generator.
func NewReranker(completer ai.Completer, config Config, logger *slog.Logger, rng *rand.Rand) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{completer: completer, config: config, logger: logger, rng: rng}
}

// Rerank scores the first RerankPrefix items against need and returns them
// sorted by score, then vector score, then input position. Items are never
// dropped: candidates the model did not score get a default score.
func (r *Reranker) Rerank(ctx context.Context, need string, items []*core.CandidateItem, mode Mode) ([]core.RankedItem, RerankStats) {
	if len(items) > r.config.RerankPrefix {
		items = items[:r.config.RerankPrefix]
	}
	stats := RerankStats{Candidates: len(items)}
	if len(items) == 0 {
		return []core.RankedItem{}, stats
	}

	batches := batchItems(items, r.config.RerankBatchSize)
	stats.Batches = len(batches)
	outcomes := make([]batchOutcome, len(batches))

	var g errgroup.Group
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = r.scoreBatch(ctx, need, batch, mode)
			return nil
		})
	}
	// Batch failures are folded into default scores, never returned.
	_ = g.Wait()

	ranked := make([]core.RankedItem, 0, len(items))
	for _, out := range outcomes {
		if out.failed {
			stats.FailedBatches++
		}
		stats.Defaulted += out.defaulted
		ranked = append(ranked, out.items...)
	}

	slices.SortStableFunc(ranked, compareRanked)

	distinct := make(map[int]struct{}, len(ranked))
	for _, item := range ranked {
		distinct[item.Score] = struct{}{}
	}
	stats.DistinctScores = len(distinct)
	stats.Dispersion = float64(len(distinct)) / float64(len(ranked))

	if stats.Degenerate(r.config.DispersionThreshold) {
		r.logger.Warn("degenerate score dispersion",
			"candidates", stats.Candidates, "distinct", stats.DistinctScores, "dispersion", stats.Dispersion)
	} else {
		r.logger.Debug("rerank complete",
			"candidates", stats.Candidates, "distinct", stats.DistinctScores, "defaulted", stats.Defaulted)
	}
	return ranked, stats
}

type batchOutcome struct {
	items     []core.RankedItem
	failed    bool
	defaulted int
}

func (r *Reranker) scoreBatch(ctx context.Context, need string, batch []*core.CandidateItem, mode Mode) batchOutcome {
	raw, err := r.completer.Complete(ctx, rerankRequest(need, batch, mode, r.config))
	if err != nil {
		r.logger.Warn("rerank batch failed", "size", len(batch), "err", err)
		return r.defaultBatch(batch, reasonUnavailable)
	}

	res := ai.ParseJSON[scoreList](raw)
	if !res.OK() {
		r.logger.Warn("rerank batch unparseable", "size", len(batch), "err", res.Err)
		return r.defaultBatch(batch, reasonParseFailed)
	}
	if res.Status == ai.ParseRepaired {
		r.logger.Debug("rerank batch repaired", "size", len(batch))
	}

	scores := make(map[string]scoredEntry, len(res.Value))
	for _, entry := range res.Value {
		id := entry.key()
		if _, seen := scores[id]; !seen && id != "" {
			scores[id] = entry
		}
	}

	out := batchOutcome{items: make([]core.RankedItem, len(batch))}
	for i, c := range batch {
		entry, ok := scores[c.ID]
		if !ok || !entry.Score.valid {
			out.items[i] = r.defaultItem(c, reasonParseFailed)
			out.defaulted++
			continue
		}
		score := core.ClampScore(entry.Score.value)
		out.items[i] = core.RankedItem{
			CandidateItem: *c,
			Score:         score,
			Rationale:     strings.TrimSpace(entry.Reason),
			Suggestion:    strings.TrimSpace(entry.Suggestion),
			Tier:          core.TierFor(score),
		}
	}
	if out.defaulted == len(batch) {
		out.failed = true
	}
	return out
}

func (r *Reranker) defaultBatch(batch []*core.CandidateItem, reason string) batchOutcome {
	out := batchOutcome{items: make([]core.RankedItem, len(batch)), failed: true, defaulted: len(batch)}
	for i, c := range batch {
		out.items[i] = r.defaultItem(c, reason)
	}
	return out
}

func (r *Reranker) defaultItem(c *core.CandidateItem, reason string) core.RankedItem {
	score := r.defaultScore()
	return core.RankedItem{
		CandidateItem: *c,
		Score:         score,
		Rationale:     reason,
		Tier:          core.TierFor(score),
	}
}

func (r *Reranker) defaultScore() int {
	span := r.config.DefaultScoreMax - r.config.DefaultScoreMin + 1
	if r.rng == nil {
		return r.config.DefaultScoreMin + rand.IntN(span)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.DefaultScoreMin + r.rng.IntN(span)
}

func batchItems(items []*core.CandidateItem, size int) [][]*core.CandidateItem {
	batches := make([][]*core.CandidateItem, 0, (len(items)+size-1)/size)
	for chunk := range slices.Chunk(items, size) {
		batches = append(batches, chunk)
	}
	return batches
}

func compareRanked(a, b core.RankedItem) int {
	switch {
	case a.Score != b.Score:
		return b.Score - a.Score
	case a.VectorScore > b.VectorScore:
		return -1
	case a.VectorScore < b.VectorScore:
		return 1
	}
	return 0
}

// scoredEntry is one element of a re-rank response. Models sometimes echo
// the legacy paper_id field or emit numbers as strings.
type scoredEntry struct {
	ID         flexString `json:"id"`
	PaperID    flexString `json:"paper_id"`
	Score      flexScore  `json:"score"`
	Reason     string     `json:"reason"`
	Suggestion string     `json:"suggestion"`
}

func (e scoredEntry) key() string {
	if e.ID != "" {
		return strings.TrimSpace(string(e.ID))
	}
	return strings.TrimSpace(string(e.PaperID))
}

// scoreList decodes either a bare array of entries or an object wrapping one
// under "results" or "scores".
type scoreList []scoredEntry

var errNoScores = errors.New("no score entries")

func (l *scoreList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		var entries []scoredEntry
		if err := json.Unmarshal(b, &entries); err != nil {
			return err
		}
		*l = entries
		return nil
	}

	var wrapper struct {
		Results []scoredEntry `json:"results"`
		Scores  []scoredEntry `json:"scores"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return err
	}
	switch {
	case wrapper.Results != nil:
		*l = wrapper.Results
	case wrapper.Scores != nil:
		*l = wrapper.Scores
	default:
		var single scoredEntry
		if err := json.Unmarshal(b, &single); err != nil {
			return err
		}
		if single.key() == "" {
			return errNoScores
		}
		*l = scoreList{single}
	}
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

type flexScore struct {
	value int
	valid bool
}

func (f *flexScore) UnmarshalJSON(b []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if text == "null" || text == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		// An unreadable score defaults the entry rather than failing the batch.
		return nil
	}
	f.value = int(math.Round(min(max(v, core.MinScore), core.MaxScore)))
	f.valid = true
	return nil
}
