package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
)

var errStoreDown = errors.New("store down")

type fakeIndex struct {
	mu      sync.Mutex
	matches []core.Match
	err     error
	queries []string
	calls   atomic.Int32
}

func (f *fakeIndex) Search(_ context.Context, text string, topK int) ([]core.Match, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := slices.Clone(f.matches)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) Upsert(context.Context, string, []float32) error { return nil }
func (f *fakeIndex) Delete(context.Context, ...string) error         { return nil }
func (f *fakeIndex) Count(context.Context) (int, error)              { return len(f.matches), nil }

func (f *fakeIndex) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

// fakeRecords returns records in reverse request order so callers cannot
// rely on store ordering.
type fakeRecords struct {
	items map[string]*core.CandidateItem
	err   error
	calls atomic.Int32
}

func newFakeRecords(items ...*core.CandidateItem) *fakeRecords {
	f := &fakeRecords{items: make(map[string]*core.CandidateItem)}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeRecords) FetchByIDs(_ context.Context, refs []core.ItemRef) ([]*core.CandidateItem, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	var out []*core.CandidateItem
	for i := len(refs) - 1; i >= 0; i-- {
		if item, ok := f.items[refs[i].ID]; ok {
			clone := *item
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeRecords) UpsertItems(context.Context, ...*core.CandidateItem) error { return nil }
func (f *fakeRecords) ListItems(context.Context, core.Kind, string, int) ([]*core.CandidateItem, error) {
	return nil, nil
}
func (f *fakeRecords) Close() error { return nil }

// corpus builds n papers p01..pNN with descending similarity.
func corpus(n int) ([]core.Match, []*core.CandidateItem) {
	matches := make([]core.Match, n)
	items := make([]*core.CandidateItem, n)
	for i := range n {
		id := fmt.Sprintf("p%02d", i+1)
		matches[i] = core.Match{ID: id, Similarity: 0.95 - float32(i)*0.05}
		items[i] = &core.CandidateItem{
			ID:    id,
			Kind:  core.KindPaper,
			Title: "Paper " + id,
			Body:  "Abstract of " + id,
		}
	}
	return matches, items
}

// scriptedModel answers expansion prompts with a fixed expansion and re-rank
// prompts with the scores of the candidate ids present in the batch.
type scriptedModel struct {
	expansion string
	scores    map[string]int
	rerankErr error
}

func (s *scriptedModel) complete(_ context.Context, req ai.Request) (string, error) {
	if req.System == expandNeedSystem || req.System == expandAchievementSystem {
		if s.expansion == "" {
			return `{"keywords": ["defect detection", "edge inference"], "abstract": "A compact detector."}`, nil
		}
		return s.expansion, nil
	}
	if s.rerankErr != nil {
		return "", s.rerankErr
	}

	type entry struct {
		ID     string `json:"id"`
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	var results []entry
	for id, score := range s.scores {
		if strings.Contains(req.User, `"id": "`+id+`"`) {
			results = append(results, entry{ID: id, Score: score, Reason: "reason for " + id})
		}
	}
	slices.SortFunc(results, func(a, b entry) int { return strings.Compare(a.ID, b.ID) })
	out, err := json.Marshal(map[string]any{"results": results})
	return string(out), err
}

func isRerank(req ai.Request) bool {
	return req.System == rerankSystem
}
