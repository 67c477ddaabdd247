package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/ai/mock"
	"github.com/poiesic/needmatch/core"
)

const testNeed = "I need a fast on-device model for defect detection"

var errFetch = errors.New("fetch failed")

type fakeRecords struct {
	items map[string]*core.CandidateItem
	err   error
}

func newFakeRecords(items ...*core.CandidateItem) *fakeRecords {
	f := &fakeRecords{items: make(map[string]*core.CandidateItem)}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeRecords) FetchByIDs(_ context.Context, refs []core.ItemRef) ([]*core.CandidateItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*core.CandidateItem
	for _, ref := range refs {
		if item, ok := f.items[ref.ID]; ok {
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

// papers builds documents d1..dn with URLs.
func papers(n int) []*core.CandidateItem {
	items := make([]*core.CandidateItem, n)
	for i := range n {
		id := fmt.Sprintf("d%d", i+1)
		items[i] = &core.CandidateItem{
			ID:    id,
			Kind:  core.KindPaper,
			Title: "Title " + id,
			URL:   "https://example.org/" + id + ".pdf",
		}
	}
	return items
}

func docIDs(items []*core.CandidateItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

type fakeFetcher struct {
	fn    func(ctx context.Context, url, id string, maxPages int) (string, error)
	calls atomic.Int32
}

func (f *fakeFetcher) Extract(ctx context.Context, url, id string, maxPages int) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, url, id, maxPages)
	}
	return "Full text of " + id, nil
}

func failing(ids ...string) *fakeFetcher {
	return &fakeFetcher{fn: func(_ context.Context, _, id string, _ int) (string, error) {
		for _, bad := range ids {
			if id == bad {
				return "", errFetch
			}
		}
		return "Full text of " + id, nil
	}}
}

const validPlan = `{"summary": "Ship a detector", "phases": [{"name": "Pilot", "goal": "Prove it", "tasks": ["collect data"], "duration": "4 weeks"}], "risks": ["data drift"]}`

// scriptedModel answers classification, analysis and plan prompts.
type scriptedModel struct {
	docType     string
	planReplies []string

	mu         sync.Mutex
	planCalls  int
	analyzeHit int
}

func (s *scriptedModel) complete(_ context.Context, req ai.Request) (string, error) {
	switch req.System {
	case classifySystem:
		if s.docType == "" {
			return "algorithm", nil
		}
		return s.docType, nil
	case analyzeSystem:
		s.mu.Lock()
		s.analyzeHit++
		s.mu.Unlock()
		return `{"summary": "Useful method", "key_techniques": ["distillation"], "applicability": "high", "limitations": ["needs labels"]}`, nil
	case planSystem:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.planCalls++
		if len(s.planReplies) == 0 {
			return validPlan, nil
		}
		reply := s.planReplies[0]
		if len(s.planReplies) > 1 {
			s.planReplies = s.planReplies[1:]
		}
		return reply, nil
	}
	return "", fmt.Errorf("unexpected prompt: %s", strings.SplitN(req.System, "\n", 2)[0])
}

func (s *scriptedModel) plans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planCalls
}

// recordingSink keeps every published snapshot.
type recordingSink struct {
	mu        sync.Mutex
	snapshots []*core.AnalysisTask
}

func (r *recordingSink) Publish(_ context.Context, task *core.AnalysisTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, task.Clone())
	return nil
}

func (r *recordingSink) all() []*core.AnalysisTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.AnalysisTask(nil), r.snapshots...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PlanBaseDelay = time.Millisecond
	return cfg
}

func newTestRunner(t *testing.T, records *fakeRecords, model *scriptedModel, fetcher *fakeFetcher, opts ...RunnerOption) (*Runner, *mock.MockCompleter) {
	t.Helper()
	completer := mock.NewMockCompleter().WithCompleteFunc(model.complete)
	opts = append([]RunnerOption{WithConfig(testConfig())}, opts...)
	r, err := NewRunner(records, completer, fetcher, opts...)
	require.NoError(t, err)
	return r, completer
}

func newTask(ids []string) (core.AnalysisRequest, *core.AnalysisTask) {
	req := core.AnalysisRequest{TaskID: "task-1", DocIDs: ids, NeedText: testNeed}
	return req, core.NewAnalysisTask(req)
}

var statusRank = map[core.SubTaskStatus]int{
	core.SubPending:  0,
	core.SubFetched:  1,
	core.SubAnalyzed: 2,
	core.SubFailed:   2,
}

// requireMonotonic checks no document ever moves backward across snapshots.
func requireMonotonic(t *testing.T, snapshots []*core.AnalysisTask) {
	t.Helper()
	last := map[string]int{}
	completed := 0
	for _, snap := range snapshots {
		require.GreaterOrEqual(t, snap.CompletedDocs, completed)
		completed = snap.CompletedDocs
		for id, sub := range snap.PerDoc {
			rank := statusRank[sub.Status]
			require.GreaterOrEqual(t, rank, last[id], "doc %s moved backward to %s", id, sub.Status)
			last[id] = rank
		}
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
