package matching

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/ai/mock"
	"github.com/poiesic/needmatch/core"
)

const goodNeed = "I need a fast on-device model for defect detection"

func newTestMatcher(t *testing.T, index *fakeIndex, records *fakeRecords, completer ai.Completer, opts ...Option) *Matcher {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	m, err := NewMatcher(index, records, completer, opts...)
	require.NoError(t, err)
	return m
}

func TestMatch_RanksAndAssignsTiers(t *testing.T) {
	matches, items := corpus(12)
	index := &fakeIndex{matches: matches}
	records := newFakeRecords(items...)
	model := &scriptedModel{scores: map[string]int{
		"p01": 95, "p02": 80, "p03": 61, "p04": 40, "p05": 10,
		"p06": 70, "p07": 50, "p08": 30, "p09": 20, "p10": 5,
	}}
	completer := mock.NewMockCompleter().WithCompleteFunc(model.complete)

	m := newTestMatcher(t, index, records, completer)
	results, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
	require.NoError(t, err)
	require.Len(t, results, 5)

	wantIDs := []string{"p01", "p02", "p06", "p03", "p07"}
	wantScores := []int{95, 80, 70, 61, 50}
	wantTiers := []core.Tier{core.TierS, core.TierA, core.TierB, core.TierB, core.TierC}
	for i, r := range results {
		assert.Equal(t, wantIDs[i], r.ID)
		assert.Equal(t, wantScores[i], r.Score)
		assert.Equal(t, wantTiers[i], r.Tier)
		assert.Equal(t, core.TierFor(r.Score), r.Tier)
		assert.Equal(t, "reason for "+r.ID, r.Rationale)
	}

	// One expansion call plus two batches of five.
	assert.Equal(t, 3, completer.CallCount())
	assert.Equal(t, int32(1), index.calls.Load())
	assert.Equal(t, int32(1), records.calls.Load())
	assert.Contains(t, index.lastQuery(), "[Abstract]:")

	for _, req := range completer.Requests() {
		if isRerank(req) {
			assert.Contains(t, req.User, goodNeed)
			assert.NotContains(t, req.User, "[Abstract]:")
		}
	}
}

func TestMatch_InvalidInputMakesNoUpstreamCalls(t *testing.T) {
	matches, items := corpus(3)
	index := &fakeIndex{matches: matches}
	records := newFakeRecords(items...)
	completer := mock.NewMockCompleter()

	m := newTestMatcher(t, index, records, completer)
	for _, need := range []string{"aaaaaaaaaa", "", "   ", "xq"} {
		results, err := m.Match(context.Background(), need, 5, ModeAll)
		require.NoError(t, err, need)
		assert.Empty(t, results, need)
	}

	assert.Equal(t, 0, completer.CallCount())
	assert.Equal(t, int32(0), index.calls.Load())
	assert.Equal(t, int32(0), records.calls.Load())
}

func TestMatch_ModelFlaggedInput(t *testing.T) {
	matches, items := corpus(3)
	index := &fakeIndex{matches: matches}
	model := &scriptedModel{expansion: ai.InvalidInputSentinel}
	completer := mock.NewMockCompleter().WithCompleteFunc(model.complete)

	m := newTestMatcher(t, index, newFakeRecords(items...), completer)
	results, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, completer.CallCount())
	assert.Equal(t, int32(0), index.calls.Load())
}

func TestMatch_ExpansionFailureUsesRawNeed(t *testing.T) {
	matches, items := corpus(3)
	index := &fakeIndex{matches: matches}
	completer := mock.NewMockCompleter().WithCompleteFunc(func(_ context.Context, req ai.Request) (string, error) {
		if !isRerank(req) {
			return "", errors.New("model offline")
		}
		return `[{"id": "p01", "score": 90, "reason": "fits"}]`, nil
	})

	m := newTestMatcher(t, index, newFakeRecords(items...), completer)
	results, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, goodNeed, index.lastQuery())
	assert.Equal(t, "p01", results[0].ID)
}

func TestMatch_StoreErrorsAreFatal(t *testing.T) {
	matches, items := corpus(3)

	t.Run("vector index", func(t *testing.T) {
		index := &fakeIndex{err: errStoreDown}
		m := newTestMatcher(t, index, newFakeRecords(items...), mock.NewMockCompleter())
		_, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
		assert.ErrorIs(t, err, errStoreDown)
	})

	t.Run("record store", func(t *testing.T) {
		records := newFakeRecords(items...)
		records.err = errStoreDown
		m := newTestMatcher(t, &fakeIndex{matches: matches}, records, mock.NewMockCompleter())
		_, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	})
}

func TestMatch_ScoringFailureDegrades(t *testing.T) {
	matches, items := corpus(7)
	model := &scriptedModel{rerankErr: errors.New("rate limited")}
	completer := mock.NewMockCompleter().WithCompleteFunc(model.complete)

	m := newTestMatcher(t, &fakeIndex{matches: matches}, newFakeRecords(items...), completer)
	results, err := m.Match(context.Background(), goodNeed, 10, ModeAll)
	require.NoError(t, err)
	require.Len(t, results, 7)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 45)
		assert.LessOrEqual(t, r.Score, 55)
		assert.Equal(t, reasonUnavailable, r.Rationale)
		assert.Equal(t, core.TierFor(r.Score), r.Tier)
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	completer := mock.NewMockCompleter().WithCompleteFunc((&scriptedModel{}).complete)
	m := newTestMatcher(t, &fakeIndex{}, newFakeRecords(), completer)

	results, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, completer.CallCount())
}

func TestMatch_PapersModeDropsAchievements(t *testing.T) {
	matches := []core.Match{
		{ID: "achievement_1", Similarity: 0.9},
		{ID: "2401.00001", Similarity: 0.8},
	}
	records := newFakeRecords(
		&core.CandidateItem{ID: "achievement_1", Kind: core.KindAchievement, Title: "Sensor"},
		&core.CandidateItem{ID: "2401.00001", Kind: core.KindPaper, Title: "Detector"},
	)
	completer := mock.NewMockCompleter().WithCompleteFunc((&scriptedModel{scores: map[string]int{
		"achievement_1": 90, "2401.00001": 70,
	}}).complete)

	m := newTestMatcher(t, &fakeIndex{matches: matches}, records, completer)

	all, err := m.Match(context.Background(), goodNeed, 5, ModeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	papers, err := m.Match(context.Background(), goodNeed, 5, ModePapers)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00001", papers[0].ID)
}

func TestMatch_RequirementsModeUsesDemandIndex(t *testing.T) {
	supply := &fakeIndex{}
	demand := &fakeIndex{matches: []core.Match{{ID: "published_need_7", Similarity: 0.7}}}
	records := newFakeRecords(&core.CandidateItem{
		ID: "published_need_7", Kind: core.KindRequirement, Title: "Weld inspection",
	})
	completer := mock.NewMockCompleter().WithCompleteFunc(func(_ context.Context, req ai.Request) (string, error) {
		if !isRerank(req) {
			assert.Equal(t, expandAchievementSystem, req.System)
			return `{"keywords": ["weld"], "abstract": "Inspection."}`, nil
		}
		assert.Contains(t, req.User, `"suggestion"`)
		return `{"results": [{"id": "published_need_7", "score": 88, "reason": "close", "suggestion": "pilot on line 2"}]}`, nil
	})

	m := newTestMatcher(t, supply, records, completer, WithDemandIndex(demand))
	results, err := m.Match(context.Background(), "A vision system that finds weld cracks", 5, ModeRequirements)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pilot on line 2", results[0].Suggestion)
	assert.Equal(t, core.TierA, results[0].Tier)
	assert.Equal(t, int32(0), supply.calls.Load())

	t.Run("without demand index", func(t *testing.T) {
		m := newTestMatcher(t, supply, records, completer)
		_, err := m.Match(context.Background(), "A vision system that finds weld cracks", 5, ModeRequirements)
		assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	})
}

func TestMatch_InvalidMode(t *testing.T) {
	m := newTestMatcher(t, &fakeIndex{}, newFakeRecords(), mock.NewMockCompleter())
	_, err := m.Match(context.Background(), goodNeed, 5, Mode("sideways"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestMatch_Monitor(t *testing.T) {
	matches, items := corpus(4)
	completer := mock.NewMockCompleter().WithCompleteFunc((&scriptedModel{scores: map[string]int{"p01": 60}}).complete)
	m := newTestMatcher(t, &fakeIndex{matches: matches}, newFakeRecords(items...), completer)

	mon := &recordingMonitor{}
	results, err := m.MatchWithMonitor(context.Background(), goodNeed, 2, ModeAll, mon)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"start", "expansion", "retrieval", "hydration", "rerank", "finish"}, mon.stages)
	assert.Equal(t, 4, mon.stats.Candidates)
	assert.Equal(t, 3, mon.stats.Defaulted)
}

func TestNewMatcher_RequiresDependencies(t *testing.T) {
	index := &fakeIndex{}
	records := newFakeRecords()
	completer := mock.NewMockCompleter()

	_, err := NewMatcher(nil, records, completer)
	assert.ErrorIs(t, err, ErrVectorIndexRequired)
	_, err = NewMatcher(index, nil, completer)
	assert.ErrorIs(t, err, ErrRecordStoreRequired)
	_, err = NewMatcher(index, records, nil)
	assert.ErrorIs(t, err, ErrCompleterRequired)

	bad := DefaultConfig()
	bad.RerankBatchSize = 0
	_, err = NewMatcher(index, records, completer, WithConfig(bad))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type recordingMonitor struct {
	noopMonitor
	stages []string
	stats  RerankStats
}

func (r *recordingMonitor) Start(string, Mode)                   { r.stages = append(r.stages, "start") }
func (r *recordingMonitor) AfterExpansion(string)                { r.stages = append(r.stages, "expansion") }
func (r *recordingMonitor) AfterRetrieval([]core.Match)          { r.stages = append(r.stages, "retrieval") }
func (r *recordingMonitor) AfterHydration([]*core.CandidateItem) { r.stages = append(r.stages, "hydration") }
func (r *recordingMonitor) AfterRerank(stats RerankStats) {
	r.stages = append(r.stages, "rerank")
	r.stats = stats
}
func (r *recordingMonitor) Finish([]core.RankedItem) { r.stages = append(r.stages, "finish") }
