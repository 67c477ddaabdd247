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

package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/cache"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/extract"
	"github.com/poiesic/needmatch/retry"
	"github.com/poiesic/needmatch/storage"
)

// Fetcher downloads a document and returns its plain text.
type Fetcher interface {
	Extract(ctx context.Context, url, id string, maxPages int) (string, error)
}

// Runner executes the job of one analysis task. The same Runner serves the
// in-process backend and distributed workers.
type Runner struct {
	records   storage.RecordStore
	completer ai.Completer
	fetcher   Fetcher
	cache     *cache.ContentCache
	config    Config
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithCache serves document text through a content cache.
func WithCache(c *cache.ContentCache) RunnerOption {
	return func(r *Runner) error {
		r.cache = c
		return nil
	}
}

// WithConfig replaces the default settings. Unset fields take their defaults.
func WithConfig(config Config) RunnerOption {
	return func(r *Runner) error {
		r.config = config.normalized()
		return nil
	}
}

// NewRunner creates a runner. The completer should already be wrapped in the
// process-wide admission gate.
func NewRunner(records storage.RecordStore, completer ai.Completer, fetcher Fetcher, opts ...RunnerOption) (*Runner, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}

	r := &Runner{
		records:   records,
		completer: completer,
		fetcher:   fetcher,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "analysis")
	return r, nil
}

// Config returns the runner's effective settings.
func (r *Runner) Config() Config {
	return r.config
}

// Run drives task to a terminal status and returns the final snapshot.
// Cancelling ctx, or raising the cancel flag in a sink that carries one,
// stops the job at its next checkpoint.
func (r *Runner) Run(ctx context.Context, task *core.AnalysisTask, req core.AnalysisRequest, sink ProgressSink) *core.AnalysisTask {
	logger := r.logger.With("task", task.TaskID)
	tr := newTracker(task, sink, r.config.StoreTimeout, logger)
	start := time.Now()

	maxPages := req.MaxPages
	if maxPages < 1 {
		maxPages = r.config.MaxPages
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	stopped := r.checkpoint(ctx, stop, sink, task.TaskID, logger)

	if stopped() {
		tr.finish(ctx, core.TaskCancelled, "cancelled", nil)
		return tr.snapshot()
	}
	tr.update(ctx, func(t *core.AnalysisTask) {
		if t.Status.CanTransition(core.TaskRunning) {
			t.Status = core.TaskRunning
		}
		t.CurrentStep = "processing documents"
	})

	// Calls already started run to completion even when the job is cancelled.
	detached := context.WithoutCancel(ctx)

	docs, err := r.hydrate(detached, req.DocIDs)
	if err != nil {
		logger.Error("failed to load documents", "err", err)
		tr.finish(ctx, core.TaskError, "failed", func(t *core.AnalysisTask) {
			for id, sub := range t.PerDoc {
				if sub.Status.CanTransition(core.SubFailed) {
					sub.Status = core.SubFailed
					sub.Error = err.Error()
					t.PerDoc[id] = sub
				}
			}
			t.CompletedDocs = t.TotalDocs
			t.Error = err.Error()
		})
		return tr.snapshot()
	}

	results := make([]*core.DocumentAnalysis, len(req.DocIDs))
	var g errgroup.Group
	g.SetLimit(r.config.DocConcurrency)
	for i, id := range req.DocIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = r.runDoc(ctx, detached, stopped, tr, req.NeedText, id, docs[id], maxPages)
			return nil
		})
	}
	// Document failures are recorded per document, never returned.
	_ = g.Wait()

	analyses := make([]core.DocumentAnalysis, 0, len(results))
	for _, a := range results {
		if a != nil {
			analyses = append(analyses, *a)
		}
	}
	failed := failedDocs(tr.snapshot())

	// Checkpoint: before aggregation
	if stopped() {
		logger.Info("task cancelled", "analyzed", len(analyses))
		tr.finish(ctx, core.TaskCancelled, "cancelled", func(t *core.AnalysisTask) {
			if len(analyses) > 0 {
				t.Result = &core.AnalysisResult{Analyses: analyses, FailedDocs: failed}
			}
		})
		return tr.snapshot()
	}

	if len(analyses) == 0 {
		msg := fmt.Errorf("%w: all %d documents failed", core.ErrTotalFailure, len(req.DocIDs)).Error()
		logger.Warn("task failed", "reason", msg)
		tr.finish(ctx, core.TaskError, "failed", func(t *core.AnalysisTask) {
			t.Error = msg
			t.Result = &core.AnalysisResult{FailedDocs: failed}
		})
		return tr.snapshot()
	}

	tr.update(ctx, func(t *core.AnalysisTask) { t.CurrentStep = "synthesizing plan" })
	plan, err := r.synthesize(ctx, detached, req.NeedText, analyses)
	if err != nil {
		if ctx.Err() != nil {
			tr.finish(ctx, core.TaskCancelled, "cancelled", func(t *core.AnalysisTask) {
				t.Result = &core.AnalysisResult{Analyses: analyses, FailedDocs: failed}
			})
			return tr.snapshot()
		}
		logger.Error("plan synthesis failed", "err", err)
		tr.finish(ctx, core.TaskError, "failed", func(t *core.AnalysisTask) {
			t.Error = "plan synthesis failed: " + err.Error()
			t.Result = &core.AnalysisResult{Analyses: analyses, FailedDocs: failed}
		})
		return tr.snapshot()
	}

	if len(failed) > 0 {
		logger.Warn("task completed with failed documents",
			"err", fmt.Errorf("%w: %d of %d documents failed", core.ErrPartialFailure, len(failed), len(req.DocIDs)))
	}
	tr.finish(ctx, core.TaskCompleted, "done", func(t *core.AnalysisTask) {
		t.Result = &core.AnalysisResult{Plan: plan, Analyses: analyses, FailedDocs: failed}
	})
	logger.Info("task completed", "analyzed", len(analyses), "failed", len(failed), "elapsed", time.Since(start))
	return tr.snapshot()
}

// checkpoint returns the check made at each suspension point. When the sink
// carries cancel flags, a raised flag cancels ctx for the rest of the job.
func (r *Runner) checkpoint(ctx context.Context, stop context.CancelFunc, sink ProgressSink, taskID string, logger *slog.Logger) func() bool {
	flags, _ := sink.(cancelSource)
	return func() bool {
		if ctx.Err() != nil {
			return true
		}
		if flags == nil {
			return false
		}
		fctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
		defer cancel()
		requested, err := flags.CancelRequested(fctx, taskID)
		if err != nil {
			logger.Debug("cancel flag check failed", "err", err)
			return ctx.Err() != nil
		}
		if requested {
			logger.Info("cancel flag raised")
			stop()
			return true
		}
		return false
	}
}

func (r *Runner) hydrate(ctx context.Context, ids []string) (map[string]*core.CandidateItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	items, err := r.records.FetchByIDs(ctx, core.ParseItemIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: record fetch: %w", core.ErrUpstreamUnavailable, err)
	}
	docs := make(map[string]*core.CandidateItem, len(items))
	for _, item := range items {
		if item != nil {
			docs[item.ID] = item
		}
	}
	return docs, nil
}

// runDoc processes one document and returns its analysis, or nil when the
// document failed or the job was cancelled before it finished.
func (r *Runner) runDoc(ctx, detached context.Context, stopped func() bool, tr *tracker, need, docID string, item *core.CandidateItem, maxPages int) *core.DocumentAnalysis {
	// Checkpoint: before fetch
	if stopped() {
		return nil
	}
	start := time.Now()
	fail := func(err error, fetchMS int64, docType string) {
		tr.logger.Warn("document failed", "doc", docID, "err", err)
		tr.setDoc(ctx, docID, func(sub *core.SubTask) {
			sub.Status = core.SubFailed
			sub.Error = err.Error()
			if docType != "" {
				sub.DocType = docType
			}
			if fetchMS > 0 {
				sub.Timings.FetchMS = fetchMS
			}
			sub.Timings.TotalMS = time.Since(start).Milliseconds()
		})
	}

	if item == nil {
		fail(fmt.Errorf("%w: %s", ErrDocumentNotFound, docID), 0, "")
		return nil
	}

	text, err := r.content(detached, item, maxPages)
	fetchMS := time.Since(start).Milliseconds()
	if err != nil {
		fail(err, fetchMS, "")
		return nil
	}
	tr.setDoc(ctx, docID, func(sub *core.SubTask) {
		sub.Status = core.SubFetched
		sub.Timings.FetchMS = fetchMS
	})

	// Checkpoint: before analysis
	if stopped() {
		return nil
	}
	analyzeStart := time.Now()
	docType := r.classify(detached, item, text)
	analysis, err := r.analyze(detached, need, item, docType, text)
	if err != nil {
		fail(err, 0, docType)
		return nil
	}

	tr.setDoc(ctx, docID, func(sub *core.SubTask) {
		sub.Status = core.SubAnalyzed
		sub.DocType = docType
		sub.Timings.AnalyzeMS = time.Since(analyzeStart).Milliseconds()
		sub.Timings.TotalMS = time.Since(start).Milliseconds()
	})
	return analysis
}

// content returns the document text, through the cache when one is set.
// Documents without a URL are analyzed from their stored title and body.
func (r *Runner) content(ctx context.Context, item *core.CandidateItem, maxPages int) (string, error) {
	if item.URL == "" {
		text := strings.TrimSpace(item.Text())
		if text == "" {
			return "", fmt.Errorf("%w: %s", extract.ErrEmptyDocument, item.ID)
		}
		return text, nil
	}

	fetch := func(ctx context.Context, url, docID string, maxPages int) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
		defer cancel()
		return r.fetcher.Extract(ctx, url, docID, maxPages)
	}
	if r.cache == nil {
		return fetch(ctx, item.URL, item.ID, maxPages)
	}
	return r.cache.Get(ctx, item.ID, item.URL, maxPages, fetch)
}

func (r *Runner) complete(ctx context.Context, req ai.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.LLMTimeout)
	defer cancel()
	return r.completer.Complete(ctx, req)
}

// classify never fails: an unusable reply selects the default type.
func (r *Runner) classify(ctx context.Context, item *core.CandidateItem, text string) string {
	raw, err := r.complete(ctx, classifyRequest(item.Title, text))
	if err != nil {
		r.logger.Warn("classification failed, using default type", "doc", item.ID, "err", err)
		return ai.DefaultDocumentType
	}
	return parseDocType(raw)
}

type analysisReply struct {
	Summary       string   `json:"summary"`
	KeyTechniques []string `json:"key_techniques"`
	Applicability string   `json:"applicability"`
	Limitations   []string `json:"limitations"`
}

func (r *Runner) analyze(ctx context.Context, need string, item *core.CandidateItem, docType, text string) (*core.DocumentAnalysis, error) {
	raw, err := r.complete(ctx, analyzeRequest(need, item.Title, docType, text, r.config.MaxAnalysisChars))
	if err != nil {
		return nil, fmt.Errorf("analysis call: %w", err)
	}
	res := ai.ParseJSON[analysisReply](raw)
	if !res.OK() {
		return nil, res.Err
	}
	if strings.TrimSpace(res.Value.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", core.ErrModelResponseMalformed)
	}
	return &core.DocumentAnalysis{
		DocID:         item.ID,
		Title:         item.Title,
		DocType:       docType,
		Summary:       strings.TrimSpace(res.Value.Summary),
		KeyTechniques: res.Value.KeyTechniques,
		Applicability: strings.TrimSpace(res.Value.Applicability),
		Limitations:   res.Value.Limitations,
	}, nil
}

// synthesize asks for the plan, retrying transient and parse failures.
// Waiting between attempts stops when ctx is cancelled.
func (r *Runner) synthesize(ctx, detached context.Context, need string, analyses []core.DocumentAnalysis) (core.ImplementationPlan, error) {
	var plan core.ImplementationPlan
	attempt := 0
	err := retry.If(ctx, func() error {
		attempt++
		raw, err := r.complete(detached, planRequest(need, analyses))
		if err != nil {
			return err
		}
		res := ai.ParseJSON[core.ImplementationPlan](raw)
		if !res.OK() {
			r.logger.Warn("plan reply unparseable", "attempt", attempt, "err", res.Err)
			return res.Err
		}
		if strings.TrimSpace(res.Value.Summary) == "" && len(res.Value.Phases) == 0 {
			return fmt.Errorf("%w: empty plan", core.ErrModelResponseMalformed)
		}
		plan = res.Value
		return nil
	}, r.config.PlanAttempts, r.config.PlanBaseDelay, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	})
	if err != nil {
		return core.ImplementationPlan{}, err
	}

	if len(plan.Sources) == 0 {
		for _, a := range analyses {
			plan.Sources = append(plan.Sources, a.DocID)
		}
	}
	return plan, nil
}

func failedDocs(task *core.AnalysisTask) []string {
	var failed []string
	for _, id := range task.DocOrder {
		if task.PerDoc[id].Status == core.SubFailed {
			failed = append(failed, id)
		}
	}
	return failed
}
