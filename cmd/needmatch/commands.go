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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/needmatch"
	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/analysis"
	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/ingestion"
	"github.com/poiesic/needmatch/matching"
	"github.com/poiesic/needmatch/reindex"
	"github.com/poiesic/needmatch/storage/natskv"
	"github.com/urfave/cli/v2"
)

// engineOptions translates the global flags into engine options.
func engineOptions(c *cli.Context) ([]needmatch.Option, error) {
	embeddingHost := c.String("embedding-host")
	if embeddingHost == "" {
		embeddingHost = c.String("llm-host")
	}
	aiConfig := ai.NewConfig(
		ai.WithCompletionHost(c.String("llm-host")),
		ai.WithEmbeddingHost(embeddingHost),
		ai.WithCompletionModel(c.String("llm-model")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithToken(c.String("llm-token")),
		ai.WithConcurrency(c.Int("llm-concurrency")),
		ai.WithTimeout(c.Duration("llm-timeout")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	matchConfig := matching.DefaultConfig()
	matchConfig.RerankBatchSize = c.Int("rerank-batch-size")
	matchConfig.RerankPrefix = c.Int("rerank-prefix")
	matchConfig.StoreTimeout = c.Duration("store-timeout")
	if err := matchConfig.Validate(); err != nil {
		return nil, err
	}

	analysisConfig := analysis.DefaultConfig()
	analysisConfig.LLMTimeout = c.Duration("llm-timeout")
	analysisConfig.FetchTimeout = c.Duration("fetch-timeout")
	analysisConfig.StoreTimeout = c.Duration("store-timeout")
	analysisConfig.ProgressTTL = c.Duration("progress-ttl")

	return []needmatch.Option{
		needmatch.WithAIConfig(aiConfig),
		needmatch.WithMatchingConfig(matchConfig),
		needmatch.WithAnalysisConfig(analysisConfig),
	}, nil
}

func openEngine(c *cli.Context, extra ...needmatch.Option) (*needmatch.Engine, error) {
	opts, err := engineOptions(c)
	if err != nil {
		return nil, err
	}
	engine, err := needmatch.Open(c.Context, c.String("data-dir"), append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func seedCommand(c *cli.Context) error {
	var in io.Reader = os.Stdin
	if path := c.String("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	items, err := ingestion.ReadItems(in)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "No documents found")
		return nil
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline, err := engine.NewIngestionPipeline(
		ingestion.WithBatchSize(c.Int("batch-size")),
		ingestion.WithPoolSize(c.Int("pool-size")),
	)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	start := time.Now()
	if err := pipeline.Ingest(c.Context, items...); err != nil {
		return err
	}
	if err := pipeline.Wait(); err != nil {
		return fmt.Errorf("some documents were stored without vectors: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Seeded %d documents in %v\n", len(items), time.Since(start).Round(time.Millisecond))
	return nil
}

func reindexCommand(c *cli.Context) error {
	kinds, err := parseKinds(c.StringSlice("kind"))
	if err != nil {
		return err
	}

	config := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Resume:         c.Bool("resume"),
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Data directory: %s\n", c.String("data-dir"))
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n\n", c.String("embedding-model"))

	stats, err := engine.Reindex(ctx, config, os.Stderr, kinds...)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Reindex complete. Wrote %d vectors in %v\n", stats.Total(), stats.Elapsed.Round(time.Second))
	return nil
}

func matchCommand(c *cli.Context) error {
	need := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if need == "" {
		return fmt.Errorf("need text is required")
	}
	mode, err := matching.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ranked, err := engine.Match(c.Context, need, c.Int("top-k"), mode)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(os.Stdout, ranked)
	}
	printRanked(os.Stdout, ranked)
	return nil
}

func analyzeCommand(c *cli.Context) error {
	engine, err := openEngine(c, needmatch.WithNATS(c.String("nats-url")))
	if err != nil {
		return err
	}
	defer engine.Close()

	taskID, err := engine.SubmitAnalysis(c.Context, c.String("task-id"), c.StringSlice("doc"), c.String("need"))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Task %s submitted\n", taskID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	task, err := waitForTask(ctx, engine, taskID, c.Duration("poll-interval"), os.Stderr)
	if err != nil {
		return err
	}

	switch task.Status {
	case core.TaskCompleted:
		return writeJSON(os.Stdout, task.Result)
	case core.TaskCancelled:
		fmt.Fprintf(os.Stderr, "Task %s cancelled after %d/%d documents\n", taskID, task.CompletedDocs, task.TotalDocs)
		return nil
	default:
		return fmt.Errorf("task %s failed: %s", taskID, task.Error)
	}
}

// waitForTask polls until the task is terminal. When ctx ends first the
// task is cancelled and polling continues until the job acknowledges it.
func waitForTask(ctx context.Context, engine *needmatch.Engine, taskID string, interval time.Duration, w io.Writer) (*core.AnalysisTask, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollCtx := context.WithoutCancel(ctx)
	done := ctx.Done()
	for {
		task, err := engine.PollAnalysis(pollCtx, taskID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "\r[%s] %s %d/%d", task.Status, task.CurrentStep, task.CompletedDocs, task.TotalDocs)
		if task.Status.Terminal() {
			fmt.Fprintln(w)
			return task, nil
		}

		select {
		case <-done:
			done = nil
			fmt.Fprintf(w, "\nCancelling %s\n", taskID)
			if err := engine.CancelAnalysis(pollCtx, taskID); err != nil {
				return nil, err
			}
		case <-ticker.C:
		}
	}
}

func workerCommand(c *cli.Context) error {
	natsURL := c.String("nats-url")
	if natsURL == "" {
		return fmt.Errorf("nats-url is required for the worker")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, js, err := analysis.Probe(ctx, natsURL, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	progress, err := natskv.Open(ctx, js, natskv.DefaultBucket, c.Duration("progress-ttl"))
	if err != nil {
		return err
	}

	worker, err := analysis.NewWorker(js, engine.Runner(), progress)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Worker consuming %s from %s\n", analysis.Subject, natsURL)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func parseKinds(values []string) ([]core.Kind, error) {
	var kinds []core.Kind
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			kind := core.Kind(part)
			if !kind.Valid() {
				return nil, fmt.Errorf("unknown kind %q: must be one of paper, achievement, requirement", part)
			}
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func printRanked(w io.Writer, ranked []core.RankedItem) {
	fmt.Fprintf(w, "Found %d matches\n", len(ranked))
	for i, item := range ranked {
		fmt.Fprintf(w, "%d: [%s %d] %s (%s)[%0.3f]\n", i+1, item.Tier, item.Score, item.Title, item.ID, item.VectorScore)
		if item.Rationale != "" {
			fmt.Fprintf(w, "   %s\n", item.Rationale)
		}
		if item.Suggestion != "" {
			fmt.Fprintf(w, "   suggestion: %s\n", item.Suggestion)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
