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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "needmatch",
		Usage: "Match business needs to research and run deep document analysis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding the vector index and record database",
				Value:   "./needmatch_data",
				EnvVars: []string{"NEEDMATCH_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "llm-host",
				Usage:   "OpenAI-compatible completion service URL",
				Value:   "http://localhost:11434/v1",
				EnvVars: []string{"NEEDMATCH_LLM_HOST"},
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Completion model name",
				Value:   "qwen2.5:7b",
				EnvVars: []string{"NEEDMATCH_LLM_MODEL"},
			},
			&cli.StringFlag{
				Name:    "llm-token",
				Usage:   "API token for the completion and embedding services",
				Value:   "none",
				EnvVars: []string{"NEEDMATCH_LLM_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "embedding-host",
				Usage:   "Embedding service URL (defaults to llm-host)",
				EnvVars: []string{"NEEDMATCH_EMBEDDING_HOST"},
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Usage:   "Embedding model name",
				Value:   "embeddinggemma",
				EnvVars: []string{"NEEDMATCH_EMBEDDING_MODEL"},
			},
			&cli.IntFlag{
				Name:    "llm-concurrency",
				Usage:   "Maximum in-flight completion calls across the process",
				Value:   5,
				EnvVars: []string{"NEEDMATCH_LLM_CONCURRENCY"},
			},
			&cli.DurationFlag{
				Name:    "llm-timeout",
				Usage:   "Timeout for one completion call",
				Value:   120 * time.Second,
				EnvVars: []string{"NEEDMATCH_LLM_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "fetch-timeout",
				Usage:   "Timeout for downloading one document",
				Value:   60 * time.Second,
				EnvVars: []string{"NEEDMATCH_FETCH_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "store-timeout",
				Usage:   "Timeout for one vector index or record store call",
				Value:   10 * time.Second,
				EnvVars: []string{"NEEDMATCH_STORE_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "rerank-batch-size",
				Usage:   "Candidates scored per re-rank call",
				Value:   5,
				EnvVars: []string{"NEEDMATCH_RERANK_BATCH_SIZE"},
			},
			&cli.IntFlag{
				Name:    "rerank-prefix",
				Usage:   "Number of top vector hits sent to the re-ranker",
				Value:   10,
				EnvVars: []string{"NEEDMATCH_RERANK_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server for distributed analysis (empty runs in-process)",
				EnvVars: []string{"NEEDMATCH_NATS_URL"},
			},
			&cli.DurationFlag{
				Name:    "progress-ttl",
				Usage:   "How long analysis progress is kept after the last update",
				Value:   time.Hour,
				EnvVars: []string{"NEEDMATCH_PROGRESS_TTL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "Load corpus documents from a JSON or JSON Lines file and embed them",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Seed file path, or - for stdin",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Documents per embedding call",
						Value: 32,
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Concurrent embedding workers",
						Value: 4,
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed stored documents into the vector index",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "kind",
						Usage: "Document kinds to reindex (paper, achievement, requirement); all when omitted",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Continue from the last checkpoint",
					},
				},
			},
			{
				Name:      "match",
				Usage:     "Rank documents against a need",
				ArgsUsage: "<need text>",
				Action:    matchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					&cli.StringFlag{
						Name:    "mode",
						Aliases: []string{"m"},
						Usage:   "Matching mode (all, papers, requirements)",
						Value:   "all",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
				},
			},
			{
				Name:   "analyze",
				Usage:  "Run deep analysis over selected documents and print the plan",
				Action: analyzeCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "doc",
						Usage:    "Document ID to analyze (repeat up to 5 times)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "need",
						Usage:    "Need text the plan must address",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "task-id",
						Usage: "Task ID (generated when empty)",
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "How often to poll task progress",
						Value: time.Second,
					},
				},
			},
			{
				Name:   "worker",
				Usage:  "Consume analysis jobs from NATS JetStream",
				Action: workerCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
