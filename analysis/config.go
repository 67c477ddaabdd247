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

import "time"

// Config holds the tunables of deep analysis.
type Config struct {
	// MaxDocs is the largest number of documents one task may select.
	MaxDocs int

	// DocConcurrency bounds how many documents of one task are processed at once.
	DocConcurrency int

	// MaxPages is the default page limit for PDF extraction.
	MaxPages int

	LLMTimeout   time.Duration
	FetchTimeout time.Duration
	StoreTimeout time.Duration

	// ProgressTTL is how long task snapshots are kept after their last update.
	ProgressTTL time.Duration

	// PlanAttempts bounds plan synthesis retries on transient or parse failures.
	PlanAttempts  int
	PlanBaseDelay time.Duration

	// MaxAnalysisChars caps the document text sent to the analysis prompt.
	MaxAnalysisChars int

	// PoolSize bounds concurrently running in-process tasks.
	PoolSize int

	// JanitorInterval is how often the registry evicts expired tasks.
	JanitorInterval time.Duration
}

// DefaultConfig returns the default analysis settings.
func DefaultConfig() Config {
	return Config{
		MaxDocs:          5,
		DocConcurrency:   5,
		MaxPages:         20,
		LLMTimeout:       120 * time.Second,
		FetchTimeout:     60 * time.Second,
		StoreTimeout:     10 * time.Second,
		ProgressTTL:      time.Hour,
		PlanAttempts:     3,
		PlanBaseDelay:    time.Second,
		MaxAnalysisChars: 24000,
		PoolSize:         64,
		JanitorInterval:  time.Minute,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxDocs < 1 {
		c.MaxDocs = d.MaxDocs
	}
	if c.DocConcurrency < 1 {
		c.DocConcurrency = c.MaxDocs
	}
	if c.MaxPages < 1 {
		c.MaxPages = d.MaxPages
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ProgressTTL <= 0 {
		c.ProgressTTL = d.ProgressTTL
	}
	if c.PlanAttempts < 1 {
		c.PlanAttempts = d.PlanAttempts
	}
	if c.PlanBaseDelay < 0 {
		c.PlanBaseDelay = 0
	}
	if c.MaxAnalysisChars < 1 {
		c.MaxAnalysisChars = d.MaxAnalysisChars
	}
	if c.PoolSize < 1 {
		c.PoolSize = d.PoolSize
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = d.JanitorInterval
	}
	return c
}
