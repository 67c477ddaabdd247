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
	"fmt"
	"time"
)

// Config holds the tunables of the matching pipeline.
type Config struct {
	// CoarseTopK is the number of candidates requested from the vector index.
	CoarseTopK int

	// RerankPrefix is how many hydrated candidates are sent to the re-ranker.
	RerankPrefix int

	// RerankBatchSize is the number of candidates scored in one model call.
	RerankBatchSize int

	// StoreTimeout bounds each vector index and record store call.
	StoreTimeout time.Duration

	ExpandTemperature float64
	ExpandMaxTokens   int
	RerankTemperature float64
	RerankMaxTokens   int

	// DispersionThreshold is the share of distinct scores below which a
	// re-rank is logged as degenerate.
	DispersionThreshold float64

	// DefaultScoreMin and DefaultScoreMax bound the score assigned to
	// candidates the model failed to score.
	DefaultScoreMin int
	DefaultScoreMax int
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		CoarseTopK:          50,
		RerankPrefix:        10,
		RerankBatchSize:     5,
		StoreTimeout:        10 * time.Second,
		ExpandTemperature:   0.3,
		ExpandMaxTokens:     300,
		RerankTemperature:   0.2,
		RerankMaxTokens:     2000,
		DispersionThreshold: 0.3,
		DefaultScoreMin:     45,
		DefaultScoreMax:     55,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	switch {
	case c.CoarseTopK < 1:
		return fmt.Errorf("%w: coarse top-k must be positive, got %d", ErrInvalidConfig, c.CoarseTopK)
	case c.RerankPrefix < 1:
		return fmt.Errorf("%w: rerank prefix must be positive, got %d", ErrInvalidConfig, c.RerankPrefix)
	case c.RerankBatchSize < 1:
		return fmt.Errorf("%w: rerank batch size must be positive, got %d", ErrInvalidConfig, c.RerankBatchSize)
	case c.StoreTimeout <= 0:
		return fmt.Errorf("%w: store timeout must be positive", ErrInvalidConfig)
	case c.DefaultScoreMin < 0 || c.DefaultScoreMax > 100 || c.DefaultScoreMin > c.DefaultScoreMax:
		return fmt.Errorf("%w: default score range [%d, %d]", ErrInvalidConfig, c.DefaultScoreMin, c.DefaultScoreMax)
	}
	return nil
}
