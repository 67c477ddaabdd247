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

package core

// Tier is a discrete quality bucket derived from a 0-100 score.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Score bounds
const (
	MinScore = 0
	MaxScore = 100
)

// TierFor maps a score to its tier: >=90 S, >=75 A, >=60 B, >=40 C, else D.
func TierFor(score int) Tier {
	switch {
	case score >= 90:
		return TierS
	case score >= 75:
		return TierA
	case score >= 60:
		return TierB
	case score >= 40:
		return TierC
	default:
		return TierD
	}
}

// ClampScore forces a score into [MinScore, MaxScore].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Describe returns a short human-readable label for the tier.
func (t Tier) Describe() string {
	switch t {
	case TierS:
		return "S - direct fit"
	case TierA:
		return "A - technically related"
	case TierB:
		return "B - potentially usable"
	case TierC:
		return "C - reference"
	default:
		return "D - weak relation"
	}
}
