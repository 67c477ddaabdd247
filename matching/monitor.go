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

import "github.com/poiesic/needmatch/core"

// MatchMonitor provides hooks to observe the matching process.
// Implement this interface to track intermediate steps and results during a match.
type MatchMonitor interface {
	Start(need string, mode Mode)
	AfterExpansion(query string)
	AfterRetrieval(matches []core.Match)
	AfterHydration(items []*core.CandidateItem)
	AfterRerank(stats RerankStats)
	Finish(results []core.RankedItem)
}

// noopMonitor is a no-op implementation of MatchMonitor
type noopMonitor struct{}

var _ MatchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ Mode)                 {}
func (n *noopMonitor) AfterExpansion(_ string)                {}
func (n *noopMonitor) AfterRetrieval(_ []core.Match)          {}
func (n *noopMonitor) AfterHydration(_ []*core.CandidateItem) {}
func (n *noopMonitor) AfterRerank(_ RerankStats)              {}
func (n *noopMonitor) Finish(_ []core.RankedItem)             {}
