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

import "strings"

// Vector ID prefixes. Papers carry their bare arXiv identifier; other kinds carry
// a prefix so that one ranked list can mix kinds without collisions.
const (
	AchievementPrefix   = "achievement_"
	PublishedNeedPrefix = "published_need_"
	RequirementPrefix   = "requirement_"
)

// ItemRef identifies a stored document by kind and vector ID.
type ItemRef struct {
	Kind Kind
	ID   string
}

// ParseItemID classifies a vector ID by its prefix.
func ParseItemID(id string) ItemRef {
	switch {
	case strings.HasPrefix(id, AchievementPrefix):
		return ItemRef{Kind: KindAchievement, ID: id}
	case strings.HasPrefix(id, PublishedNeedPrefix), strings.HasPrefix(id, RequirementPrefix):
		return ItemRef{Kind: KindRequirement, ID: id}
	default:
		return ItemRef{Kind: KindPaper, ID: id}
	}
}

// ParseItemIDs classifies a batch of vector IDs, preserving order.
func ParseItemIDs(ids []string) []ItemRef {
	refs := make([]ItemRef, len(ids))
	for i, id := range ids {
		refs[i] = ParseItemID(id)
	}
	return refs
}

// GroupByKind splits refs into per-kind ID lists, preserving order within each kind.
func GroupByKind(refs []ItemRef) map[Kind][]string {
	groups := make(map[Kind][]string)
	for _, ref := range refs {
		groups[ref.Kind] = append(groups[ref.Kind], ref.ID)
	}
	return groups
}
