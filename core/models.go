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

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier used for storage keys.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Kind identifies which corpus a document belongs to.
type Kind string

const (
	KindPaper       Kind = "paper"
	KindAchievement Kind = "achievement"
	KindRequirement Kind = "requirement"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindPaper, KindAchievement, KindRequirement}

// Valid reports whether k is a known Kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPaper, KindAchievement, KindRequirement:
		return true
	}
	return false
}

// Match is a single hit returned by a vector index.
type Match struct {
	ID         string
	Similarity float32
}

// CandidateItem is a hydrated retrieval candidate. It is not modified after hydration.
type CandidateItem struct {
	ID          string
	Kind        Kind
	Title       string
	Body        string
	URL         string            // Full-text location; empty when the item has no document
	Meta        map[string]string // Optional kind-specific fields (authors, industry, ...)
	VectorScore float32
}

// RankedItem is a candidate scored by the listwise re-ranker.
type RankedItem struct {
	CandidateItem
	Score      int
	Rationale  string
	Suggestion string
	Tier       Tier
}

// Text returns the title and body joined for embedding or prompting.
func (c *CandidateItem) Text() string {
	if c.Body == "" {
		return c.Title
	}
	if c.Title == "" {
		return c.Body
	}
	return c.Title + "\n" + c.Body
}

// CacheEntry is an extracted document text memoized by (DocID, PageLimit).
// Entries are never mutated after insertion apart from UseCount bookkeeping
// which lives outside the entry value.
type CacheEntry struct {
	DocID     string
	PageLimit int
	Text      string
	UseCount  uint64
}

// CacheKey returns the storage key for a (docID, pageLimit) pair.
func CacheKey(docID string, pageLimit int) string {
	return docID + "@" + strconv.Itoa(pageLimit)
}

// Checkpoint records how far a resumable batch process has progressed.
type Checkpoint struct {
	Name      string
	LastID    string
	Processed uint64
	UpdatedAt time.Time
}
