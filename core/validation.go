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
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MinNeedLength is the minimum number of non-space runes in a need text.
	MinNeedLength = 4

	// repeatShare is the share of non-space runes one character may occupy
	// before the text counts as repetitive.
	repeatShare = 0.6

	// wordlikeShare is the minimum share of tokens that must look like words.
	wordlikeShare = 0.5

	// randomEntropy is the per-letter Shannon entropy (bits) above which a text
	// without word structure is treated as a random string.
	randomEntropy = 3.0

	maxConsonantRun = 4
	maxWordLength   = 24
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// commonWords are short function words that count as word structure on their own.
var commonWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "for": {}, "in": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "with": {}, "by": {}, "my": {}, "we": {}, "i": {}, "is": {},
}

// ValidateNeedText rejects need text that is not worth spending model or vector
// quota on. Validation rules:
//   - Text must not be empty or whitespace
//   - Text must contain at least MinNeedLength non-space characters
//   - No single character may dominate the text
//   - Latin text must show word structure (vowels, bounded consonant runs)
//     unless its letter entropy is low enough to rule out random typing
//
// Text containing CJK ideographs is only subject to the first three rules.
func ValidateNeedText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyContent)
	}

	counts := make(map[rune]int)
	total := 0
	han := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if unicode.Is(unicode.Han, r) {
			han++
		}
		counts[unicode.ToLower(r)]++
		total++
	}

	if total < MinNeedLength {
		return fmt.Errorf("%w: %w (%d < %d)", ErrInvalidInput, ErrTooShort, total, MinNeedLength)
	}

	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c)
	}
	if float64(maxCount)/float64(total) >= repeatShare || (len(counts) <= 2 && total >= 6) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrRepetitive)
	}

	if han >= 2 {
		return nil
	}

	if looksRandom(text) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrGibberish)
	}
	return nil
}

// looksRandom applies the word-structure and entropy heuristics to latin text.
func looksRandom(text string) bool {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		// Only punctuation and symbols
		return true
	}

	wordlike := 0
	vowelTokens := 0
	candidates := 0
	for _, tok := range tokens {
		if isAcronym(tok) {
			wordlike++
			continue
		}
		candidates++
		if hasVowel(tok) {
			vowelTokens++
		}
		if isWordlike(tok) {
			wordlike++
		}
	}

	letters := letterCount(text)
	if candidates > 0 && vowelTokens == 0 && letters >= 6 {
		return true
	}

	share := float64(wordlike) / float64(len(tokens))
	if share >= wordlikeShare {
		return false
	}
	return letterEntropy(text) > randomEntropy
}

func isAcronym(tok string) bool {
	n := 0
	for _, r := range tok {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n >= 2 && n <= 6
}

func isWordlike(tok string) bool {
	lower := strings.ToLower(tok)
	if _, ok := commonWords[lower]; ok {
		return true
	}
	runes := []rune(lower)
	if len(runes) > maxWordLength {
		return false
	}

	digits := 0
	run := 0
	for _, r := range runes {
		switch {
		case unicode.IsDigit(r):
			digits++
			run = 0
		case isVowel(r):
			run = 0
		default:
			run++
			if run > maxConsonantRun {
				return false
			}
		}
	}
	// Mixed letter/digit noise such as "x7k2j9"
	if digits > 0 && digits < len(runes) && digits*2 >= len(runes) {
		return false
	}
	return digits == len(runes) || hasVowel(lower)
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

func hasVowel(s string) bool {
	return strings.ContainsFunc(s, isVowel)
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// letterEntropy returns the Shannon entropy in bits of the letter distribution.
func letterEntropy(s string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			counts[r]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// ValidateTaskID checks that a caller-supplied task ID can be used as a storage key.
func ValidateTaskID(id string) error {
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

// ValidateDocIDs checks an analysis document selection: 1..maxDocs unique, non-empty IDs.
func ValidateDocIDs(ids []string, maxDocs int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no documents", ErrInvalidDocuments)
	}
	if len(ids) > maxDocs {
		return fmt.Errorf("%w: %d documents exceeds limit of %d", ErrInvalidDocuments, len(ids), maxDocs)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty document id", ErrInvalidDocuments)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate document %q", ErrInvalidDocuments, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
