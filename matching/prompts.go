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
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
)

const expandNeedSystem = `You are a research retrieval assistant. The user describes a business need
in industry language. Translate it into the vocabulary of academic research.`

const expandAchievementSystem = `You are a technology transfer assistant. The user describes a research
achievement. Translate it into the vocabulary industry uses when it publishes
technical requirements.`

const expandUserTemplate = `Text: %q

Do two things:
1. Extract or infer 3-5 core technical keywords in English.
2. Write an abstract of about 50 words, in English, describing the document
   that would be a perfect match for this text.

If the text is meaningless (random characters, no recognizable request),
reply with exactly %s and nothing else.

Reply with JSON only:
{"keywords": ["keyword1", "keyword2", "keyword3"], "abstract": "..."}`

const rerankSystem = `You are a demanding technology transfer officer. You judge whether documents
can be turned into a working solution for a concrete need. Drop academic
politeness and review with due-diligence rigor.`

const rerankUserTemplate = `### Task
Need:
%q

Candidates:
%s

### Scoring rubric (0-100)
Score the candidates against each other. Use the full range and avoid giving
several candidates the same score.

- [90-100] Direct fit: the method solves this exact pain point and is mature
  (code available, validated on industrial data).
- [75-89] Technically related: the core technique applies but the scenario
  differs and transfer takes work.
- [60-74] Potentially usable: same broad field, the task does not match
  directly or the work is mostly theoretical.
- [40-59] Reference only: loosely related background.
- [0-39] Noise: keywords overlap but the problem is different.

### Output
Think critically first, then reply with JSON only:
{"results": [{"id": "<candidate id>", "score": <int 0-100>, "reason": "<one sharp sentence naming the biggest strength or flaw>"%s}]}
Return one entry for every candidate id.`

const suggestionField = `, "suggestion": "<one sentence on how to apply it to the need>"`

// maxCandidateBody caps the body text of one candidate in a re-rank prompt.
const maxCandidateBody = 1200

type promptCandidate struct {
	ID    string `json:"id"`
	Kind  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"abstract"`
}

func expansionRequest(need string, mode Mode, cfg Config) ai.Request {
	system := expandNeedSystem
	if mode == ModeRequirements {
		system = expandAchievementSystem
	}
	return ai.Request{
		System:      system,
		User:        fmt.Sprintf(expandUserTemplate, need, ai.InvalidInputSentinel),
		Temperature: cfg.ExpandTemperature,
		MaxTokens:   cfg.ExpandMaxTokens,
		JSONMode:    true,
	}
}

func rerankRequest(need string, batch []*core.CandidateItem, mode Mode, cfg Config) ai.Request {
	items := make([]promptCandidate, len(batch))
	for i, c := range batch {
		items[i] = promptCandidate{
			ID:    c.ID,
			Kind:  string(c.Kind),
			Title: c.Title,
			Body:  truncateRunes(candidateBody(c), maxCandidateBody),
		}
	}
	// Marshalling plain strings cannot fail.
	listing, _ := json.MarshalIndent(items, "", "  ")

	extra := ""
	if mode == ModeRequirements {
		extra = suggestionField
	}
	return ai.Request{
		System:      rerankSystem,
		User:        fmt.Sprintf(rerankUserTemplate, need, listing, extra),
		Temperature: cfg.RerankTemperature,
		MaxTokens:   cfg.RerankMaxTokens,
		JSONMode:    true,
	}
}

// candidateBody folds kind-specific metadata into the text shown to the model.
func candidateBody(c *core.CandidateItem) string {
	body := c.Body
	if industry := c.Meta["industry"]; industry != "" {
		body += "\nIndustry: " + industry
	}
	return strings.TrimSpace(body)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
