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

import (
	"fmt"
	"strings"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
)

const classifySystem = `You label technical documents. Reply with exactly one label and nothing else.`

const classifyUserTemplate = `Labels:
- algorithm: proposes a new method, model or algorithm
- system: describes an engineered system, platform or product
- survey: reviews or compares existing work
- dataset: introduces a dataset, benchmark or evaluation protocol
- application: applies known techniques to a concrete domain problem

Title: %s

Opening text:
%s

Label:`

const analyzeSystem = `You are a senior engineer doing technology due diligence. You read a document
and judge how it can serve a concrete industrial need. Be specific and skeptical.`

// focusByType steers the analysis prompt toward what matters for each document type.
var focusByType = map[string]string{
	"algorithm": `Focus on the core method: inputs and outputs, the key idea, compute and
data requirements, reported results, and what it takes to reproduce it.`,
	"system": `Focus on the architecture: components, interfaces, deployment constraints,
operational maturity, and which parts could be reused as-is.`,
	"survey": `Focus on the landscape: which families of techniques fit the need best,
their trade-offs, and which cited works are worth reading next.`,
	"dataset": `Focus on the data: what it covers, labeling quality, licensing, how close
it is to the need's data, and how it could be used for training or evaluation.`,
	"application": `Focus on the applied solution: the problem setting, the techniques used,
results in the field, and how far that setting is from the need.`,
}

const analyzeUserTemplate = `Need:
%q

Document title: %s
Document type: %s

%s

Document text:
%s

Reply with JSON only:
{"summary": "<3-4 sentences>", "key_techniques": ["..."], "applicability": "<how it serves the need>", "limitations": ["..."]}`

const planSystem = `You are a technical program lead. From document analyses you write an
implementation plan an engineering team can start on next week.`

const planUserTemplate = `Need:
%q

Analyses:
%s

Write a phased implementation plan that draws on these documents. Cite the
documents you rely on by their doc_id in "sources".

Reply with JSON only:
{"summary": "...", "phases": [{"name": "...", "goal": "...", "tasks": ["..."], "duration": "..."}], "risks": ["..."], "sources": ["..."]}`

const classifySampleChars = 3000

func classifyRequest(title, text string) ai.Request {
	return ai.Request{
		System:      classifySystem,
		User:        fmt.Sprintf(classifyUserTemplate, title, truncate(text, classifySampleChars)),
		Temperature: 0,
		MaxTokens:   10,
	}
}

func analyzeRequest(need, title, docType, text string, maxChars int) ai.Request {
	focus, ok := focusByType[docType]
	if !ok {
		focus = focusByType[ai.DefaultDocumentType]
	}
	return ai.Request{
		System:      analyzeSystem,
		User:        fmt.Sprintf(analyzeUserTemplate, need, title, docType, focus, truncate(text, maxChars)),
		Temperature: 0.3,
		MaxTokens:   1500,
		JSONMode:    true,
	}
}

func planRequest(need string, analyses []core.DocumentAnalysis) ai.Request {
	var b strings.Builder
	for _, a := range analyses {
		fmt.Fprintf(&b, "- doc_id: %s\n  title: %s\n  type: %s\n  summary: %s\n  key_techniques: %s\n  applicability: %s\n  limitations: %s\n",
			a.DocID, a.Title, a.DocType, a.Summary,
			strings.Join(a.KeyTechniques, "; "), a.Applicability, strings.Join(a.Limitations, "; "))
	}
	return ai.Request{
		System:      planSystem,
		User:        fmt.Sprintf(planUserTemplate, need, b.String()),
		Temperature: 0.4,
		MaxTokens:   3000,
		JSONMode:    true,
	}
}

// parseDocType picks the first known label in the model's reply.
// Unknown replies map to ai.DefaultDocumentType.
func parseDocType(raw string) string {
	reply := strings.ToLower(ai.StripCodeFences(raw))
	best, bestAt := ai.DefaultDocumentType, -1
	for _, label := range ai.DocumentTypes {
		if at := strings.Index(reply, label); at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = label, at
		}
	}
	return best
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
