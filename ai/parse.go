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

package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/needmatch/core"
)

// ParseStatus reports how a model response was turned into a value.
type ParseStatus int

const (
	// ParseOK means the response was valid JSON as returned.
	ParseOK ParseStatus = iota
	// ParseRepaired means the response only decoded after repair.
	ParseRepaired
	// ParseFailed means no repair produced a decodable value.
	ParseFailed
)

func (s ParseStatus) String() string {
	switch s {
	case ParseOK:
		return "ok"
	case ParseRepaired:
		return "repaired"
	default:
		return "failed"
	}
}

// ParseResult is the tagged outcome of decoding a model response.
type ParseResult[T any] struct {
	Status ParseStatus
	Value  T
	Raw    string
	Err    error
}

// OK reports whether Value holds a decoded value.
func (r ParseResult[T]) OK() bool {
	return r.Status != ParseFailed
}

// ParseJSON decodes a model response into T. When the response is not valid
// JSON as-is it tries, in order: stripping markdown code fences, quoting bare
// object keys, and each balanced JSON array or object embedded in the text.
// A failed result wraps core.ErrModelResponseMalformed.
func ParseJSON[T any](raw string) ParseResult[T] {
	res := ParseResult[T]{Raw: raw}

	text := strings.TrimSpace(raw)
	var direct T
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		res.Value = direct
		res.Status = ParseOK
		return res
	}

	stripped := StripCodeFences(text)
	candidates := []string{stripped, repairJSON(stripped)}
	for _, open := range []byte{'[', '{'} {
		for _, sub := range balancedValues(stripped, open) {
			candidates = append(candidates, sub, repairJSON(sub))
		}
	}

	var lastErr error
	for _, c := range candidates {
		var v T
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			lastErr = err
			continue
		}
		res.Value = v
		res.Status = ParseRepaired
		return res
	}

	res.Status = ParseFailed
	if lastErr == nil {
		lastErr = fmt.Errorf("empty response")
	}
	res.Err = fmt.Errorf("%w: %w", core.ErrModelResponseMalformed, lastErr)
	return res
}

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		lang := strings.TrimSpace(s[:nl])
		if lang == "" || isIdent(lang) {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isIdent(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// balancedValues returns every balanced bracket run starting with open,
// in order of appearance. Brackets inside string literals are ignored.
func balancedValues(s string, open byte) []string {
	var closer byte = ']'
	if open == '{' {
		closer = '}'
	}

	var out []string
	for start := 0; start < len(s); start++ {
		if s[start] != open {
			continue
		}
		depth := 0
		inString := false
		escaped := false
	scan:
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '[', '{':
				depth++
			case ']', '}':
				depth--
				if depth == 0 {
					if ch == closer {
						out = append(out, s[start:i+1])
					}
					break scan
				}
			}
		}
	}
	return out
}

// repairJSON fixes object keys that lost their opening quote,
// e.g. `, score": 5` becomes `, "score": 5`, and bare keys like `{id: 1}`.
// String literals are copied untouched.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	inString := false
	escaped := false
	i := 0
	for i < len(in) {
		ch := in[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			out = append(out, ch)
			i++
			continue
		}
		if ch == '"' {
			inString = true
			out = append(out, ch)
			i++
			continue
		}
		if ch != '{' && ch != ',' {
			out = append(out, ch)
			i++
			continue
		}

		out = append(out, ch)
		i++
		for i < len(in) && unicode.IsSpace(in[i]) {
			out = append(out, in[i])
			i++
		}
		if i >= len(in) || !isKeyStart(in[i]) {
			continue
		}

		keyStart := i
		for i < len(in) && (isKeyStart(in[i]) || unicode.IsDigit(in[i])) {
			i++
		}
		key := in[keyStart:i]

		switch {
		case i+1 < len(in) && in[i] == '"' && in[i+1] == ':':
			// missing opening quote only
			out = append(out, '"')
			out = append(out, key...)
			out = append(out, '"')
			i++
		case i < len(in) && in[i] == ':':
			out = append(out, '"')
			out = append(out, key...)
			out = append(out, '"')
		default:
			out = append(out, key...)
		}
	}
	return string(out)
}

func isKeyStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}
