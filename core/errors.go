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

import "errors"

// Pipeline error taxonomy
var (
	// ErrInvalidInput indicates need text was rejected before any external call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable indicates the vector index or record store failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrModelResponseMalformed indicates the language model returned unparseable output.
	ErrModelResponseMalformed = errors.New("model response malformed")

	// ErrTaskNotFound indicates a poll or cancel on an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrPartialFailure indicates some documents of an analysis task failed.
	ErrPartialFailure = errors.New("partial failure")

	// ErrTotalFailure indicates every document of an analysis task failed.
	ErrTotalFailure = errors.New("total failure")
)

// Domain validation errors
var (
	// ErrEmptyContent indicates the need text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrTooShort indicates the need text is below the minimum length.
	ErrTooShort = errors.New("content too short")

	// ErrRepetitive indicates the need text is dominated by one character.
	ErrRepetitive = errors.New("content dominated by a repeated character")

	// ErrGibberish indicates the need text looks like a random string.
	ErrGibberish = errors.New("content has no recognizable word structure")

	// ErrInvalidTaskID indicates a caller-supplied task ID has an unusable format.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrInvalidDocuments indicates an analysis request names no documents, too many, or duplicates.
	ErrInvalidDocuments = errors.New("invalid document selection")

	// ErrInvalidKind indicates an unknown document kind.
	ErrInvalidKind = errors.New("invalid kind")
)
