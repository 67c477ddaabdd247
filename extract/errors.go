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

package extract

import "errors"

var (
	// ErrEmptyDocument indicates the document contained no extractable text.
	ErrEmptyDocument = errors.New("document has no extractable text")

	// ErrURLRequired indicates Extract was called without a URL.
	ErrURLRequired = errors.New("document url is required")

	// ErrUnexpectedStatus indicates the document server answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected http status")

	// ErrMalformedPDF indicates the PDF could not be parsed.
	ErrMalformedPDF = errors.New("malformed pdf")
)
