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

// DocumentTypes is the closed label set used when classifying a document
// before choosing an analysis prompt.
var DocumentTypes = []string{
	"algorithm",
	"system",
	"survey",
	"dataset",
	"application",
}

// DefaultDocumentType is used when the classifier returns an unknown label.
const DefaultDocumentType = "application"

// InvalidInputSentinel is returned by the model when a need text is meaningless.
const InvalidInputSentinel = "[INVALID_INPUT]"
