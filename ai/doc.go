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

// Package ai provides abstractions for the language-model services used by needmatch.
//
// The package defines two service interfaces and the plumbing shared by every
// caller of them:
//
//   - Completer: sends a prompt and returns raw response text
//   - Embedder: generates vector embeddings from text
//   - AIProvider: aggregates both for convenient initialization
//   - Gate: the process-wide admission semaphore bounding in-flight completions
//   - ParseJSON: tolerant decoding of model output into a tagged ParseResult
//
// # Implementation Packages
//
//   - ai/openai: production implementation using OpenAI-compatible APIs
//   - ai/mock: test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewProvider, openai.NewCompleter) return interface
// types. Mock constructors return concrete types so tests can inject behavior
// and read call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	gate := ai.NewGate(config.Concurrency)
//	completer := ai.Gated(provider.Completer(), gate, config.Timeout)
//	text, err := completer.Complete(ctx, ai.Request{System: "...", User: "..."})
//	res := ai.ParseJSON[[]Score](text)
package ai
