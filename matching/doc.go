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

// Package matching turns a free-text need into a ranked list of documents.
//
// A match runs in stages: the input validity gate, query expansion through the
// language model, coarse retrieval from a vector index, hydration of candidate
// records in one batched lookup, and a listwise re-rank where the model scores
// small batches of candidates against each other.
//
// Store failures are fatal and wrap core.ErrUpstreamUnavailable. Language model
// failures never fail a match: expansion falls back to the raw need and a
// failed re-rank batch receives mid-range default scores.
package matching
