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

// Package storage provides the storage abstraction layer for needmatch.
//
// This package defines the interfaces that decouple the matching and analysis
// pipelines from concrete stores:
//
//   - VectorIndex: nearest-neighbour search over embedded documents
//   - RecordStore: corpus documents (papers, achievements, requirements)
//   - ProgressStore: shared task snapshots and cancel flags with expiry
//   - CacheStore: persisted extracted document text
//   - CheckpointStore: resumable batch process progress
//
// # Implementations
//
//   - storage/badger: embedded vector index, cache store and checkpoints
//   - storage/sqlite: relational RecordStore (sqlx + go-sqlite3)
//   - storage/natskv: NATS JetStream KeyValue ProgressStore
//
// Binary values written to badger are encoded with mus-go; see
// MarshalVector, MarshalCacheEntry and MarshalCheckpoint.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access from
// multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
