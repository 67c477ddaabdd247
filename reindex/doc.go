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

// Package reindex rebuilds the vector indexes from the record store.
//
// Records are read per kind in ID order, embedded in batches with retry,
// normalized, and upserted into the supply or demand index. Progress is
// written to an io.Writer and, when a CheckpointStore is configured, saved
// after every batch so an interrupted run can resume where it stopped.
package reindex
