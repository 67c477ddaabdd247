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

// Package analysis runs deep-analysis tasks: for each selected document it
// fetches the full text, classifies the document, runs a type-specific
// analysis and finally synthesizes an implementation plan for the need.
//
// Tasks run on a TaskBackend. InProcessBackend runs jobs on a goroutine pool
// and keeps progress in a Registry. DistributedBackend publishes jobs to a
// JetStream work queue consumed by Worker processes, with progress and cancel
// flags in a shared ProgressStore. NewOrchestrator probes NATS once at startup
// and picks the backend.
//
// Progress is monotonic: every per-document step is published before the next
// step starts, and a task always ends completed, error or cancelled.
// Cancellation is cooperative. A cancelled job stops at the next checkpoint,
// lets calls already in flight finish and keeps their results.
package analysis
