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

import "errors"

var (
	// ErrRecordStoreRequired is returned when a Runner is built without a record store.
	ErrRecordStoreRequired = errors.New("record store is required")

	// ErrCompleterRequired is returned when a Runner is built without a completer.
	ErrCompleterRequired = errors.New("completer is required")

	// ErrFetcherRequired is returned when a Runner is built without a fetcher.
	ErrFetcherRequired = errors.New("fetcher is required")

	// ErrRunnerRequired is returned when a backend or worker is built without a runner.
	ErrRunnerRequired = errors.New("runner is required")

	// ErrProgressStoreRequired is returned when a distributed component lacks a progress store.
	ErrProgressStoreRequired = errors.New("progress store is required")

	// ErrJetStreamRequired is returned when a distributed component lacks a JetStream handle.
	ErrJetStreamRequired = errors.New("jetstream is required")

	// ErrBackendRequired is returned when an Orchestrator is built without a backend.
	ErrBackendRequired = errors.New("task backend is required")

	// ErrBackendClosed is returned when submitting to a closed backend.
	ErrBackendClosed = errors.New("task backend closed")

	// ErrDocumentNotFound marks a selected document the record store does not know.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNATSUnreachable is returned by Probe when no usable JetStream server answers.
	ErrNATSUnreachable = errors.New("nats unreachable")
)
