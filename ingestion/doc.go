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

// Package ingestion seeds the corpus: documents are written to the record
// store synchronously and embedded into the vector indexes asynchronously on
// a bounded worker pool.
//
// Basic usage:
//
//	items, err := ingestion.ReadItems(file)
//	pipeline, err := ingestion.NewPipeline(records, supply, embedder,
//	    ingestion.WithDemandIndex(demand))
//	defer pipeline.Release()
//	err = pipeline.Ingest(ctx, items...)
//	err = pipeline.Wait()
package ingestion
