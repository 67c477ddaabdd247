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

package badger

import "strconv"

const (
	vectorPrefix     = "vec"
	cachePrefix      = "cache"
	checkpointPrefix = "chkpt"
	progressPrefix   = "prog"
)

// makeVectorPrefix returns the key prefix shared by every vector in a collection.
// Format: vec:collection:
func makeVectorPrefix(collection string) []byte {
	return []byte(vectorPrefix + ":" + collection + ":")
}

// makeVectorKey generates a key for a vector by collection and document ID.
// Format: vec:collection:id
func makeVectorKey(collection, id string) []byte {
	prefix := makeVectorPrefix(collection)
	buf := make([]byte, 0, len(prefix)+len(id))
	buf = append(buf, prefix...)
	return append(buf, id...)
}

// makeCacheKey generates a key for an extracted document text.
// Format: cache:pageLimit:docID
func makeCacheKey(docID string, pageLimit int) []byte {
	return []byte(cachePrefix + ":" + strconv.Itoa(pageLimit) + ":" + docID)
}

// makeCheckpointKey generates a key for processor checkpoints.
func makeCheckpointKey(name string) []byte {
	return []byte(checkpointPrefix + ":" + name)
}

// makeProgressKey generates a key for a shared progress value.
func makeProgressKey(key string) []byte {
	return []byte(progressPrefix + ":" + key)
}
