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

package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/needmatch/core"
)

// MarshalVector serializes a float32 vector to bytes.
func MarshalVector(v []float32) []byte {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	buf := make([]byte, size)
	n := varint.Int.Marshal(len(v), buf)
	for _, f := range v {
		n += varint.Uint32.Marshal(math.Float32bits(f), buf[n:])
	}
	return buf
}

// UnmarshalVector deserializes a vector written by MarshalVector.
func UnmarshalVector(data []byte) ([]float32, error) {
	length, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	if length < 0 || length > len(data) {
		return nil, ErrTruncatedData
	}
	v := make([]float32, length)
	for i := range v {
		bits, m, err := varint.Uint32.Unmarshal(data[n:])
		if err != nil {
			return nil, wrapDecode(err)
		}
		v[i] = math.Float32frombits(bits)
		n += m
	}
	return v, nil
}

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry *core.CacheEntry) []byte {
	size := ord.String.Size(entry.DocID) +
		varint.Int.Size(entry.PageLimit) +
		ord.String.Size(entry.Text) +
		varint.Uint64.Size(entry.UseCount)
	buf := make([]byte, size)
	n := ord.String.Marshal(entry.DocID, buf)
	n += varint.Int.Marshal(entry.PageLimit, buf[n:])
	n += ord.String.Marshal(entry.Text, buf[n:])
	varint.Uint64.Marshal(entry.UseCount, buf[n:])
	return buf
}

// UnmarshalCacheEntry deserializes a CacheEntry from bytes.
func UnmarshalCacheEntry(data []byte) (*core.CacheEntry, error) {
	var (
		entry core.CacheEntry
		n, m  int
		err   error
	)
	if entry.DocID, m, err = ord.String.Unmarshal(data); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if entry.PageLimit, m, err = varint.Int.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if entry.Text, m, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if entry.UseCount, _, err = varint.Uint64.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	return &entry, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
// UpdatedAt is stored with microsecond precision.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	micros := checkpoint.UpdatedAt.UnixMicro()
	size := ord.String.Size(checkpoint.Name) +
		ord.String.Size(checkpoint.LastID) +
		varint.Uint64.Size(checkpoint.Processed) +
		varint.Int64.Size(micros)
	buf := make([]byte, size)
	n := ord.String.Marshal(checkpoint.Name, buf)
	n += ord.String.Marshal(checkpoint.LastID, buf[n:])
	n += varint.Uint64.Marshal(checkpoint.Processed, buf[n:])
	varint.Int64.Marshal(micros, buf[n:])
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	var (
		cp     core.Checkpoint
		micros int64
		n, m   int
		err    error
	)
	if cp.Name, m, err = ord.String.Unmarshal(data); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if cp.LastID, m, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if cp.Processed, m, err = varint.Uint64.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	n += m
	if micros, _, err = varint.Int64.Unmarshal(data[n:]); err != nil {
		return nil, wrapDecode(err)
	}
	cp.UpdatedAt = time.UnixMicro(micros).UTC()
	return &cp, nil
}

func wrapDecode(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
}
