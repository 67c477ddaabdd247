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

// Package natskv implements storage.ProgressStore on a NATS JetStream
// KeyValue bucket, shared by every process attached to the same NATS server.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/poiesic/needmatch/storage"
)

// DefaultBucket is the KeyValue bucket used for analysis progress.
const DefaultBucket = "ANALYSIS_PROGRESS"

// Store implements storage.ProgressStore on a JetStream KeyValue bucket.
type Store struct {
	kv     jetstream.KeyValue
	ttl    time.Duration
	logger *slog.Logger
}

var _ storage.ProgressStore = (*Store)(nil)

// Open creates or updates bucket with the given entry TTL and returns a store on it.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "needmatch analysis progress and cancel flags",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return New(kv, ttl), nil
}

// New wraps an existing KeyValue bucket. ttl must match the bucket's TTL.
func New(kv jetstream.KeyValue, ttl time.Duration) *Store {
	return &Store{
		kv:     kv,
		ttl:    ttl,
		logger: slog.Default().With("component", "natskv", "bucket", kv.Bucket()),
	}
}

// Set stores data under key. Expiry is a bucket-wide setting, so a ttl that
// differs from the bucket's is logged and otherwise ignored.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl != s.ttl {
		s.logger.Debug("per-key ttl not supported, using bucket ttl", "key", key, "ttl", ttl, "bucket_ttl", s.ttl)
	}
	if _, err := s.kv.Put(ctx, Key(key), data); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Get returns the latest value under key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, Key(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Key maps a store key onto the KeyValue key alphabet. Colons become dots;
// any other character outside [-/_=.a-zA-Z0-9] becomes an underscore.
func Key(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
