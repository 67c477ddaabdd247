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

// Package cache memoizes extracted document text keyed by (doc ID, page limit).
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
	"golang.org/x/sync/singleflight"
)

// FetchFunc produces the text for a document on a cache miss.
// Its signature matches extract.Extractor.Extract.
type FetchFunc func(ctx context.Context, url, docID string, maxPages int) (string, error)

// entry is immutable apart from its use counter.
type entry struct {
	docID     string
	pageLimit int
	text      string
	uses      atomic.Uint64
}

// ContentCache is a process-local cache of extracted text with an optional
// persistent layer. Concurrent misses on the same key share one fetch.
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	store   storage.CacheStore
	logger  *slog.Logger
}

// Option configures a ContentCache.
type Option func(*ContentCache) error

// WithStore adds a persistent layer consulted on memory misses and written on fetches.
func WithStore(store storage.CacheStore) Option {
	return func(c *ContentCache) error {
		c.store = store
		return nil
	}
}

// New creates an empty cache.
func New(opts ...Option) (*ContentCache, error) {
	c := &ContentCache{
		entries: make(map[string]*entry),
		logger:  slog.Default().With("component", "content-cache"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the text for (docID, pageLimit), calling fetch on a miss.
// Every call served without fetching increments the entry's use count.
// Fetch errors are returned and nothing is cached.
func (c *ContentCache) Get(ctx context.Context, docID, url string, pageLimit int, fetch FetchFunc) (string, error) {
	key := core.CacheKey(docID, pageLimit)

	if e := c.lookup(key); e != nil {
		e.uses.Add(1)
		c.logger.Debug("cache hit", "doc_id", docID, "page_limit", pageLimit)
		return e.text, nil
	}

	fetched := false
	v, err, shared := c.group.Do(key, func() (any, error) {
		if e := c.lookup(key); e != nil {
			return e, nil
		}
		if e := c.loadPersisted(ctx, docID, pageLimit); e != nil {
			return c.insert(key, e), nil
		}

		text, err := fetch(ctx, url, docID, pageLimit)
		if err != nil {
			return nil, err
		}
		fetched = true
		e := c.insert(key, &entry{docID: docID, pageLimit: pageLimit, text: text})
		c.persist(ctx, e)
		return e, nil
	})
	if err != nil {
		return "", err
	}

	// The caller that fetched does not count as a use; callers that waited on it do.
	e := v.(*entry)
	if !fetched {
		e.uses.Add(1)
	}
	if shared {
		c.logger.Debug("miss shared with concurrent callers", "doc_id", docID)
	}
	return e.text, nil
}

// Stats returns a snapshot of the entry for (docID, pageLimit).
func (c *ContentCache) Stats(docID string, pageLimit int) (core.CacheEntry, bool) {
	e := c.lookup(core.CacheKey(docID, pageLimit))
	if e == nil {
		return core.CacheEntry{}, false
	}
	return core.CacheEntry{
		DocID:     e.docID,
		PageLimit: e.pageLimit,
		Text:      e.text,
		UseCount:  e.uses.Load(),
	}, true
}

// Len returns the number of entries held in memory.
func (c *ContentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ContentCache) lookup(key string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// insert stores e unless an entry already exists, and returns the winner.
func (c *ContentCache) insert(key string, e *entry) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = e
	return e
}

func (c *ContentCache) loadPersisted(ctx context.Context, docID string, pageLimit int) *entry {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.GetEntry(ctx, docID, pageLimit)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("persistent cache read failed", "doc_id", docID, "err", err)
		}
		return nil
	}
	e := &entry{docID: stored.DocID, pageLimit: stored.PageLimit, text: stored.Text}
	e.uses.Store(stored.UseCount)
	return e
}

func (c *ContentCache) persist(ctx context.Context, e *entry) {
	if c.store == nil {
		return
	}
	err := c.store.PutEntry(ctx, &core.CacheEntry{
		DocID:     e.docID,
		PageLimit: e.pageLimit,
		Text:      e.text,
		UseCount:  e.uses.Load(),
	})
	if err != nil {
		c.logger.Warn("persistent cache write failed", "doc_id", e.docID, "err", err)
	}
}
