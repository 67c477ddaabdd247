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

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/needmatch/core"
)

type registryEntry struct {
	task    *core.AnalysisTask
	cancel  context.CancelFunc
	expires time.Time
}

// Registry is the in-process task table. It owns its locking and evicts
// tasks that have not been updated for ttl.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ ProgressSink = (*Registry)(nil)

// NewRegistry creates an empty registry. Call Start to run the eviction
// janitor and Close to stop it.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultConfig().ProgressTTL
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "registry"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the eviction janitor every interval until Close.
func (r *Registry) Start(interval time.Duration) {
	r.startOnce.Do(func() {
		go func() {
			defer close(r.done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-r.stop:
					return
				case <-ticker.C:
					if n := r.Evict(); n > 0 {
						r.logger.Debug("evicted expired tasks", "count", n)
					}
				}
			}
		}()
	})
}

// Close stops the janitor and cancels every task still running.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		started := true
		r.startOnce.Do(func() { started = false })
		if started {
			<-r.done
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, e := range r.entries {
			if e.cancel != nil {
				e.cancel()
			}
		}
	})
}

// Add registers a new task with the function that cancels its job.
// It returns false, leaving the registry unchanged, if the ID is taken.
func (r *Registry) Add(task *core.AnalysisTask, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[task.TaskID]; exists {
		return false
	}
	r.entries[task.TaskID] = &registryEntry{
		task:    task.Clone(),
		cancel:  cancel,
		expires: r.now().Add(r.ttl),
	}
	return true
}

// Publish stores a snapshot of a registered task and extends its lifetime.
// Snapshots of unknown tasks are dropped.
func (r *Registry) Publish(_ context.Context, task *core.AnalysisTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[task.TaskID]
	if !ok {
		return nil
	}
	e.task = task.Clone()
	e.expires = r.now().Add(r.ttl)
	if task.Status.Terminal() && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	return nil
}

// Get returns a copy of the task's latest snapshot.
func (r *Registry) Get(taskID string) (*core.AnalysisTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[taskID]
	if !ok {
		return nil, false
	}
	return e.task.Clone(), true
}

// Cancel signals the task's job to stop. It reports whether the task is known.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Remove forgets a task.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, taskID)
}

// Len returns the number of tasks held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Evict removes expired tasks and returns how many were removed. Running
// tasks that expire are cancelled first.
func (r *Registry) Evict() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if now.Before(e.expires) {
			continue
		}
		if e.cancel != nil {
			e.cancel()
		}
		delete(r.entries, id)
		n++
	}
	return n
}
