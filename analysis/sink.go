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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

// ProgressSink receives task snapshots as a job makes progress.
type ProgressSink interface {
	Publish(ctx context.Context, task *core.AnalysisTask) error
}

// cancelSource is implemented by sinks whose store also carries cancel
// flags raised by other processes.
type cancelSource interface {
	CancelRequested(ctx context.Context, taskID string) (bool, error)
}

// ProgressKey is the shared store key holding a task's latest snapshot.
func ProgressKey(taskID string) string {
	return "progress:" + taskID
}

// CancelKey is the shared store key flagging a task for cancellation.
func CancelKey(taskID string) string {
	return "cancel:" + taskID
}

// StoreSink writes snapshots as JSON to a ProgressStore.
type StoreSink struct {
	store storage.ProgressStore
	ttl   time.Duration
}

// NewStoreSink creates a sink writing to store with the given entry TTL.
func NewStoreSink(store storage.ProgressStore, ttl time.Duration) *StoreSink {
	return &StoreSink{store: store, ttl: ttl}
}

func (s *StoreSink) Publish(ctx context.Context, task *core.AnalysisTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	return s.store.Set(ctx, ProgressKey(task.TaskID), data, s.ttl)
}

// CancelRequested reports whether the task's cancel flag is set in the store.
func (s *StoreSink) CancelRequested(ctx context.Context, taskID string) (bool, error) {
	return cancelRequested(ctx, s.store, taskID)
}

// LoadSnapshot reads a task snapshot from store. A missing key yields
// core.ErrTaskNotFound.
func LoadSnapshot(ctx context.Context, store storage.ProgressStore, taskID string) (*core.AnalysisTask, error) {
	data, err := store.Get(ctx, ProgressKey(taskID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	var task core.AnalysisTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// tracker owns the mutable task of one job. Every change is published
// while the lock is held so snapshots leave in the order they were made.
type tracker struct {
	mu      sync.Mutex
	task    *core.AnalysisTask
	sink    ProgressSink
	timeout time.Duration
	logger  *slog.Logger
}

func newTracker(task *core.AnalysisTask, sink ProgressSink, timeout time.Duration, logger *slog.Logger) *tracker {
	return &tracker{task: task, sink: sink, timeout: timeout, logger: logger}
}

// update applies fn and publishes the result. Publishing uses a context
// that survives cancellation of the job.
func (t *tracker) update(ctx context.Context, fn func(task *core.AnalysisTask)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(t.task)
	t.task.UpdatedAt = time.Now().UTC()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	if err := t.sink.Publish(pctx, t.task.Clone()); err != nil {
		t.logger.Warn("failed to publish progress", "task", t.task.TaskID, "err", err)
	}
}

// setDoc moves one document forward. Backward transitions are ignored.
func (t *tracker) setDoc(ctx context.Context, docID string, fn func(sub *core.SubTask)) {
	t.update(ctx, func(task *core.AnalysisTask) {
		sub := task.PerDoc[docID]
		prev := sub.Status
		fn(&sub)
		if sub.Status != prev && !prev.CanTransition(sub.Status) {
			t.logger.Warn("ignoring backward document transition",
				"task", task.TaskID, "doc", docID, "from", prev, "to", sub.Status)
			return
		}
		task.PerDoc[docID] = sub
		if !prev.Settled() && sub.Status.Settled() {
			task.CompletedDocs++
		}
	})
}

// finish moves the task to a terminal status.
func (t *tracker) finish(ctx context.Context, status core.TaskStatus, step string, fn func(task *core.AnalysisTask)) {
	t.update(ctx, func(task *core.AnalysisTask) {
		if !task.Status.CanTransition(status) {
			return
		}
		task.Status = status
		task.CurrentStep = step
		task.FinishedAt = time.Now().UTC()
		if fn != nil {
			fn(task)
		}
	})
}

func (t *tracker) snapshot() *core.AnalysisTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.task.Clone()
}
