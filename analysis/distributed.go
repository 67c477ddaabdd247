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
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
)

const (
	// StreamName is the JetStream work-queue stream carrying analysis jobs.
	StreamName = "ANALYSIS"

	// Subject is the subject analysis jobs are published on.
	Subject = "analysis.tasks"

	// ConsumerName is the durable consumer shared by all workers.
	ConsumerName = "analysis-workers"
)

// jobMessage is the payload of one queued job.
type jobMessage struct {
	Request core.AnalysisRequest `json:"request"`
	Task    *core.AnalysisTask   `json:"task"`
}

// EnsureStream creates or updates the analysis work-queue stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "needmatch deep-analysis jobs",
		Subjects:    []string{Subject},
		Retention:   jetstream.WorkQueuePolicy,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return stream, nil
}

// DistributedBackend queues jobs on JetStream for Worker processes. Progress
// and cancel flags live in a shared ProgressStore.
type DistributedBackend struct {
	js       jetstream.JetStream
	progress storage.ProgressStore
	sink     *StoreSink
	ttl      time.Duration
	logger   *slog.Logger
}

var _ TaskBackend = (*DistributedBackend)(nil)

// NewDistributedBackend creates the backend and ensures its stream exists.
func NewDistributedBackend(ctx context.Context, js jetstream.JetStream, progress storage.ProgressStore, ttl time.Duration) (*DistributedBackend, error) {
	if js == nil {
		return nil, ErrJetStreamRequired
	}
	if progress == nil {
		return nil, ErrProgressStoreRequired
	}
	if _, err := EnsureStream(ctx, js); err != nil {
		return nil, err
	}
	return &DistributedBackend{
		js:       js,
		progress: progress,
		sink:     NewStoreSink(progress, ttl),
		ttl:      ttl,
		logger:   slog.Default().With("component", "distributed-backend"),
	}, nil
}

func (b *DistributedBackend) Name() string { return "distributed" }

// Dispatch records the pending snapshot and publishes the job. The task ID
// doubles as the JetStream message ID, so a repeated dispatch inside the
// stream's duplicate window is dropped by the server.
func (b *DistributedBackend) Dispatch(ctx context.Context, req core.AnalysisRequest, task *core.AnalysisTask) error {
	if _, err := LoadSnapshot(ctx, b.progress, task.TaskID); err == nil {
		return nil
	}
	if err := b.sink.Publish(ctx, task); err != nil {
		return fmt.Errorf("%w: record task %s: %w", core.ErrUpstreamUnavailable, task.TaskID, err)
	}

	data, err := json.Marshal(jobMessage{Request: req, Task: task})
	if err != nil {
		return fmt.Errorf("encode job %s: %w", task.TaskID, err)
	}
	ack, err := b.js.Publish(ctx, Subject, data, jetstream.WithMsgID(task.TaskID))
	if err != nil {
		return fmt.Errorf("%w: publish job %s: %w", core.ErrUpstreamUnavailable, task.TaskID, err)
	}
	b.logger.Debug("task queued", "task", task.TaskID, "seq", ack.Sequence, "duplicate", ack.Duplicate)
	return nil
}

func (b *DistributedBackend) Snapshot(ctx context.Context, taskID string) (*core.AnalysisTask, error) {
	return LoadSnapshot(ctx, b.progress, taskID)
}

// Cancel raises the task's cancel flag. Terminal tasks are left untouched.
func (b *DistributedBackend) Cancel(ctx context.Context, taskID string) error {
	return raiseCancelFlag(ctx, b.progress, b.ttl, taskID)
}

func (b *DistributedBackend) Close() error { return nil }

func raiseCancelFlag(ctx context.Context, progress storage.ProgressStore, ttl time.Duration, taskID string) error {
	task, err := LoadSnapshot(ctx, progress, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}
	return progress.Set(ctx, CancelKey(taskID), []byte("1"), ttl)
}

// cancelRequested reports whether the task's cancel flag is set.
func cancelRequested(ctx context.Context, progress storage.ProgressStore, taskID string) (bool, error) {
	_, err := progress.Get(ctx, CancelKey(taskID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	}
	return false, err
}
