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

// jobMsg is the part of jetstream.Msg a worker uses.
type jobMsg interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
	InProgress() error
}

// Worker consumes analysis jobs from JetStream and runs them.
type Worker struct {
	js           jetstream.JetStream
	runner       *Runner
	progress     storage.ProgressStore
	sink         *StoreSink
	ttl          time.Duration
	pollInterval time.Duration
	ackWait      time.Duration
	logger       *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how often a running job checks its cancel flag.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// NewWorker creates a worker. Progress is written to progress with the
// runner's ProgressTTL.
func NewWorker(js jetstream.JetStream, runner *Runner, progress storage.ProgressStore, opts ...WorkerOption) (*Worker, error) {
	if js == nil {
		return nil, ErrJetStreamRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	if progress == nil {
		return nil, ErrProgressStoreRequired
	}
	ttl := runner.Config().ProgressTTL
	w := &Worker{
		js:           js,
		runner:       runner,
		progress:     progress,
		sink:         NewStoreSink(progress, ttl),
		ttl:          ttl,
		pollInterval: time.Second,
		ackWait:      5 * time.Minute,
		logger:       slog.Default().With("component", "worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes jobs until ctx is done. A job in progress when ctx ends runs
// to completion before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	stream, err := EnsureStream(ctx, w.js)
	if err != nil {
		return err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.ackWait,
		MaxDeliver:    3,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ConsumerName, err)
	}
	w.logger.Info("worker started", "stream", StreamName, "subject", Subject)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Debug("fetch failed", "err", err)
			continue
		}
		for msg := range msgs.Messages() {
			w.handle(ctx, msg)
		}
		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
			w.logger.Warn("message fetch error", "err", err)
		}
	}
}

// handle runs one job and settles its message.
func (w *Worker) handle(ctx context.Context, msg jobMsg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			w.logger.Warn("failed to nak message during shutdown", "err", err)
		}
		return
	}

	var job jobMessage
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.Task == nil {
		w.logger.Error("dropping malformed job", "err", err)
		if err := msg.Term(); err != nil {
			w.logger.Warn("failed to term message", "err", err)
		}
		return
	}
	taskID := job.Task.TaskID
	logger := w.logger.With("task", taskID)

	// A redelivered job whose task already finished is only acknowledged.
	if current, err := LoadSnapshot(ctx, w.progress, taskID); err == nil {
		if current.Status.Terminal() {
			logger.Debug("task already finished, acknowledging")
			w.ack(msg, logger)
			return
		}
	} else if !errors.Is(err, core.ErrTaskNotFound) {
		logger.Warn("progress store unavailable, retrying later", "err", err)
		if err := msg.Nak(); err != nil {
			logger.Warn("failed to nak message", "err", err)
		}
		return
	}

	// Shutting the worker down does not cancel the job; only the task's
	// cancel flag does.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if requested, err := cancelRequested(jobCtx, w.progress, taskID); err != nil {
		logger.Debug("cancel flag check failed", "err", err)
	} else if requested {
		logger.Info("task cancelled while queued")
		cancel()
	}
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		w.watch(jobCtx, taskID, msg, cancel)
	}()

	final := w.runner.Run(jobCtx, job.Task, job.Request, w.sink)
	cancel()
	<-watchDone

	logger.Info("job finished", "status", final.Status)
	w.ack(msg, logger)
}

// watch polls the task's cancel flag and keeps the message from being
// redelivered while the job runs.
func (w *Worker) watch(ctx context.Context, taskID string, msg jobMsg, cancel context.CancelFunc) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		requested, err := cancelRequested(ctx, w.progress, taskID)
		if err != nil && ctx.Err() == nil {
			w.logger.Debug("cancel flag check failed", "task", taskID, "err", err)
		}
		if requested {
			w.logger.Info("cancel requested", "task", taskID)
			cancel()
			return
		}
		if err := msg.InProgress(); err != nil {
			w.logger.Debug("failed to extend ack deadline", "task", taskID, "err", err)
		}
	}
}

func (w *Worker) ack(msg jobMsg, logger *slog.Logger) {
	if err := msg.Ack(); err != nil {
		logger.Warn("failed to ack message", "err", err)
	}
}
