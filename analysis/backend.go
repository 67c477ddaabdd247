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
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/needmatch/core"
)

// TaskBackend executes analysis jobs and answers for their progress.
type TaskBackend interface {
	// Name identifies the backend in logs.
	Name() string

	// Dispatch starts the job for task. A task ID the backend already knows
	// is accepted without starting a second job.
	Dispatch(ctx context.Context, req core.AnalysisRequest, task *core.AnalysisTask) error

	// Snapshot returns the latest snapshot, or core.ErrTaskNotFound.
	Snapshot(ctx context.Context, taskID string) (*core.AnalysisTask, error)

	// Cancel requests cooperative cancellation, or returns core.ErrTaskNotFound.
	Cancel(ctx context.Context, taskID string) error

	// Close stops accepting work and releases resources.
	Close() error
}

// InProcessBackend runs jobs on a goroutine pool inside this process.
// Dispatch only queues a job; a dispatcher feeds queued jobs to the pool as
// workers free up.
type InProcessBackend struct {
	runner   *Runner
	registry *Registry
	pool     *ants.Pool
	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu       sync.Mutex
	closed   bool
	queue    []queuedJob
	wake     chan struct{}
	loopDone chan struct{}
}

type queuedJob struct {
	ctx    context.Context
	cancel context.CancelFunc
	req    core.AnalysisRequest
	task   *core.AnalysisTask
}

var _ TaskBackend = (*InProcessBackend)(nil)

// NewInProcessBackend creates a backend running at most poolSize jobs at once.
func NewInProcessBackend(runner *Runner, registry *Registry, poolSize int) (*InProcessBackend, error) {
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	if registry == nil {
		registry = NewRegistry(runner.Config().ProgressTTL)
	}
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	b := &InProcessBackend{
		runner:   runner,
		registry: registry,
		pool:     pool,
		base:     base,
		stop:     stop,
		logger:   slog.Default().With("component", "inprocess-backend"),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	go b.dispatchLoop()
	return b, nil
}

func (b *InProcessBackend) Name() string { return "in-process" }

// Registry returns the table holding this backend's tasks.
func (b *InProcessBackend) Registry() *Registry { return b.registry }

// Dispatch registers the task and queues its job. It never waits for a
// free worker.
func (b *InProcessBackend) Dispatch(_ context.Context, req core.AnalysisRequest, task *core.AnalysisTask) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	// Jobs outlive the request that submitted them.
	jobCtx, cancel := context.WithCancel(b.base)
	if !b.registry.Add(task, cancel) {
		cancel()
		return nil
	}

	b.wg.Add(1)
	b.queue = append(b.queue, queuedJob{ctx: jobCtx, cancel: cancel, req: req, task: task})
	b.signal()
	b.logger.Debug("task queued", "task", task.TaskID, "docs", len(req.DocIDs), "queued", len(b.queue))
	return nil
}

func (b *InProcessBackend) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop hands queued jobs to the pool, blocking while every worker
// is busy. It exits once the backend is closed and the queue is drained.
func (b *InProcessBackend) dispatchLoop() {
	defer close(b.loopDone)
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			<-b.wake
			continue
		}
		job := b.queue[0]
		b.queue[0] = queuedJob{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		err := b.pool.Submit(func() {
			defer b.wg.Done()
			defer job.cancel()
			b.runner.Run(job.ctx, job.task, job.req, b.registry)
		})
		if err != nil {
			b.logger.Error("failed to start task", "task", job.task.TaskID, "err", err)
			job.cancel()
			b.registry.Remove(job.task.TaskID)
			b.wg.Done()
		}
	}
}

func (b *InProcessBackend) Snapshot(_ context.Context, taskID string) (*core.AnalysisTask, error) {
	task, ok := b.registry.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}
	return task, nil
}

func (b *InProcessBackend) Cancel(_ context.Context, taskID string) error {
	if !b.registry.Cancel(taskID) {
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}
	return nil
}

// Wait blocks until every dispatched job has returned.
func (b *InProcessBackend) Wait() {
	b.wg.Wait()
}

// Close cancels running and queued jobs, waits for them to record their
// final status and releases the pool.
func (b *InProcessBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.signal()
	b.mu.Unlock()

	// Queued jobs still run, and stop at their first checkpoint.
	b.stop()
	<-b.loopDone
	b.wg.Wait()
	b.pool.Release()
	return nil
}
