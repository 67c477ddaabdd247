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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
	"github.com/poiesic/needmatch/storage/natskv"
)

// Orchestrator is the public face of deep analysis: Submit, Poll and Cancel.
type Orchestrator struct {
	backend  TaskBackend
	registry *Registry
	shared   storage.ProgressStore
	config   Config
	conn     *nats.Conn
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSharedStore sets the store Poll and Cancel fall back to for tasks the
// in-process registry does not hold.
func WithSharedStore(store storage.ProgressStore) OrchestratorOption {
	return func(o *Orchestrator) {
		o.shared = store
	}
}

// WithRegistry sets the in-process registry Poll consults first.
func WithRegistry(registry *Registry) OrchestratorOption {
	return func(o *Orchestrator) {
		o.registry = registry
	}
}

// WithConnection hands the orchestrator a NATS connection to close on Close.
func WithConnection(conn *nats.Conn) OrchestratorOption {
	return func(o *Orchestrator) {
		o.conn = conn
	}
}

// New creates an orchestrator over backend.
func New(backend TaskBackend, config Config, opts ...OrchestratorOption) (*Orchestrator, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	o := &Orchestrator{
		backend: backend,
		config:  config.normalized(),
		logger:  slog.Default().With("component", "orchestrator", "backend", backend.Name()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewOrchestrator probes natsURL once and builds the matching backend: the
// distributed backend when JetStream answers, otherwise the in-process one.
// An empty natsURL selects the in-process backend without probing.
func NewOrchestrator(ctx context.Context, runner *Runner, natsURL string) (*Orchestrator, error) {
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	config := runner.Config()
	registry := NewRegistry(config.ProgressTTL)
	registry.Start(config.JanitorInterval)

	if natsURL != "" {
		conn, js, err := Probe(ctx, natsURL, 2*time.Second)
		if err == nil {
			o, err := newDistributed(ctx, conn, js, registry, config)
			if err == nil {
				return o, nil
			}
			conn.Close()
			slog.Warn("distributed backend unavailable, running in-process", "err", err)
		} else {
			slog.Warn("nats probe failed, running in-process", "url", natsURL, "err", err)
		}
	}

	backend, err := NewInProcessBackend(runner, registry, config.PoolSize)
	if err != nil {
		registry.Close()
		return nil, err
	}
	return New(backend, config, WithRegistry(registry))
}

func newDistributed(ctx context.Context, conn *nats.Conn, js jetstream.JetStream, registry *Registry, config Config) (*Orchestrator, error) {
	progress, err := natskv.Open(ctx, js, natskv.DefaultBucket, config.ProgressTTL)
	if err != nil {
		return nil, err
	}
	backend, err := NewDistributedBackend(ctx, js, progress, config.ProgressTTL)
	if err != nil {
		return nil, err
	}
	return New(backend, config,
		WithRegistry(registry),
		WithSharedStore(progress),
		WithConnection(conn),
	)
}

// Probe connects to natsURL and checks that JetStream is enabled.
func Probe(ctx context.Context, natsURL string, timeout time.Duration) (*nats.Conn, jetstream.JetStream, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("needmatch"),
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNATSUnreachable, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrNATSUnreachable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := js.AccountInfo(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: jetstream: %w", ErrNATSUnreachable, err)
	}
	return conn, js, nil
}

// Backend returns the backend serving submissions.
func (o *Orchestrator) Backend() TaskBackend {
	return o.backend
}

// Submit validates and starts a task. An empty taskID gets a generated one.
// Submitting a task ID that is already known is accepted without running
// the job again.
func (o *Orchestrator) Submit(ctx context.Context, taskID string, docIDs []string, need string) (string, error) {
	return o.SubmitWithPages(ctx, taskID, docIDs, need, 0)
}

// SubmitWithPages is Submit with a per-task PDF page limit. Zero uses the
// configured default.
func (o *Orchestrator) SubmitWithPages(ctx context.Context, taskID string, docIDs []string, need string, maxPages int) (string, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if err := core.ValidateTaskID(taskID); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	if err := core.ValidateDocIDs(docIDs, o.config.MaxDocs); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	if err := core.ValidateNeedText(need); err != nil {
		return "", err
	}

	if _, err := o.Poll(ctx, taskID); err == nil {
		o.logger.Debug("task already known", "task", taskID)
		return taskID, nil
	}

	if maxPages < 1 {
		maxPages = o.config.MaxPages
	}
	req := core.AnalysisRequest{
		TaskID:   taskID,
		DocIDs:   docIDs,
		NeedText: strings.TrimSpace(need),
		MaxPages: maxPages,
	}
	if err := o.backend.Dispatch(ctx, req, core.NewAnalysisTask(req)); err != nil {
		return "", err
	}
	o.logger.Info("task submitted", "task", taskID, "docs", len(docIDs))
	return taskID, nil
}

// Poll returns the task's latest snapshot. The in-process registry is
// consulted first, then the shared store.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) (*core.AnalysisTask, error) {
	if o.registry != nil {
		if task, ok := o.registry.Get(taskID); ok {
			return task, nil
		}
	}
	if o.shared != nil {
		return LoadSnapshot(ctx, o.shared, taskID)
	}
	task, err := o.backend.Snapshot(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel requests cooperative cancellation. Cancelling a finished task is
// a no-op; an unknown task yields core.ErrTaskNotFound.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if o.registry != nil && o.registry.Cancel(taskID) {
		o.logger.Info("task cancel requested", "task", taskID)
		return nil
	}
	if o.shared != nil {
		err := raiseCancelFlag(ctx, o.shared, o.config.ProgressTTL, taskID)
		if err == nil {
			o.logger.Info("task cancel flagged", "task", taskID)
		}
		return err
	}
	return o.backend.Cancel(ctx, taskID)
}

// Close shuts down the backend, the registry and any NATS connection.
func (o *Orchestrator) Close() error {
	err := o.backend.Close()
	if o.registry != nil {
		o.registry.Close()
	}
	if o.conn != nil {
		o.conn.Close()
	}
	return err
}
