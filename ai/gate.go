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

package ai

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate is an admission-control semaphore bounding in-flight model calls.
// One Gate is created per process and shared by every caller of the model.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewGate creates a gate admitting at most limit concurrent calls.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Limit returns the configured ceiling.
func (g *Gate) Limit() int {
	return g.limit
}

// InFlight returns the number of calls currently admitted.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Peak returns the highest number of concurrently admitted calls observed.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}

type gatedCompleter struct {
	next    Completer
	gate    *Gate
	timeout time.Duration
}

// Gated wraps a Completer so every call passes through gate and is bounded by timeout.
// A zero timeout leaves the caller's deadline untouched.
func Gated(next Completer, gate *Gate, timeout time.Duration) Completer {
	return &gatedCompleter{next: next, gate: gate, timeout: timeout}
}

func (c *gatedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.gate.Release()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.next.Complete(ctx, req)
}
