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

package mock

import (
	"context"
	"sync"

	"github.com/poiesic/needmatch/ai"
)

// MockCompleter is a test double for ai.Completer.
type MockCompleter struct {
	mu sync.Mutex

	// CompleteFunc is called by Complete if set.
	// If nil, Complete returns "[]".
	CompleteFunc func(ctx context.Context, req ai.Request) (string, error)

	requests []ai.Request
}

// NewMockCompleter creates a mock completer returning an empty JSON array.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// WithCompleteFunc sets the behavior of Complete and returns the mock.
func (m *MockCompleter) WithCompleteFunc(fn func(ctx context.Context, req ai.Request) (string, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
	return m
}

// Complete records the request and delegates to CompleteFunc.
func (m *MockCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return "[]", nil
}

// CallCount returns the number of times Complete was called.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in call order.
func (m *MockCompleter) Requests() []ai.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded calls and custom behavior.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.CompleteFunc = nil
}
