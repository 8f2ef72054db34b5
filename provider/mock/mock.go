// Package mock provides a scripted AI provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/planforge/planforge/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// MockProvider implements provider.Provider for testing.
// It returns scripted responses in order, cycling when exhausted.
// Safe for concurrent use, matching the decomposer's layer fan-out.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	idx       int
}

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// NewFailing creates a MockProvider whose Chat always returns err.
func NewFailing(err error) *MockProvider {
	return &MockProvider{err: err}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Calls reports how many Chat calls the provider has served.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx
}

// Chat returns the next scripted response, cycling through the queue.
func (m *MockProvider) Chat(_ context.Context, _ []provider.Message) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse, Model: "mock-default"}, nil
	}
	resp := m.responses[(m.idx-1)%len(m.responses)]
	return &provider.Response{Content: resp, Model: "mock-default"}, nil
}
