package engine

import (
	"context"
	"sync"

	"github.com/erain9/papertrade/pkg/core"
)

// MockExecutionSink collects executed orders for tests and examples
type MockExecutionSink struct {
	mu       sync.Mutex
	executed []*core.Order

	// Err, when set, is returned by every ExecuteOrder call
	Err error
}

// NewMockExecutionSink creates a new MockExecutionSink
func NewMockExecutionSink() *MockExecutionSink {
	return &MockExecutionSink{}
}

// ExecuteOrder records the order
func (m *MockExecutionSink) ExecuteOrder(_ context.Context, order *core.Order) error {
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, order.Clone())
	return nil
}

// Executed returns a copy of the orders received so far
func (m *MockExecutionSink) Executed() []*core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Order, len(m.executed))
	copy(out, m.executed)
	return out
}

// Ensure MockExecutionSink implements ExecutionSink
var _ ExecutionSink = (*MockExecutionSink)(nil)
