// Package testutil provides test helpers for toolwire (e.g. MockHandler).
package testutil

import (
	"context"
	"sync"

	"github.com/skosovsky/toolwire"
)

// MockHandler is a configurable Handler for tests. It records every call it receives.
type MockHandler struct {
	ExecuteFn func(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error)

	mu    sync.Mutex
	calls []toolwire.ValidatedCall
}

// Execute records call and runs ExecuteFn if set, otherwise echoes the params as the payload.
func (m *MockHandler) Execute(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, call)
	}
	return toolwire.Success(call.Params), nil
}

// Calls returns the calls received so far.
func (m *MockHandler) Calls() []toolwire.ValidatedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]toolwire.ValidatedCall(nil), m.calls...)
}

// Ensure MockHandler implements Handler.
var _ toolwire.Handler = (*MockHandler)(nil)
