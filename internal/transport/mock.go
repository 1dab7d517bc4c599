package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport provides a recording mock for tests.
type MockTransport struct {
	mu sync.Mutex

	// Responses keyed by "METHOD path". A missing entry yields
	// DefaultError if set, otherwise an empty object.
	Responses map[string]json.RawMessage

	// Error injection. Errors keyed like Responses fire per call;
	// DefaultError fires for any unmatched call.
	Errors       map[string]error
	DefaultError error

	// PingError makes connectivity probes fail.
	PingError error

	// Calls records every request in order.
	Calls []MockCall
}

// MockCall is one recorded request.
type MockCall struct {
	Method  string
	Path    string
	Payload interface{}
}

// NewMockTransport creates an empty mock.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]json.RawMessage),
		Errors:    make(map[string]error),
	}
}

// Respond configures a response for "METHOD path".
func (m *MockTransport) Respond(method, path string, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("mock response for %s %s: %v", method, path, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[method+" "+path] = data
}

// Fail configures an error for "METHOD path".
func (m *MockTransport) Fail(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[method+" "+path] = err
}

// CallOrder returns "METHOD path" for every recorded call, in order.
func (m *MockTransport) CallOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		order[i] = c.Method + " " + c.Path
	}
	return order
}

// Request records the call and returns the configured response.
func (m *MockTransport) Request(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: method, Path: path, Payload: payload})

	key := method + " " + path
	if err, ok := m.Errors[key]; ok && err != nil {
		return nil, err
	}
	if resp, ok := m.Responses[key]; ok {
		return resp, nil
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return json.RawMessage(`{}`), nil
}

// GetJSON records a GET call.
func (m *MockTransport) GetJSON(ctx context.Context, path string) (json.RawMessage, error) {
	return m.Request(ctx, "GET", path, nil)
}

// Ping returns the configured probe error.
func (m *MockTransport) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingError
}

// Close is a no-op.
func (m *MockTransport) Close() error {
	return nil
}
