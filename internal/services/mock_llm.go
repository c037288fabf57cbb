package services

import (
	"context"
	"sync"
	"time"
)

// MockGenerator is a mock implementation of Generator for testing
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)
	WarmupFunc   func(ctx context.Context, model string) error
	PingFunc     func(ctx context.Context) error

	// Track calls for testing
	GenerateCalls []Request
	WarmupCalls   []string

	mu sync.Mutex // protects all fields above
}

// Ensure MockGenerator implements Generator interface
var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a new mock generator
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		GenerateCalls: make([]Request, 0),
		WarmupCalls:   make([]string, 0),
	}
}

// Generate mocks response generation
func (m *MockGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, req)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	// Default behavior - a well-formed summary
	return &Response{
		Text:    `{"headline":"Mock headline","summary":"Mock summary"}`,
		Model:   req.Model,
		Elapsed: 5 * time.Millisecond,
	}, nil
}

// Warmup mocks model warm-up
func (m *MockGenerator) Warmup(ctx context.Context, model string) error {
	m.mu.Lock()
	m.WarmupCalls = append(m.WarmupCalls, model)
	fn := m.WarmupFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, model)
	}
	return nil
}

// Ping mocks the reachability check
func (m *MockGenerator) Ping(ctx context.Context) error {
	m.mu.Lock()
	fn := m.PingFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// SetResponse makes Generate return text
func (m *MockGenerator) SetResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: text, Model: req.Model, Elapsed: 5 * time.Millisecond}, nil
	}
}

// SetGenerateError sets up the mock to return an error on Generate
func (m *MockGenerator) SetGenerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = func(ctx context.Context, req Request) (*Response, error) {
		return nil, &GenerationError{Backend: "mock", Model: req.Model, Err: err}
	}
}

// SetWarmupError sets up the mock to return an error on Warmup
func (m *MockGenerator) SetWarmupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarmupFunc = func(ctx context.Context, model string) error {
		return err
	}
}

// SetPingError sets up the mock to return an error on Ping
func (m *MockGenerator) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingFunc = func(ctx context.Context) error {
		return err
	}
}

// Calls returns a copy of the recorded Generate requests
func (m *MockGenerator) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.GenerateCalls))
	copy(out, m.GenerateCalls)
	return out
}

// Reset clears all call tracking
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = make([]Request, 0)
	m.WarmupCalls = make([]string, 0)
}
