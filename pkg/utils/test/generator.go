package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/finsight/pkg/generation"
)

// MockGenerator records requests and answers with Content.
type MockGenerator struct {
	Content string
	Tokens  int
	Err     error

	mu       sync.Mutex
	requests []generation.Request
}

func NewMockGenerator(content string) *MockGenerator {
	return &MockGenerator{Content: content, Tokens: 12}
}

func (m *MockGenerator) Generate(_ context.Context, req generation.Request) (*generation.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &generation.Response{
		Content:    m.Content,
		TokensUsed: m.Tokens,
		Model:      "mock-generator",
		Provider:   "mock",
	}, nil
}

func (m *MockGenerator) Info() generation.ModelInfo {
	return generation.ModelInfo{Provider: "mock", Model: "mock-generator"}
}

// Requests returns every request received so far.
func (m *MockGenerator) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

var _ generation.Generator = (*MockGenerator)(nil)
