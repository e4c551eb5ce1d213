package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/fault"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
//
// With a Vocabulary, each text embeds to the per-word occurrence counts of
// the vocabulary, so texts sharing words land near each other.
type MockEmbedder struct {
	Embeddings map[string][]float32
	Vocabulary []string

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	// Err, when set, fails every call.
	Err error

	mu    sync.Mutex
	calls atomic.Int64
}

func NewMockEmbedder(vocabulary ...string) *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		Vocabulary: vocabulary,
	}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embed(text)
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func (m *MockEmbedder) embed(text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.FailOn != "" && text == m.FailOn {
		return nil, fault.Unavailable("mock", fmt.Errorf("%w: mock embedding failure for: %s", embeddings.ErrEmbedding, text))
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}
	if len(m.Vocabulary) == 0 {
		return []float32{0.1, 0.2, 0.3}, nil
	}

	lower := strings.ToLower(text)
	emb := make([]float32, len(m.Vocabulary))
	for i, word := range m.Vocabulary {
		emb[i] = float32(strings.Count(lower, strings.ToLower(word)))
	}
	return emb, nil
}

// SetErr changes Err under the embedder's lock.
func (m *MockEmbedder) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Calls reports how many Embed and EmbedBatch calls were made.
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

func (m *MockEmbedder) Info() embeddings.ModelInfo {
	dims := len(m.Vocabulary)
	if dims == 0 {
		dims = 3
	}
	return embeddings.ModelInfo{Provider: "mock", Model: "mock-embedder", Dimensions: dims}
}

func (m *MockEmbedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*MockEmbedder)(nil)
