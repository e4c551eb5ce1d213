// Package embeddings defines the Embedding Gateway: the Embedder interface
// satisfied by every embedding provider, plus vector helpers.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmbedding is wrapped by every provider failure.
	ErrEmbedding = errors.New("embedding failed")

	// ErrRejected marks provider responses that retrying cannot fix, such as
	// authentication failures or malformed requests.
	ErrRejected = errors.New("request rejected by provider")
)

// DefaultBatchSize bounds the number of texts sent per provider request.
const DefaultBatchSize = 32

// ModelInfo identifies the model behind an Embedder.
type ModelInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts into embeddings, one per text and in order.
	// Implementations split large inputs into provider-sized requests.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Info reports the provider and model identity.
	Info() ModelInfo

	// Close releases any resources held by the embedder.
	Close() error
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. It is 0 when
// either vector has zero norm or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// BatchFunc embeds one provider-sized chunk of texts.
type BatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Batch splits texts into chunks of at most size and concatenates the results
// of fn. It fails if fn returns the wrong number of vectors for a chunk.
func Batch(ctx context.Context, texts []string, size int, fn BatchFunc) ([][]float32, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedding, end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
