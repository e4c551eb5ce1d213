// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/embeddings/ollama"
	"github.com/papercomputeco/finsight/pkg/embeddings/openai"
	"github.com/papercomputeco/finsight/pkg/embeddings/resilient"
)

// Supported embedding providers.
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Providers lists every supported provider name.
var Providers = []string{ProviderJina, ProviderOpenAI, ProviderOllama}

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Dimensions   int
	Task         string
	BatchSize    int
	Timeout      time.Duration

	// MaxRetries and RequestsPerSecond configure the resilient wrapper.
	MaxRetries        int
	RequestsPerSecond float64

	Logger *slog.Logger
}

// NewEmbedder builds the configured provider wrapped with retries, rate
// limiting and a circuit breaker. Remote providers fail fast without an API
// key.
func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	var (
		base embeddings.Embedder
		err  error
	)

	switch o.ProviderType {
	case ProviderJina:
		cfg := openai.Jina(o.APIKey)
		if o.TargetURL != "" {
			cfg.BaseURL = o.TargetURL
		}
		if o.Model != "" {
			cfg.Model = o.Model
		}
		if o.Dimensions > 0 {
			cfg.Dimensions = o.Dimensions
		}
		if o.Task != "" {
			cfg.Task = o.Task
		}
		cfg.BatchSize = o.BatchSize
		cfg.Timeout = o.Timeout
		base, err = openai.NewEmbedder(cfg)
	case ProviderOpenAI:
		base, err = openai.NewEmbedder(openai.Config{
			BaseURL:    o.TargetURL,
			APIKey:     o.APIKey,
			Model:      o.Model,
			Dimensions: o.Dimensions,
			BatchSize:  o.BatchSize,
			Timeout:    o.Timeout,
		})
	case ProviderOllama:
		base, err = ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
			BatchSize:  o.BatchSize,
			Timeout:    o.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
	if err != nil {
		return nil, err
	}

	return resilient.New(base, resilient.Config{
		MaxAttempts:       o.MaxRetries,
		RequestsPerSecond: o.RequestsPerSecond,
		Logger:            o.Logger,
	}), nil
}
