// Package openai implements pkg/embeddings' Embedder for OpenAI-compatible
// /v1/embeddings APIs, including Jina AI.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/fault"
)

const (
	// DefaultBaseURL is the OpenAI API URL.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is the default OpenAI embedding model.
	DefaultModel = "text-embedding-3-small"

	// JinaBaseURL is the Jina AI API URL.
	JinaBaseURL = "https://api.jina.ai"

	// JinaModel is the default Jina embedding model.
	JinaModel = "jina-embeddings-v3"

	// JinaDimensions is the default Jina embedding size.
	JinaDimensions = 1024

	// JinaTask is the default Jina task adapter.
	JinaTask = "text-matching"
)

// Config holds configuration for the embedder.
type Config struct {
	// Provider names the service in errors and model info. Defaults to "openai".
	Provider string

	// BaseURL is the API root without the /v1 suffix.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimensions requests a vector size when the model supports it.
	Dimensions int

	// Task selects a Jina task adapter. Ignored by OpenAI.
	Task string

	// BatchSize bounds the number of inputs per request.
	BatchSize int

	// Timeout bounds each HTTP request. Defaults to 30 seconds.
	Timeout time.Duration
}

// Jina returns a Config preset for Jina AI's embedding API.
func Jina(apiKey string) Config {
	return Config{
		Provider:   "jina",
		BaseURL:    JinaBaseURL,
		APIKey:     apiKey,
		Model:      JinaModel,
		Dimensions: JinaDimensions,
		Task:       JinaTask,
	}
}

// Embedder calls an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	task       string
	batchSize  int
	httpClient *http.Client
}

type embedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	Task           string   `json:"task,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewEmbedder creates an embedder. An API key is required.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s embedder requires an API key", providerName(cfg.Provider))
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Embedder{
		provider:   providerName(cfg.Provider),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		task:       cfg.Task,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func providerName(p string) string {
	if p == "" {
		return "openai"
	}
	return p
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts into embeddings in batches.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embeddings.Batch(ctx, texts, e.batchSize, e.embed)
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{
		Model:          e.model,
		Input:          texts,
		Dimensions:     e.dimensions,
		Task:           e.task,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", embeddings.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", embeddings.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fault.Unavailable(e.provider, fmt.Errorf("%w: sending request: %w", embeddings.ErrEmbedding, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("%w: %s returned status %d: %s", embeddings.ErrEmbedding, e.provider, resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %w", embeddings.ErrRejected, err)
		}
		return nil, fault.Unavailable(e.provider, err)
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fault.Unavailable(e.provider, fmt.Errorf("%w: decoding response: %v", embeddings.ErrEmbedding, err))
	}
	if len(embedResp.Data) != len(texts) {
		return nil, fault.Unavailable(e.provider,
			fmt.Errorf("%w: expected %d embeddings, got %d", embeddings.ErrEmbedding, len(texts), len(embedResp.Data)))
	}

	// Entries carry their input index and are not guaranteed to be in order.
	sort.Slice(embedResp.Data, func(i, j int) bool {
		return embedResp.Data[i].Index < embedResp.Data[j].Index
	})

	out := make([][]float32, len(embedResp.Data))
	for i, d := range embedResp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Info reports the model identity.
func (e *Embedder) Info() embeddings.ModelInfo {
	return embeddings.ModelInfo{
		Provider:   e.provider,
		Model:      e.model,
		Dimensions: e.dimensions,
	}
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
