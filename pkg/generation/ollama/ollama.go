// Package ollama implements generation.Generator for Ollama's chat API.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/generation"
)

const (
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Config holds configuration for the generator.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Generator calls /api/chat without streaming.
type Generator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	Error           string      `json:"error"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// New creates a generator.
func New(cfg Config) *Generator {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Generator{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate sends one chat request.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	start := time.Now()
	var result chatResponse
	err := generation.PostJSON(ctx, g.httpClient, ProviderName, g.baseURL+"/api/chat", nil,
		chatRequest{
			Model:    g.model,
			Messages: messages,
			Stream:   false,
			Options: chatOptions{
				Temperature: req.Temperature,
				NumPredict:  req.MaxTokens,
			},
		}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fault.Unavailable(ProviderName, fmt.Errorf("%w: ollama error: %s", generation.ErrGeneration, result.Error))
	}

	return &generation.Response{
		Content:    result.Message.Content,
		TokensUsed: result.PromptEvalCount + result.EvalCount,
		Latency:    time.Since(start),
		Model:      g.model,
		Provider:   ProviderName,
	}, nil
}

// Info reports the model identity.
func (g *Generator) Info() generation.ModelInfo {
	return generation.ModelInfo{Provider: ProviderName, Model: g.model}
}

var _ generation.Generator = (*Generator)(nil)
