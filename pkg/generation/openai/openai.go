// Package openai implements generation.Generator for OpenAI-compatible
// chat completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/generation"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o-mini"
)

// Config holds configuration for the generator.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator calls /v1/chat/completions.
type Generator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a generator. An API key is required.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generator requires an API key")
	}
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Generator{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Generate sends one chat completion request.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	start := time.Now()
	var result chatResponse
	err := generation.PostJSON(ctx, g.httpClient, ProviderName, g.baseURL+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + g.apiKey},
		chatRequest{
			Model:       g.model,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}, &result)
	if err != nil {
		return nil, err
	}

	if result.Error != nil {
		return nil, fault.Unavailable(ProviderName, fmt.Errorf("%w: openai error: %s", generation.ErrGeneration, result.Error.Message))
	}
	if len(result.Choices) == 0 {
		return nil, fault.Unavailable(ProviderName, fmt.Errorf("%w: openai returned no choices", generation.ErrGeneration))
	}

	model := result.Model
	if model == "" {
		model = g.model
	}
	return &generation.Response{
		Content:    result.Choices[0].Message.Content,
		TokensUsed: result.Usage.TotalTokens,
		Latency:    time.Since(start),
		Model:      model,
		Provider:   ProviderName,
	}, nil
}

// Info reports the model identity.
func (g *Generator) Info() generation.ModelInfo {
	return generation.ModelInfo{Provider: ProviderName, Model: g.model}
}

var _ generation.Generator = (*Generator)(nil)
