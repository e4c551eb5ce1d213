// Package anthropic implements generation.Generator for the Anthropic
// Messages API.
package anthropic

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
	ProviderName   = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-haiku-4-5-20251001"
	apiVersion     = "2023-06-01"
)

// Config holds configuration for the generator.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator calls /v1/messages.
type Generator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a generator. An API key is required.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic generator requires an API key")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
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

// Generate sends one Messages API request.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = generation.DefaultMaxTokens
	}

	start := time.Now()
	var result messagesResponse
	err := generation.PostJSON(ctx, g.httpClient, ProviderName, g.baseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         g.apiKey,
			"anthropic-version": apiVersion,
		},
		messagesRequest{
			Model:       g.model,
			System:      req.SystemPrompt,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
			Messages:    []message{{Role: "user", Content: req.Prompt}},
		}, &result)
	if err != nil {
		return nil, err
	}

	if result.Error != nil {
		return nil, fault.Unavailable(ProviderName, fmt.Errorf("%w: anthropic error: %s", generation.ErrGeneration, result.Error.Message))
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fault.Unavailable(ProviderName, fmt.Errorf("%w: anthropic returned no content", generation.ErrGeneration))
	}

	model := result.Model
	if model == "" {
		model = g.model
	}
	return &generation.Response{
		Content:    text.String(),
		TokensUsed: result.Usage.InputTokens + result.Usage.OutputTokens,
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
