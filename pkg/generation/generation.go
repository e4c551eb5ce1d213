// Package generation defines the provider-agnostic contract for answer
// synthesis, along with the insight types and prompts used to ask questions
// over retrieved context.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/finsight/pkg/fault"
)

// ErrGeneration is wrapped by every provider failure.
var ErrGeneration = errors.New("generation failed")

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// Request is one generation call.
type Request struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// NewRequest returns a Request with the default token limit and temperature.
func NewRequest(prompt, systemPrompt string) Request {
	return Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
	}
}

// Response is the generated content. TokensUsed is zero when the provider
// does not report usage.
type Response struct {
	Content    string        `json:"content"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency"`
	Model      string        `json:"model"`
	Provider   string        `json:"provider"`
}

// ModelInfo identifies the model behind a Generator.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Info() ModelInfo
}

// PostJSON sends body to url and decodes a 200 response into out. Transport
// failures and non-200 statuses are reported as provider unavailability.
func PostJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fault.Unavailable(provider, fmt.Errorf("%w: %s request: %w", ErrGeneration, provider, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Unavailable(provider, fmt.Errorf("%w: read response: %w", ErrGeneration, err))
	}
	if resp.StatusCode != http.StatusOK {
		return fault.Unavailable(provider,
			fmt.Errorf("%w: %s API error (status %d): %s", ErrGeneration, provider, resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fault.Unavailable(provider, fmt.Errorf("%w: unmarshal response: %v", ErrGeneration, err))
	}
	return nil
}
