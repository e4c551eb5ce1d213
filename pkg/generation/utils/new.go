// Package generationutils constructs generators from configuration.
package generationutils

import (
	"fmt"
	"time"

	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/generation/anthropic"
	"github.com/papercomputeco/finsight/pkg/generation/ollama"
	"github.com/papercomputeco/finsight/pkg/generation/openai"
)

// Supported generation providers. ProviderNone disables generation.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Providers lists every supported provider name.
var Providers = []string{ProviderNone, ProviderOpenAI, ProviderAnthropic, ProviderOllama}

type NewGeneratorOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Timeout      time.Duration
}

// NewGenerator builds the configured provider. It returns nil and no error
// for ProviderNone or an empty provider.
func NewGenerator(o *NewGeneratorOpts) (generation.Generator, error) {
	switch o.ProviderType {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		return openai.New(openai.Config{
			BaseURL: o.TargetURL,
			APIKey:  o.APIKey,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	case ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			BaseURL: o.TargetURL,
			APIKey:  o.APIKey,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	case ProviderOllama:
		return ollama.New(ollama.Config{
			BaseURL: o.TargetURL,
			Model:   o.Model,
			Timeout: o.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", o.ProviderType)
	}
}
