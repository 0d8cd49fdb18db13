package llm

import (
	"time"

	"github.com/pkg/errors"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
)

// Settings configures a language model client.
type Settings struct {
	Provider          Provider      `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       *float32      `mapstructure:"temperature" yaml:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// DefaultModel is the model used for p when none is configured.
func DefaultModel(p Provider) string {
	switch p {
	case ProviderClaude:
		return "claude-3-5-sonnet-latest"
	default:
		return "gpt-4o-mini"
	}
}

func DefaultSettings() Settings {
	return Settings{
		Provider:  ProviderOpenAI,
		Model:     DefaultModel(ProviderOpenAI),
		MaxTokens: 2048,
		Timeout:   2 * time.Minute,
	}
}

func (s Settings) Validate() error {
	switch s.Provider {
	case ProviderOpenAI, ProviderClaude:
	default:
		return errors.Errorf("unknown llm provider %q", s.Provider)
	}
	if s.Model == "" {
		return errors.New("llm model is required")
	}
	if s.MaxTokens < 0 {
		return errors.New("llm max_tokens must be >= 0")
	}
	return nil
}
