// Package factory builds a configured llm.Engine for a provider.
package factory

import (
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/llm/claude"
	"github.com/go-go-golems/concierge/pkg/llm/openai"
	"github.com/pkg/errors"
)

// NewEngine creates the provider engine and wraps it with the per-call deadline,
// rate limiting and the optional observer.
func NewEngine(settings llm.Settings, obs llm.Observer) (llm.Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var eng llm.Engine
	switch settings.Provider {
	case llm.ProviderOpenAI:
		e, err := openai.NewEngine(settings)
		if err != nil {
			return nil, err
		}
		eng = e
	case llm.ProviderClaude:
		e, err := claude.NewEngine(settings)
		if err != nil {
			return nil, err
		}
		eng = e
	default:
		return nil, errors.Errorf("unsupported provider %q", settings.Provider)
	}

	eng = llm.WithTimeout(eng, settings.Timeout)
	eng = llm.RateLimited(eng, llm.NewLimiter(settings.RequestsPerMinute))
	eng = llm.Observed(eng, obs)
	return eng, nil
}
