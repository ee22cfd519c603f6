// Package backend provides the generation capabilities agents are bound to:
// OpenAI-compatible HTTP endpoints (OpenAI, Ollama), remote workers over NATS
// and fixed replies, plus timeout, rate limit and retry wrappers.
package backend

import (
	"fmt"
	"net/http"
	"os"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/natsbus"
)

// SecretResolver turns a configured credential into its value.
type SecretResolver interface {
	Resolve(value string) (string, error)
}

// Deps are the shared resources generators are built from.
type Deps struct {
	Bus        *natsbus.Client
	Secrets    SecretResolver
	HTTPClient *http.Client
}

// New builds the generator described by cfg for the agent called name.
func New(name string, cfg config.AgentConfig, deps Deps) (debate.Generator, error) {
	var gen debate.Generator

	switch cfg.Provider {
	case config.ProviderOllama, config.ProviderOpenAI:
		opts, err := chatOptions(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		gen = NewChat(opts)
	case config.ProviderNATS:
		if deps.Bus == nil {
			return nil, fmt.Errorf("agent %s: provider nats needs a nats connection", name)
		}
		gen = NewRemote(deps.Bus, name)
	case config.ProviderStatic:
		gen = Static(cfg.Reply)
	default:
		return nil, fmt.Errorf("agent %s: unknown provider %q", name, cfg.Provider)
	}

	gen = WithTimeout(gen, cfg.Timeout)
	gen = WithRateLimit(gen, cfg.RateLimit)
	gen = WithRetry(gen, name, cfg.Retries)
	return gen, nil
}

func chatOptions(cfg config.AgentConfig, deps Deps) (ChatOptions, error) {
	opts := ChatOptions{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		HTTPClient:  deps.HTTPClient,
	}

	key := cfg.APIKey
	if deps.Secrets != nil {
		resolved, err := deps.Secrets.Resolve(key)
		if err != nil {
			return opts, fmt.Errorf("resolve api_key: %w", err)
		}
		key = resolved
	}

	switch cfg.Provider {
	case config.ProviderOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = DefaultOllamaURL
		}
		if key == "" {
			key = "ollama"
		}
	case config.ProviderOpenAI:
		if opts.BaseURL == "" {
			opts.BaseURL = DefaultOpenAIURL
		}
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return opts, fmt.Errorf("provider openai needs api_key or OPENAI_API_KEY")
		}
	}
	opts.APIKey = key
	return opts, nil
}

// Bind builds one generator per agent in sequence. Every agent must have a
// configuration entry.
func Bind(sequence []string, agents map[string]config.AgentConfig, deps Deps) (map[string]debate.Generator, error) {
	bound := make(map[string]debate.Generator, len(sequence))
	for _, name := range sequence {
		cfg, ok := agents[name]
		if !ok {
			return nil, fmt.Errorf("%w: no backend configured for agent %q", debate.ErrConfig, name)
		}
		gen, err := New(name, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", debate.ErrConfig, err)
		}
		bound[name] = gen
	}
	return bound, nil
}
