// Package provider builds the configured AI structurer.
package provider

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/ai/ollama"
	"github.com/teranos/tally/ai/openrouter"
	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
)

// Provider names a generation backend
type Provider string

const (
	ProviderOllama     Provider = "ollama"
	ProviderOpenRouter Provider = "openrouter"
)

// ParseProvider converts a config string to a Provider
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama", "local", "":
		return ProviderOllama, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	default:
		return "", errors.Newf("unknown AI provider: %s (valid: ollama, openrouter)", s)
	}
}

// Structurer bundles the structuring client with its rate limiter so the
// limit can be changed on config reload.
type Structurer struct {
	*ai.Client
	Limiter *ai.RateLimited
}

// NewGenerator builds the configured backend without rate limiting
func NewGenerator(cfg *am.Config, log *zap.SugaredLogger) (ai.Generator, error) {
	p, err := ParseProvider(cfg.AI.Provider)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	temperature := cfg.AI.Temperature

	switch p {
	case ProviderOpenRouter:
		if cfg.AI.OpenRouter.APIKey == "" {
			return nil, errors.WithHint(
				errors.New("openrouter provider selected without an API key"),
				"set ai.openrouter.api_key or OPENROUTER_API_KEY")
		}
		maxTokens := cfg.AI.MaxTokens
		return openrouter.NewClient(openrouter.Config{
			APIKey:      cfg.AI.OpenRouter.APIKey,
			BaseURL:     cfg.AI.OpenRouter.BaseURL,
			Model:       cfg.AI.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			Timeout:     timeout,
			Logger:      log,
		}), nil
	default:
		return ollama.NewClient(ollama.Config{
			Host:        cfg.AI.Ollama.Host,
			Model:       cfg.AI.Model,
			Temperature: &temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     timeout,
			Logger:      log,
		}), nil
	}
}

// New builds the rate-limited structurer for cfg
func New(cfg *am.Config, log *zap.SugaredLogger) (*Structurer, error) {
	gen, err := NewGenerator(cfg, log)
	if err != nil {
		return nil, err
	}
	limited := ai.NewRateLimited(gen, cfg.AI.RequestsPerMinute)
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	return &Structurer{
		Client:  ai.NewClient(limited, timeout, log),
		Limiter: limited,
	}, nil
}
