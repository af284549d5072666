package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/am"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"", ProviderOllama, false},
		{"Ollama", ProviderOllama, false},
		{"local", ProviderOllama, false},
		{"openrouter", ProviderOpenRouter, false},
		{"anthropic", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNew(t *testing.T) {
	t.Run("ollama default", func(t *testing.T) {
		cfg := &am.Config{AI: am.AIConfig{Model: "mistral", TimeoutSeconds: 120, RequestsPerMinute: 30}}
		s, err := New(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "ollama", s.Provider())
		assert.Equal(t, "mistral", s.Model())
		assert.InDelta(t, 30, s.Limiter.Limit(), 0.001)
	})

	t.Run("openrouter needs a key", func(t *testing.T) {
		cfg := &am.Config{AI: am.AIConfig{Provider: "openrouter"}}
		_, err := New(cfg, nil)
		require.Error(t, err)

		cfg.AI.OpenRouter.APIKey = "k"
		s, err := New(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "openrouter", s.Provider())
		assert.Equal(t, 0.0, s.Limiter.Limit())
	})
}
