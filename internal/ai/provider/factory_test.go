package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/ai/provider"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_KnownProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AIConfig
	}{
		{"mock", config.AIConfig{Provider: "mock"}},
		{"ollama", config.AIConfig{Provider: "ollama", Ollama: config.OpenAICompatibleConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3"}}},
		{"vllm", config.AIConfig{Provider: "vllm", VLLM: config.OpenAICompatibleConfig{BaseURL: "http://localhost:8000/v1", Model: "mistral-7b"}}},
		{"openai", config.AIConfig{Provider: "openai", OpenAI: config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.InferenceTimeout = time.Minute
			p, err := provider.New(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
		})
	}
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	_, err := provider.New(context.Background(), config.AIConfig{Provider: "gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestNew_Unknown(t *testing.T) {
	_, err := provider.New(context.Background(), config.AIConfig{Provider: "unknown-provider"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNew_Empty(t *testing.T) {
	_, err := provider.New(context.Background(), config.AIConfig{})
	require.Error(t, err)
}
