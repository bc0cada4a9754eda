// Package ollama serves models.AIProvider from a local Ollama server through
// its OpenAI-compatible endpoint.
package ollama

import (
	"github.com/sooksun/teachermon-sub002/internal/ai/openai"
	"github.com/sooksun/teachermon-sub002/internal/config"
)

// NewProvider returns an OpenAI-compatible provider named "ollama". Ollama
// has no audio or image endpoints, so transcription and cover generation
// report ai.ErrUnsupported.
func NewProvider(cfg config.OpenAICompatibleConfig) *openai.Provider {
	return openai.New(openai.Options{
		Name:    "ollama",
		APIKey:  "ollama",
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Vision:  cfg.Vision,
	})
}
