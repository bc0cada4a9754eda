// Package vllm serves models.AIProvider from a vLLM deployment.
package vllm

import (
	"github.com/sooksun/teachermon-sub002/internal/ai/openai"
	"github.com/sooksun/teachermon-sub002/internal/config"
)

// NewProvider returns an OpenAI-compatible provider named "vllm". vLLM
// serves whisper models on the transcription route when one is loaded.
func NewProvider(cfg config.OpenAICompatibleConfig) *openai.Provider {
	return openai.New(openai.Options{
		Name:               "vllm",
		APIKey:             "EMPTY",
		BaseURL:            cfg.BaseURL,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		Vision:             cfg.Vision,
	})
}
