// Package provider builds the configured models.AIProvider.
package provider

import (
	"context"
	"fmt"

	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/ai/gemini"
	"github.com/sooksun/teachermon-sub002/internal/ai/mock"
	"github.com/sooksun/teachermon-sub002/internal/ai/ollama"
	"github.com/sooksun/teachermon-sub002/internal/ai/openai"
	"github.com/sooksun/teachermon-sub002/internal/ai/vllm"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// New constructs the AI provider selected by cfg.Provider, wrapped with the
// per-call inference timeout. Called once at server startup.
func New(ctx context.Context, cfg config.AIConfig) (models.AIProvider, error) {
	var (
		p   models.AIProvider
		err error
	)
	switch cfg.Provider {
	case "mock":
		p = mock.NewMockProvider()
	case "ollama":
		p = ollama.NewProvider(cfg.Ollama)
	case "vllm":
		p = vllm.NewProvider(cfg.VLLM)
	case "openai":
		p = openai.NewProvider(cfg.OpenAI)
	case "gemini":
		p, err = gemini.NewProvider(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of mock, ollama, vllm, openai, gemini", cfg.Provider)
	}
	return ai.WithTimeout(p, cfg.InferenceTimeout), nil
}
