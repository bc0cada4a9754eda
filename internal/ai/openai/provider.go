// Package openai implements models.AIProvider on the OpenAI API. The same
// client serves any OpenAI-compatible server (Ollama, vLLM) via BaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const maxTokens = 2048

// Options configures a Provider. Empty TranscriptionModel or ImageModel
// disables that capability.
type Options struct {
	Name               string
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
	ImageModel         string
	// Vision sends lesson frames as image parts.
	Vision bool
}

// Provider implements models.AIProvider using the OpenAI chat, audio and
// image endpoints.
type Provider struct {
	client *goopenai.Client
	opts   Options
}

func New(opts Options) *Provider {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Name == "" {
		opts.Name = "openai"
	}
	return &Provider{client: goopenai.NewClientWithConfig(cfg), opts: opts}
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return New(Options{
		Name:               "openai",
		APIKey:             cfg.APIKey,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		ImageModel:         cfg.ImageModel,
		Vision:             true,
	})
}

func (p *Provider) Name() string { return p.opts.Name }

func (p *Provider) Transcribe(ctx context.Context, audio models.AudioInput) (string, error) {
	if p.opts.TranscriptionModel == "" {
		return "", fmt.Errorf("%w: %s has no transcription model", ai.ErrUnsupported, p.opts.Name)
	}
	name := audio.Filename
	if name == "" {
		name = "audio.wav"
	}
	resp, err := p.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    p.opts.TranscriptionModel,
		FilePath: name,
		Reader:   bytes.NewReader(audio.Data),
		Format:   goopenai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", classify(ctx, "transcription", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ai.ErrInvalidResponse)
	}
	return text, nil
}

func (p *Provider) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := p.chat(ctx, false, ai.SummarySystemPrompt, []goopenai.ChatMessagePart{
		{Type: goopenai.ChatMessagePartTypeText, Text: transcript},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *Provider) GenerateReport(ctx context.Context, in models.LessonInput) (json.RawMessage, error) {
	out, err := p.chat(ctx, true, ai.ReportSystemPrompt, p.lessonParts(in))
	if err != nil {
		return nil, err
	}
	return ai.CleanJSON(out)
}

func (p *Provider) Evaluate(ctx context.Context, in models.LessonInput) (models.Evaluation, error) {
	out, err := p.chat(ctx, true, ai.EvaluationSystemPrompt, p.lessonParts(in))
	if err != nil {
		return models.Evaluation{}, err
	}
	result, advice, err := ai.ParseEvaluation(out)
	if err != nil {
		return models.Evaluation{}, err
	}
	return models.Evaluation{Result: result, Advice: advice}, nil
}

func (p *Provider) GenerateCover(ctx context.Context, in models.CoverInput) ([]byte, error) {
	if p.opts.ImageModel == "" {
		return nil, fmt.Errorf("%w: %s has no image model", ai.ErrUnsupported, p.opts.Name)
	}
	resp, err := p.client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         ai.CoverPrompt(in),
		Model:          p.opts.ImageModel,
		N:              1,
		Size:           goopenai.CreateImageSize1024x1024,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, classify(ctx, "image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: no image returned", ai.ErrInvalidResponse)
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ai.ErrInvalidResponse, err)
	}
	return img, nil
}

func (p *Provider) lessonParts(in models.LessonInput) []goopenai.ChatMessagePart {
	parts := []goopenai.ChatMessagePart{{Type: goopenai.ChatMessagePartTypeText, Text: ai.LessonPrompt(in)}}
	if !p.opts.Vision {
		return parts
	}
	for _, f := range in.Frames {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.Data),
				Detail: goopenai.ImageURLDetailLow,
			},
		})
	}
	return parts
}

func (p *Provider) chat(ctx context.Context, jsonOut bool, system string, parts []goopenai.ChatMessagePart) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: p.opts.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	if jsonOut {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	// Reasoning models take MaxCompletionTokens instead of MaxTokens.
	if strings.HasPrefix(p.opts.Model, "o1") || strings.HasPrefix(p.opts.Model, "o3") ||
		strings.HasPrefix(p.opts.Model, "o4") || strings.HasPrefix(p.opts.Model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, "chat completion", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty chat completion", ai.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ai.ErrInferenceTimeout, op, err)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if s := ai.ClassifyStatus(apiErr.HTTPStatusCode); s != nil {
			return fmt.Errorf("%w: %s: %v", s, op, err)
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if s := ai.ClassifyStatus(reqErr.HTTPStatusCode); s != nil {
			return fmt.Errorf("%w: %s: %v", s, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ai.ErrProviderUnavailable, op, err)
}

var _ models.AIProvider = (*Provider)(nil)
