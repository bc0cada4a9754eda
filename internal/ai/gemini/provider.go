// Package gemini implements models.AIProvider on Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const transcribePrompt = `Transcribe this classroom recording verbatim in its original language.
Return only the transcript text.`

// Provider implements models.AIProvider using Gemini. Gemini has no image
// generation here, so GenerateCover reports ai.ErrUnsupported.
type Provider struct {
	client    *genai.Client
	textModel *genai.GenerativeModel
	jsonModel *genai.GenerativeModel
}

func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash-latest"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	jsonModel := client.GenerativeModel(model)
	var jsonCfg genai.GenerationConfig
	jsonCfg.ResponseMIMEType = "application/json"
	jsonModel.GenerationConfig = jsonCfg

	return &Provider{
		client:    client,
		textModel: client.GenerativeModel(model),
		jsonModel: jsonModel,
	}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) Transcribe(ctx context.Context, audio models.AudioInput) (string, error) {
	out, err := generate(ctx, p.textModel, genai.Text(transcribePrompt), genai.Blob{MIMEType: "audio/wav", Data: audio.Data})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *Provider) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := generate(ctx, p.textModel, genai.Text(ai.SummarySystemPrompt), genai.Text(transcript))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *Provider) GenerateReport(ctx context.Context, in models.LessonInput) (json.RawMessage, error) {
	out, err := generate(ctx, p.jsonModel, lessonParts(ai.ReportSystemPrompt, in)...)
	if err != nil {
		return nil, err
	}
	return ai.CleanJSON(out)
}

func (p *Provider) Evaluate(ctx context.Context, in models.LessonInput) (models.Evaluation, error) {
	out, err := generate(ctx, p.jsonModel, lessonParts(ai.EvaluationSystemPrompt, in)...)
	if err != nil {
		return models.Evaluation{}, err
	}
	result, advice, err := ai.ParseEvaluation(out)
	if err != nil {
		return models.Evaluation{}, err
	}
	return models.Evaluation{Result: result, Advice: advice}, nil
}

func (p *Provider) GenerateCover(context.Context, models.CoverInput) ([]byte, error) {
	return nil, fmt.Errorf("%w: gemini cover generation", ai.ErrUnsupported)
}

func lessonParts(system string, in models.LessonInput) []genai.Part {
	parts := []genai.Part{genai.Text(system), genai.Text(ai.LessonPrompt(in))}
	for _, f := range in.Frames {
		parts = append(parts, genai.ImageData("jpeg", f.Data))
	}
	return parts
}

func generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ai.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate (finish reason %s)", ai.ErrInvalidResponse, cand.FinishReason.String())
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: no text in response", ai.ErrInvalidResponse)
	}
	return b.String(), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: gemini: %v", ai.ErrInferenceTimeout, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if s := ai.ClassifyStatus(gErr.Code); s != nil {
			return fmt.Errorf("%w: gemini: %v", s, err)
		}
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) {
		if s := ai.ClassifyStatus(coded.HTTPCode()); s != nil {
			return fmt.Errorf("%w: gemini: %v", s, err)
		}
	}
	return fmt.Errorf("%w: gemini: %v", ai.ErrProviderUnavailable, err)
}

var _ models.AIProvider = (*Provider)(nil)
