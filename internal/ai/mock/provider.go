package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing and for AI_PROVIDER=mock.
type MockProvider struct {
	Name_              string
	TranscribeFunc     func(ctx context.Context, audio models.AudioInput) (string, error)
	SummarizeFunc      func(ctx context.Context, transcript string) (string, error)
	GenerateReportFunc func(ctx context.Context, in models.LessonInput) (json.RawMessage, error)
	EvaluateFunc       func(ctx context.Context, in models.LessonInput) (models.Evaluation, error)
	GenerateCoverFunc  func(ctx context.Context, in models.CoverInput) ([]byte, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how many times method was invoked.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockProvider) Transcribe(ctx context.Context, audio models.AudioInput) (string, error) {
	m.record("Transcribe")
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio)
	}
	return "", nil
}

func (m *MockProvider) Summarize(ctx context.Context, transcript string) (string, error) {
	m.record("Summarize")
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, transcript)
	}
	return "", nil
}

func (m *MockProvider) GenerateReport(ctx context.Context, in models.LessonInput) (json.RawMessage, error) {
	m.record("GenerateReport")
	if m.GenerateReportFunc != nil {
		return m.GenerateReportFunc(ctx, in)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockProvider) Evaluate(ctx context.Context, in models.LessonInput) (models.Evaluation, error) {
	m.record("Evaluate")
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, in)
	}
	return models.Evaluation{Result: json.RawMessage(`{}`)}, nil
}

func (m *MockProvider) GenerateCover(ctx context.Context, in models.CoverInput) ([]byte, error) {
	m.record("GenerateCover")
	if m.GenerateCoverFunc != nil {
		return m.GenerateCoverFunc(ctx, in)
	}
	return nil, ai.ErrUnsupported
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		TranscribeFunc: func(_ context.Context, audio models.AudioInput) (string, error) {
			return fmt.Sprintf("Mock transcript of %d audio bytes. Teacher greets the class and introduces fractions.", len(audio.Data)), nil
		},
		SummarizeFunc: func(_ context.Context, _ string) (string, error) {
			return "Mock summary: the teacher introduced fractions with group work.", nil
		},
		GenerateReportFunc: func(_ context.Context, in models.LessonInput) (json.RawMessage, error) {
			body := map[string]any{
				"overview":     "Mock lesson report",
				"strengths":    []string{"Clear objective"},
				"improvements": []string{"More wait time after questions"},
				"framesSeen":   len(in.Frames),
			}
			return json.Marshal(body)
		},
		EvaluateFunc: func(_ context.Context, in models.LessonInput) (models.Evaluation, error) {
			scores := map[string]int{}
			for _, code := range in.IndicatorCodes {
				scores[code] = 3
			}
			result, err := json.Marshal(map[string]any{"scores": scores, "overall": 3})
			if err != nil {
				return models.Evaluation{}, err
			}
			return models.Evaluation{Result: result, Advice: "Mock advice: check understanding before moving on."}, nil
		},
		GenerateCoverFunc: func(_ context.Context, _ models.CoverInput) ([]byte, error) {
			return tinyPNG, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	p := &MockProvider{Name_: "mock-failing"}
	p.TranscribeFunc = func(context.Context, models.AudioInput) (string, error) {
		return "", err
	}
	p.SummarizeFunc = func(context.Context, string) (string, error) {
		return "", err
	}
	p.GenerateReportFunc = func(context.Context, models.LessonInput) (json.RawMessage, error) {
		return nil, err
	}
	p.EvaluateFunc = func(context.Context, models.LessonInput) (models.Evaluation, error) {
		return models.Evaluation{}, err
	}
	p.GenerateCoverFunc = func(context.Context, models.CoverInput) ([]byte, error) {
		return nil, err
	}
	return p
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	wait := func(ctx context.Context) error {
		<-ctx.Done()
		return ai.ErrInferenceTimeout
	}
	p := &MockProvider{Name_: "mock-timeout"}
	p.TranscribeFunc = func(ctx context.Context, _ models.AudioInput) (string, error) {
		return "", wait(ctx)
	}
	p.SummarizeFunc = func(ctx context.Context, _ string) (string, error) {
		return "", wait(ctx)
	}
	p.GenerateReportFunc = func(ctx context.Context, _ models.LessonInput) (json.RawMessage, error) {
		return nil, wait(ctx)
	}
	p.EvaluateFunc = func(ctx context.Context, _ models.LessonInput) (models.Evaluation, error) {
		return models.Evaluation{}, wait(ctx)
	}
	p.GenerateCoverFunc = func(ctx context.Context, _ models.CoverInput) ([]byte, error) {
		return nil, wait(ctx)
	}
	return p
}

// Placeholder PNG returned as the mock cover.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
