package models

import (
	"context"
	"encoding/json"
)

// AIProvider is the core interface that all AI integrations must implement.
// Stage runners depend on this interface, never on a concrete provider.
type AIProvider interface {
	// Transcribe converts extracted audio into text.
	Transcribe(ctx context.Context, audio AudioInput) (string, error)
	// Summarize condenses a transcript into a short plain-language summary.
	Summarize(ctx context.Context, transcript string) (string, error)
	// GenerateReport produces the classroom analysis report as JSON.
	GenerateReport(ctx context.Context, in LessonInput) (json.RawMessage, error)
	// Evaluate scores the lesson against the indicator codes and gives advice.
	Evaluate(ctx context.Context, in LessonInput) (Evaluation, error)
	// GenerateCover produces a cover image (PNG or JPEG bytes).
	GenerateCover(ctx context.Context, in CoverInput) ([]byte, error)
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string
}

type AudioInput struct {
	Filename string
	Data     []byte
}

// Frame is one still image extracted from the lesson video.
type Frame struct {
	Name string
	Data []byte
}

// LessonInput is everything the report and evaluation prompts see.
type LessonInput struct {
	Title             string
	Description       string
	EvidenceType      string
	IndicatorCodes    []string
	TranscriptSummary string
	Frames            []Frame
}

type Evaluation struct {
	Result json.RawMessage
	Advice string
}

type CoverInput struct {
	Title    string
	KeyFrame *Frame
}
