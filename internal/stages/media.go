package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sooksun/teachermon-sub002/internal/media"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var errNoSource = errors.New("job has no extractable media source")

// TranscriptExtractor pulls the audio track, transcribes it and summarizes
// the transcript. It produces the AUDIO artifact.
type TranscriptExtractor struct {
	Media media.Extractor
	AI    models.AIProvider
}

func (t *TranscriptExtractor) Stage() models.Stage { return models.StageTranscript }

func (t *TranscriptExtractor) Run(ctx context.Context, in Input) (*Output, error) {
	if in.Source == "" {
		return nil, Fatal(models.StageTranscript, errNoSource)
	}
	dst := filepath.Join(in.WorkDir, "audio.wav")
	if err := t.Media.ExtractAudio(ctx, in.Source, dst); err != nil {
		return nil, Classify(models.StageTranscript, err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, Transient(models.StageTranscript, fmt.Errorf("read audio: %w", err))
	}

	transcript, err := t.AI.Transcribe(ctx, models.AudioInput{Filename: "audio.wav", Data: data})
	if err != nil {
		return nil, Classify(models.StageTranscript, err)
	}
	summary, err := t.AI.Summarize(ctx, transcript)
	if err != nil {
		return nil, Classify(models.StageTranscript, err)
	}

	return &Output{
		Category:          models.CategoryAudio,
		Path:              dst,
		Size:              int64(len(data)),
		ContentType:       "audio/wav",
		TranscriptSummary: &summary,
	}, nil
}

// FrameExtractor samples still frames and packs them into the FRAMES archive.
type FrameExtractor struct {
	Media media.Extractor
}

func (f *FrameExtractor) Stage() models.Stage { return models.StageFrames }

func (f *FrameExtractor) Run(ctx context.Context, in Input) (*Output, error) {
	if in.Source == "" {
		return nil, Fatal(models.StageFrames, errNoSource)
	}
	dst := filepath.Join(in.WorkDir, "frames.zip")
	if _, err := f.Media.ExtractFrames(ctx, in.Source, dst); err != nil {
		return nil, Classify(models.StageFrames, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, Transient(models.StageFrames, fmt.Errorf("stat frame archive: %w", err))
	}
	return &Output{
		Category:    models.CategoryFrames,
		Path:        dst,
		Size:        info.Size(),
		ContentType: "application/zip",
	}, nil
}
