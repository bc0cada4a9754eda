package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/media"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// ReportGenerator asks the AI provider for the lesson report. The report is
// stored as the REPORT artifact and as the job's analysisReport document.
type ReportGenerator struct {
	AI models.AIProvider
	// MaxFrames bounds how many frames are sent with the prompt.
	MaxFrames int
}

func (r *ReportGenerator) Stage() models.Stage { return models.StageReport }

func (r *ReportGenerator) Run(ctx context.Context, in Input) (*Output, error) {
	lesson, err := lessonInput(ctx, in, r.MaxFrames)
	if err != nil {
		return nil, Classify(models.StageReport, err)
	}
	body, err := r.AI.GenerateReport(ctx, lesson)
	if err != nil {
		return nil, Classify(models.StageReport, err)
	}
	doc, err := models.NewDocument(body)
	if err != nil {
		return nil, Transient(models.StageReport, fmt.Errorf("%w: %v", ai.ErrInvalidResponse, err))
	}

	dst := filepath.Join(in.WorkDir, "report.json")
	if err := os.WriteFile(dst, doc.Body, 0o640); err != nil {
		return nil, Transient(models.StageReport, fmt.Errorf("write report: %w", err))
	}
	return &Output{
		Category:    models.CategoryReport,
		Path:        dst,
		Size:        int64(doc.Size()),
		ContentType: "application/json",
		Report:      doc,
	}, nil
}

// Evaluator scores the lesson against its indicator codes. It produces
// payloads only.
type Evaluator struct {
	AI        models.AIProvider
	MaxFrames int
}

func (e *Evaluator) Stage() models.Stage { return models.StageEvaluation }

func (e *Evaluator) Run(ctx context.Context, in Input) (*Output, error) {
	lesson, err := lessonInput(ctx, in, e.MaxFrames)
	if err != nil {
		return nil, Classify(models.StageEvaluation, err)
	}
	ev, err := e.AI.Evaluate(ctx, lesson)
	if err != nil {
		return nil, Classify(models.StageEvaluation, err)
	}
	doc, err := models.NewDocument(ev.Result)
	if err != nil {
		return nil, Transient(models.StageEvaluation, fmt.Errorf("%w: %v", ai.ErrInvalidResponse, err))
	}
	out := &Output{Evaluation: doc}
	if ev.Advice != "" {
		advice := ev.Advice
		out.Advice = &advice
	}
	return out, nil
}

// CoverGenerator produces the COVER image. Providers without image
// generation fall back to the first extracted frame.
type CoverGenerator struct {
	AI models.AIProvider
}

func (c *CoverGenerator) Stage() models.Stage { return models.StageCover }

func (c *CoverGenerator) Run(ctx context.Context, in Input) (*Output, error) {
	frames, err := readFrames(ctx, in, 1)
	if err != nil {
		return nil, Classify(models.StageCover, err)
	}
	var key *models.Frame
	if len(frames) > 0 {
		key = &frames[0]
	}

	img, err := c.AI.GenerateCover(ctx, models.CoverInput{Title: title(in.Job), KeyFrame: key})
	if errors.Is(err, ai.ErrUnsupported) {
		if key == nil {
			return nil, Fatal(models.StageCover, errors.New("no frame available for cover"))
		}
		img, err = key.Data, nil
	}
	if err != nil {
		return nil, Classify(models.StageCover, err)
	}
	if len(img) == 0 {
		return nil, Transient(models.StageCover, fmt.Errorf("%w: empty cover image", ai.ErrInvalidResponse))
	}

	dst := filepath.Join(in.WorkDir, "cover.img")
	if err := os.WriteFile(dst, img, 0o640); err != nil {
		return nil, Transient(models.StageCover, fmt.Errorf("write cover: %w", err))
	}
	return &Output{
		Category:    models.CategoryCover,
		Path:        dst,
		Size:        int64(len(img)),
		ContentType: http.DetectContentType(img),
	}, nil
}

// readFrames loads up to limit frames from the job's FRAMES artifact. A job
// without frames yields none.
func readFrames(ctx context.Context, in Input, limit int) ([]models.Frame, error) {
	if !in.Job.HasFrames {
		return nil, nil
	}
	rc, _, err := in.Artifacts.Open(ctx, in.Job.ID, models.CategoryFrames)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read frame archive: %w", err)
	}
	return media.UnpackFrames(data, limit)
}

func lessonInput(ctx context.Context, in Input, maxFrames int) (models.LessonInput, error) {
	frames, err := readFrames(ctx, in, maxFrames)
	if err != nil {
		return models.LessonInput{}, err
	}
	job := in.Job
	lesson := models.LessonInput{
		Title:          title(job),
		EvidenceType:   job.EvidenceType,
		IndicatorCodes: job.IndicatorCodes,
		Frames:         frames,
	}
	if job.VideoDescription != nil {
		lesson.Description = *job.VideoDescription
	}
	if job.TranscriptSummary != nil {
		lesson.TranscriptSummary = *job.TranscriptSummary
	}
	return lesson, nil
}

func title(job *models.Job) string {
	switch {
	case job.VideoTitle != nil:
		return *job.VideoTitle
	case job.OriginalFilename != nil:
		return *job.OriginalFilename
	}
	return ""
}
