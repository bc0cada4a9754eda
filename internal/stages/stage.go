// Package stages holds the pipeline stage runners. A runner turns its inputs
// into at most one local artifact file plus result payloads. It never touches
// the quota ledger or the job record; the job machine does that.
package stages

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/ai"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/media"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var (
	ErrTransient = errors.New("transient stage failure")
	ErrFatal     = errors.New("fatal stage failure")
)

// Error is a classified stage failure. It matches its Kind and the cause
// with errors.Is.
type Error struct {
	Stage models.Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool { return e.Kind == ErrTransient }

func Transient(stage models.Stage, err error) *Error {
	return &Error{Stage: stage, Kind: ErrTransient, Err: err}
}

func Fatal(stage models.Stage, err error) *Error {
	return &Error{Stage: stage, Kind: ErrFatal, Err: err}
}

// Classify wraps err as a stage Error. Errors already classified are
// returned as they are.
func Classify(stage models.Stage, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Fatal(stage, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(stage, err)
	case errors.Is(err, media.ErrMalformedInput):
		return Fatal(stage, err)
	case errors.Is(err, quota.ErrQuotaExceeded):
		return Fatal(stage, err)
	case errors.Is(err, artifact.ErrNotFound):
		return Fatal(stage, fmt.Errorf("missing input artifact: %w", err))
	case !ai.Retryable(err):
		return Fatal(stage, err)
	}
	return Transient(stage, err)
}

// ArtifactReader is the read side of the artifact store a runner may use.
type ArtifactReader interface {
	Open(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (io.ReadCloser, *models.Artifact, error)
}

// Input is what a stage runs against. Job is a snapshot taken when the stage
// started; runners must not mutate it.
type Input struct {
	Job *models.Job
	// Source is a local file path or direct media URL ffmpeg can read.
	// Empty when the job has no extractable media.
	Source    string
	WorkDir   string
	Artifacts ArtifactReader
}

// Output is a stage result. Path is a local file in the work dir holding the
// artifact bytes; it is empty when the stage produces payloads only.
type Output struct {
	Category    models.ArtifactCategory
	Path        string
	Size        int64
	ContentType string

	TranscriptSummary *string
	Report            *models.Document
	Evaluation        *models.Document
	Advice            *string
}

// HasArtifact reports whether the stage produced a blob to store.
func (o *Output) HasArtifact() bool { return o != nil && o.Path != "" }

// Runner executes one pipeline stage.
type Runner interface {
	Stage() models.Stage
	Run(ctx context.Context, in Input) (*Output, error)
}

// Set maps each stage to the runner that executes it.
type Set map[models.Stage]Runner

func NewSet(runners ...Runner) Set {
	s := make(Set, len(runners))
	for _, r := range runners {
		s[r.Stage()] = r
	}
	return s
}

func (s Set) Get(stage models.Stage) (Runner, bool) {
	r, ok := s[stage]
	return r, ok
}
