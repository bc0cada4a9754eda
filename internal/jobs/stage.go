package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/stages"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var errStageDone = errors.New("stage already recorded")

// RunStage runs one stage of a PROCESSING job with retries. Transient
// failures back off and retry up to the policy bound; a fatal or exhausted
// failure fails the job and is returned. A stage whose results are already
// on the job is skipped.
func (m *Machine) RunStage(ctx context.Context, jobID uuid.UUID, stage models.Stage, source string) error {
	runner, ok := m.runners.Get(stage)
	if !ok {
		return m.failStage(ctx, jobID, stages.Fatal(stage, errors.New("no runner registered")))
	}
	log := m.logger.With("job_id", jobID, "stage", stage)

	storageFailures := 0
	for attempt := 0; ; attempt++ {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := expectStatus(job, models.JobStatusProcessing); err != nil {
			return err
		}
		if StageDone(job, stage) {
			return nil
		}

		err = m.attempt(ctx, job, runner, source)
		if err == nil {
			log.Info("stage completed", "attempt", attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			return err
		}

		se := stages.Classify(stage, err)
		retry := se.Retryable() && attempt < m.policy.MaxRetries
		if errors.Is(se, artifact.ErrStorage) {
			storageFailures++
			if storageFailures > storageRetries {
				se = stages.Fatal(stage, se.Err)
				retry = false
			}
		}
		if !retry {
			log.Error("stage failed", "attempt", attempt+1, "error", se)
			return m.failStage(ctx, jobID, se)
		}

		wait := m.policy.Backoff(attempt)
		log.Warn("stage attempt failed, retrying", "attempt", attempt+1, "backoff", wait, "error", err)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (m *Machine) failStage(ctx context.Context, jobID uuid.UUID, se *stages.Error) error {
	if _, err := m.Fail(ctx, jobID, se.Error()); err != nil && !errors.Is(err, ErrTerminal) {
		return fmt.Errorf("%w (also failed to record failure: %v)", se, err)
	}
	return se
}

func (m *Machine) attempt(ctx context.Context, job *models.Job, runner stages.Runner, source string) error {
	workDir, err := os.MkdirTemp(m.spoolDir, "stage-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.policy.StageTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, m.policy.StageTimeout)
	}
	defer cancel()

	out, err := runner.Run(runCtx, stages.Input{
		Job:       job,
		Source:    source,
		WorkDir:   workDir,
		Artifacts: m.artifacts,
	})
	if err != nil {
		return err
	}
	return m.apply(runCtx, job, runner.Stage(), out)
}

// apply reserves, stores and commits the stage artifact, then records the
// results on the job. Flags and byte fields are set only after the commit.
func (m *Machine) apply(ctx context.Context, job *models.Job, stage models.Stage, out *stages.Output) error {
	if out == nil {
		out = &stages.Output{}
	}

	var reservation *models.Reservation
	stored := false
	if out.HasArtifact() {
		if out.Category.Billable() {
			res, err := m.ledger.Reserve(ctx, job.TeacherID, job.ID, out.Category, out.Size)
			if err != nil {
				return err
			}
			reservation = res
		}
		if err := m.putFile(ctx, job.ID, out); err != nil {
			if reservation != nil {
				m.release(ctx, reservation.ID)
			}
			return err
		}
		stored = true
		if reservation != nil {
			if err := m.ledger.Commit(ctx, reservation.ID); err != nil {
				m.release(ctx, reservation.ID)
				m.discard(ctx, job.ID, out.Category)
				return err
			}
		}
	}

	_, err := m.mutate(ctx, job.ID, func(j *models.Job) error {
		if err := expectStatus(j, models.JobStatusProcessing); err != nil {
			return err
		}
		if StageDone(j, stage) {
			return errStageDone
		}
		record(j, stage, out)
		return nil
	})
	if err == nil {
		return nil
	}

	if reservation != nil {
		m.reclaim(ctx, job.TeacherID, out.Size)
	}
	if stored {
		m.discard(ctx, job.ID, out.Category)
	}
	if errors.Is(err, errStageDone) {
		return nil
	}
	return err
}

func (m *Machine) putFile(ctx context.Context, jobID uuid.UUID, out *stages.Output) error {
	f, err := os.Open(out.Path)
	if err != nil {
		return fmt.Errorf("open stage output: %w", err)
	}
	defer f.Close()
	_, err = m.artifacts.Put(ctx, jobID, out.Category, f, out.Size, out.ContentType)
	return err
}

// record writes stage results onto the job. Payloads are write-once.
func record(j *models.Job, stage models.Stage, out *stages.Output) {
	switch out.Category {
	case models.CategoryAudio:
		j.AudioBytes = out.Size
	case models.CategoryFrames:
		j.FramesBytes = out.Size
	}

	switch stage {
	case models.StageTranscript:
		j.HasTranscript = true
		if j.TranscriptSummary == nil {
			j.TranscriptSummary = out.TranscriptSummary
		}
	case models.StageFrames:
		j.HasFrames = true
	case models.StageReport:
		j.HasReport = true
		if j.AnalysisReport == nil {
			j.AnalysisReport = out.Report
		}
	case models.StageCover:
		j.HasCover = true
	case models.StageEvaluation:
		if j.EvaluationResult == nil {
			j.EvaluationResult = out.Evaluation
		}
		if j.AIAdvice == nil {
			j.AIAdvice = out.Advice
		}
	}
}
