// Package jobs owns the AnalysisJob lifecycle. The Machine performs every
// status, byte and quota mutation; the Scheduler decides when stages run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/cache"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/internal/stages"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const (
	maxCASAttempts   = 5
	defaultStatusTTL = 24 * time.Hour

	CancelledMessage = "cancelled"
	deletedMessage   = "deleted"
)

// Machine drives jobs through CREATED -> UPLOADING -> PROCESSING -> DONE|FAILED.
// All job writes are compare-and-set on the job version, so concurrent
// stages of one job never lose each other's updates.
type Machine struct {
	store     store.Store
	ledger    quota.Ledger
	artifacts artifact.Store
	runners   stages.Set

	policy    RetryPolicy
	spoolDir  string
	status    cache.Cache
	statusTTL time.Duration
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

type Option func(*Machine)

// WithStatusCache writes each committed status through to c for polling.
func WithStatusCache(c cache.Cache, ttl time.Duration) Option {
	return func(m *Machine) {
		m.status = c
		if ttl > 0 {
			m.statusTTL = ttl
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Machine) { m.policy = p }
}

// WithSpoolDir sets where stage work dirs and downloaded sources live.
func WithSpoolDir(dir string) Option {
	return func(m *Machine) { m.spoolDir = dir }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func NewMachine(st store.Store, ledger quota.Ledger, artifacts artifact.Store, runners stages.Set, opts ...Option) *Machine {
	m := &Machine{
		store:     st,
		ledger:    ledger,
		artifacts: artifacts,
		runners:   runners,
		policy:    RetryPolicy{MaxRetries: 3, BackoffBase: time.Second, BackoffMax: 30 * time.Second, StageTimeout: 10 * time.Minute},
		statusTTL: defaultStatusTTL,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest is a normalized intake from either source.
type CreateRequest struct {
	TeacherID    string
	SubmittedBy  string
	SourceType   models.SourceType
	AnalysisMode models.AnalysisMode

	OriginalFilename string
	DeclaredBytes    int64

	VideoURL         string
	VideoTitle       string
	VideoDescription string
	VideoPlatform    models.Platform

	EvidenceType   string
	IndicatorCodes []string
}

func (r *CreateRequest) validate() error {
	r.TeacherID = strings.TrimSpace(r.TeacherID)
	if r.TeacherID == "" {
		return invalid("teacherId", "is required")
	}
	if r.SubmittedBy == "" {
		r.SubmittedBy = r.TeacherID
	}
	if !r.SourceType.Valid() {
		return invalid("sourceType", fmt.Sprintf("must be %s or %s", models.SourceFileUpload, models.SourceVideoLink))
	}
	if r.AnalysisMode == "" {
		r.AnalysisMode = models.ModeFull
	}
	if !r.AnalysisMode.Valid() {
		return invalid("analysisMode", fmt.Sprintf("must be %s or %s", models.ModeFull, models.ModeLight))
	}
	r.EvidenceType = strings.TrimSpace(r.EvidenceType)
	if r.EvidenceType == "" {
		return invalid("evidenceType", "is required")
	}
	r.IndicatorCodes = normalizeCodes(r.IndicatorCodes)

	switch r.SourceType {
	case models.SourceFileUpload:
		r.OriginalFilename = filepath.Base(strings.TrimSpace(r.OriginalFilename))
		if r.OriginalFilename == "" || r.OriginalFilename == "." || r.OriginalFilename == string(filepath.Separator) {
			return invalid("file", "a file is required")
		}
		if r.DeclaredBytes <= 0 {
			return invalid("declaredSize", "must be greater than zero")
		}
	case models.SourceVideoLink:
		if err := ValidateVideoURL(r.VideoURL); err != nil {
			return err
		}
		r.VideoTitle = strings.TrimSpace(r.VideoTitle)
		if r.VideoTitle == "" {
			return invalid("videoTitle", "is required")
		}
		if r.VideoPlatform == "" {
			r.VideoPlatform = models.PlatformOther
		}
		if !r.VideoPlatform.Valid() {
			return invalid("videoPlatform", fmt.Sprintf("unknown platform %q", r.VideoPlatform))
		}
	}
	return nil
}

// ValidateVideoURL accepts absolute http(s) URLs with a host.
func ValidateVideoURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return invalid("videoUrl", "is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return invalid("videoUrl", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("videoUrl", "must use http or https")
	}
	if u.Host == "" {
		return invalid("videoUrl", "must include a host")
	}
	return nil
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create validates the request and stores a CREATED job. Nothing is written
// when validation fails.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (*models.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := m.now()
	job := &models.Job{
		ID:             uuid.New(),
		TeacherID:      req.TeacherID,
		SubmittedBy:    req.SubmittedBy,
		SourceType:     req.SourceType,
		AnalysisMode:   req.AnalysisMode,
		Status:         models.JobStatusCreated,
		EvidenceType:   req.EvidenceType,
		IndicatorCodes: req.IndicatorCodes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch req.SourceType {
	case models.SourceFileUpload:
		job.OriginalFilename = &req.OriginalFilename
		job.DeclaredBytes = req.DeclaredBytes
	case models.SourceVideoLink:
		u := strings.TrimSpace(req.VideoURL)
		job.VideoURL = &u
		job.VideoTitle = &req.VideoTitle
		job.VideoDescription = optional(strings.TrimSpace(req.VideoDescription))
		job.VideoPlatform = req.VideoPlatform
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	m.publish(ctx, job)
	m.logger.Info("job created", "job_id", job.ID, "teacher_id", job.TeacherID, "source_type", job.SourceType)
	return job.Clone(), nil
}

// BeginUpload reserves the declared raw size and moves the job to UPLOADING.
// On QuotaExceeded the job stays CREATED.
func (m *Machine) BeginUpload(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.SourceType != models.SourceFileUpload {
		return nil, fmt.Errorf("%w: upload on a %s job", ErrInvalidTransition, job.SourceType)
	}
	if err := expectStatus(job, models.JobStatusCreated); err != nil {
		return nil, err
	}

	res, err := m.ledger.Reserve(ctx, job.TeacherID, job.ID, models.CategoryRaw, job.DeclaredBytes)
	if err != nil {
		return nil, err
	}
	updated, err := m.mutate(ctx, jobID, func(j *models.Job) error {
		if err := expectStatus(j, models.JobStatusCreated); err != nil {
			return err
		}
		j.Status = models.JobStatusUploading
		j.UploadReservationID = &res.ID
		return nil
	})
	if err != nil {
		m.release(ctx, res.ID)
		return nil, err
	}
	return updated, nil
}

// CompleteUpload stores the raw artifact and commits its quota. When the
// actual size differs from the declared one, the difference is reserved or
// reclaimed first.
func (m *Machine) CompleteUpload(ctx context.Context, jobID uuid.UUID, r io.Reader, actualBytes int64) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(job, models.JobStatusUploading); err != nil {
		return nil, err
	}
	if job.UploadReservationID == nil {
		return nil, fmt.Errorf("%w: job %s has no upload reservation", ErrInvalidTransition, jobID)
	}
	if actualBytes <= 0 {
		return nil, invalid("file", "upload is empty")
	}

	var extra *models.Reservation
	if delta := actualBytes - job.DeclaredBytes; delta > 0 {
		extra, err = m.ledger.Reserve(ctx, job.TeacherID, job.ID, models.CategoryRaw, delta)
		if err != nil {
			return nil, err
		}
	}
	releaseExtra := func() {
		if extra != nil {
			m.release(ctx, extra.ID)
		}
	}

	if _, err := m.artifacts.Put(ctx, job.ID, models.CategoryRaw, r, actualBytes, ""); err != nil {
		releaseExtra()
		return nil, err
	}
	if err := m.ledger.Commit(ctx, *job.UploadReservationID); err != nil {
		releaseExtra()
		m.discard(ctx, job.ID, models.CategoryRaw)
		if errors.Is(err, quota.ErrReservationReleased) {
			return nil, fmt.Errorf("%w: upload reservation was released", ErrTerminal)
		}
		return nil, err
	}
	if extra != nil {
		if err := m.ledger.Commit(ctx, extra.ID); err != nil {
			releaseExtra()
			m.reclaim(ctx, job.TeacherID, job.DeclaredBytes)
			m.discard(ctx, job.ID, models.CategoryRaw)
			return nil, err
		}
	}
	if surplus := job.DeclaredBytes - actualBytes; surplus > 0 {
		m.reclaim(ctx, job.TeacherID, surplus)
	}

	updated, err := m.mutate(ctx, jobID, func(j *models.Job) error {
		if err := expectStatus(j, models.JobStatusUploading); err != nil {
			return err
		}
		now := m.now()
		j.RawBytes = actualBytes
		j.UploadedAt = &now
		j.Status = models.JobStatusProcessing
		j.UploadReservationID = nil
		return nil
	})
	if err != nil {
		// Cancelled or deleted while the bytes landed.
		m.reclaim(ctx, job.TeacherID, actualBytes)
		m.discard(ctx, job.ID, models.CategoryRaw)
		return nil, err
	}
	m.logger.Info("upload completed", "job_id", jobID, "teacher_id", job.TeacherID, "bytes", actualBytes)
	return updated, nil
}

// MarkLinkReady starts processing a validated VIDEO_LINK job.
func (m *Machine) MarkLinkReady(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return m.mutate(ctx, jobID, func(j *models.Job) error {
		if j.SourceType != models.SourceVideoLink {
			return fmt.Errorf("%w: link ready on a %s job", ErrInvalidTransition, j.SourceType)
		}
		if err := expectStatus(j, models.JobStatusCreated); err != nil {
			return err
		}
		j.Status = models.JobStatusProcessing
		return nil
	})
}

// Complete moves a job to DONE once every stage of its plan has finished.
func (m *Machine) Complete(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.mutate(ctx, jobID, func(j *models.Job) error {
		if err := expectStatus(j, models.JobStatusProcessing); err != nil {
			return err
		}
		for _, s := range Plan(j) {
			if !StageDone(j, s) {
				return fmt.Errorf("%w: stage %s has not completed", ErrInvalidTransition, s)
			}
		}
		now := m.now()
		j.Status = models.JobStatusDone
		j.DoneAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("job done", "job_id", jobID, "teacher_id", job.TeacherID, "total_bytes", job.TotalBytes())
	return job, nil
}

// Fail moves a live job to FAILED with reason and releases any pending
// upload reservation. Committed artifacts stay.
func (m *Machine) Fail(ctx context.Context, jobID uuid.UUID, reason string) (*models.Job, error) {
	return m.fail(ctx, jobID, reason, nil)
}

// Cancel fails an UPLOADING or PROCESSING job with "cancelled".
func (m *Machine) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return m.fail(ctx, jobID, CancelledMessage, func(j *models.Job) error {
		if j.Status == models.JobStatusUploading || j.Status == models.JobStatusProcessing {
			return nil
		}
		return fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidTransition, j.Status)
	})
}

func (m *Machine) fail(ctx context.Context, jobID uuid.UUID, reason string, check func(*models.Job) error) (*models.Job, error) {
	var pending *uuid.UUID
	job, err := m.mutate(ctx, jobID, func(j *models.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: job is %s", ErrTerminal, j.Status)
		}
		if check != nil {
			if err := check(j); err != nil {
				return err
			}
		}
		now := m.now()
		msg := reason
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &msg
		j.DoneAt = &now
		pending = j.UploadReservationID
		j.UploadReservationID = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pending != nil {
		m.release(ctx, *pending)
	}
	m.logger.Warn("job failed", "job_id", jobID, "teacher_id", job.TeacherID, "reason", reason)
	return job, nil
}

// Delete removes a job with its artifacts and returns its committed bytes to
// the teacher's quota. A live job is failed first so its byte fields freeze.
func (m *Machine) Delete(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		if _, err := m.fail(ctx, jobID, deletedMessage, nil); err != nil && !errors.Is(err, ErrTerminal) {
			return err
		}
		if job, err = m.store.GetJob(ctx, jobID); err != nil {
			return err
		}
	}

	// Bytes go back to the ledger while the row still exists, and are zeroed
	// on the row so a retried Delete does not reclaim them twice.
	if total := job.TotalBytes(); total > 0 {
		if err := m.ledger.Reclaim(ctx, job.TeacherID, total); err != nil {
			return fmt.Errorf("reclaiming quota: %w", err)
		}
		if _, err := m.mutate(ctx, jobID, func(j *models.Job) error {
			j.RawBytes, j.AudioBytes, j.FramesBytes = 0, 0, 0
			return nil
		}); err != nil {
			return fmt.Errorf("clearing reclaimed bytes: %w", err)
		}
	}
	if err := m.artifacts.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("deleting artifacts: %w", err)
	}
	if err := m.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if m.status != nil {
		if err := m.status.DeleteJobStatus(ctx, jobID); err != nil {
			m.logger.Warn("failed to drop cached job status", "job_id", jobID, "error", err)
		}
	}
	m.logger.Info("job deleted", "job_id", jobID, "teacher_id", job.TeacherID, "bytes", job.TotalBytes())
	return nil
}

// PrepareSource returns something ffmpeg can read for the job: the raw
// artifact on disk, a downloaded copy of it, or a direct media URL. It
// returns "" when the job has no extractable media.
func (m *Machine) PrepareSource(ctx context.Context, job *models.Job) (string, func(), error) {
	noop := func() {}
	if job.SourceType == models.SourceVideoLink {
		if !Extractable(job) || job.VideoURL == nil {
			return "", noop, nil
		}
		return *job.VideoURL, noop, nil
	}
	if local, ok := m.artifacts.(artifact.Local); ok {
		p, err := local.LocalPath(job.ID, models.CategoryRaw)
		return p, noop, err
	}

	rc, _, err := m.artifacts.Open(ctx, job.ID, models.CategoryRaw)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	ext := ""
	if job.OriginalFilename != nil {
		ext = filepath.Ext(*job.OriginalFilename)
	}
	f, err := os.CreateTemp(m.spoolDir, "source-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("create source file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", noop, fmt.Errorf("%w: download source: %w", artifact.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("close source file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// mutate reloads the job, applies fn and writes it back with compare-and-set,
// retrying on a lost race.
func (m *Machine) mutate(ctx context.Context, jobID uuid.UUID, fn func(*models.Job) error) (*models.Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			return nil, err
		}
		job.UpdatedAt = m.now()
		err = m.store.UpdateJob(ctx, job)
		if errors.Is(err, store.ErrConflict) && attempt < maxCASAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating job %s: %w", jobID, err)
		}
		m.publish(ctx, job)
		return job.Clone(), nil
	}
}

func (m *Machine) publish(ctx context.Context, job *models.Job) {
	if m.status == nil {
		return
	}
	if err := m.status.SetJobStatus(ctx, job.ID, cache.JobStatus{
		TeacherID: job.TeacherID,
		Status:    string(job.Status),
		Version:   job.Version,
	}, m.statusTTL); err != nil {
		// An older entry must not outlive this mutation; readers fall back to
		// the store on a miss.
		m.logger.Warn("failed to cache job status", "job_id", job.ID, "error", err)
		if err := m.status.DeleteJobStatus(context.WithoutCancel(ctx), job.ID); err != nil {
			m.logger.Error("failed to drop stale job status", "job_id", job.ID, "error", err)
		}
	}
}

// Compensation steps run even when ctx is already cancelled.

func (m *Machine) release(ctx context.Context, reservationID uuid.UUID) {
	if err := m.ledger.Release(context.WithoutCancel(ctx), reservationID); err != nil {
		m.logger.Error("failed to release reservation", "reservation_id", reservationID, "error", err)
	}
}

func (m *Machine) reclaim(ctx context.Context, teacherID string, bytes int64) {
	if err := m.ledger.Reclaim(context.WithoutCancel(ctx), teacherID, bytes); err != nil {
		m.logger.Error("failed to reclaim quota", "teacher_id", teacherID, "bytes", bytes, "error", err)
	}
}

func (m *Machine) discard(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) {
	err := m.artifacts.Delete(context.WithoutCancel(ctx), jobID, category)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		m.logger.Error("failed to discard artifact", "job_id", jobID, "category", category, "error", err)
	}
}

func expectStatus(job *models.Job, want models.JobStatus) error {
	if job.Status == want {
		return nil
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrTerminal, job.Status)
	}
	return fmt.Errorf("%w: job is %s, want %s", ErrInvalidTransition, job.Status, want)
}
