// Package ingest turns file uploads and video links into analysis jobs. It
// owns the cheap checks done before any bytes are accepted and hands the
// resulting PROCESSING job to the scheduler.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/jobs"
	"github.com/sooksun/teachermon-sub002/internal/linkprobe"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// ErrForbidden means the caller may not submit on behalf of another teacher.
var ErrForbidden = errors.New("not allowed to submit for another teacher")

// Lifecycle is the part of the job machine ingestion drives.
type Lifecycle interface {
	Create(ctx context.Context, req jobs.CreateRequest) (*models.Job, error)
	BeginUpload(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	CompleteUpload(ctx context.Context, jobID uuid.UUID, r io.Reader, actualBytes int64) (*models.Job, error)
	MarkLinkReady(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

type Submitter interface {
	Submit(jobID uuid.UUID) error
}

type QuotaReader interface {
	Snapshot(ctx context.Context, teacherID string) (models.QuotaAccount, error)
}

// Service is the ingestion adapter.
type Service struct {
	jobs      Lifecycle
	queue     Submitter
	quota     QuotaReader
	prober    linkprobe.Prober
	spoolDir  string
	maxUpload int64
	logger    *slog.Logger
}

type Option func(*Service)

// WithProber enables the best-effort reachability check for links.
func WithProber(p linkprobe.Prober) Option {
	return func(s *Service) { s.prober = p }
}

// WithMaxUpload caps upload size. Zero means no cap.
func WithMaxUpload(n int64) Option {
	return func(s *Service) { s.maxUpload = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(lc Lifecycle, queue Submitter, ledger QuotaReader, spoolDir string, opts ...Option) *Service {
	s := &Service{
		jobs:     lc,
		queue:    queue,
		quota:    ledger,
		spoolDir: spoolDir,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evidence is the metadata common to both intake paths.
type Evidence struct {
	AnalysisMode   models.AnalysisMode
	EvidenceType   string
	IndicatorCodes []string
}

type FileUpload struct {
	Caller models.Identity
	// TargetTeacherID lets an admin upload on behalf of a teacher.
	TargetTeacherID string
	Filename        string
	DeclaredBytes   int64
	Body            io.Reader
	Evidence
}

type VideoLink struct {
	Caller          models.Identity
	TargetTeacherID string
	URL             string
	Title           string
	Description     string
	Platform        models.Platform
	Evidence
}

// FromFileUpload checks the declared size against the teacher's remaining
// quota before reading Body, reserves it, spools the stream and completes
// the upload. Any failure after the job is created deletes it again, so a
// caller only ever gets a job id for an accepted upload.
func (s *Service) FromFileUpload(ctx context.Context, in FileUpload) (*models.Job, error) {
	teacherID, err := owner(in.Caller, in.TargetTeacherID)
	if err != nil {
		return nil, err
	}
	if s.maxUpload > 0 && in.DeclaredBytes > s.maxUpload {
		return nil, &jobs.InvalidSourceError{Field: "declaredSize", Reason: fmt.Sprintf("exceeds the %d byte upload limit", s.maxUpload)}
	}
	if err := s.precheck(ctx, teacherID, in.DeclaredBytes); err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, jobs.CreateRequest{
		TeacherID:        teacherID,
		SubmittedBy:      in.Caller.TeacherID,
		SourceType:       models.SourceFileUpload,
		AnalysisMode:     in.AnalysisMode,
		OriginalFilename: in.Filename,
		DeclaredBytes:    in.DeclaredBytes,
		EvidenceType:     in.EvidenceType,
		IndicatorCodes:   in.IndicatorCodes,
	})
	if err != nil {
		return nil, err
	}
	log := s.logger.With("job_id", job.ID, "teacher_id", teacherID)

	if _, err := s.jobs.BeginUpload(ctx, job.ID); err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, err
	}

	path, size, err := s.spool(in.Body)
	if err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, fmt.Errorf("reopening spooled upload: %w", err)
	}
	defer f.Close()

	done, err := s.jobs.CompleteUpload(ctx, job.ID, f, size)
	if err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, err
	}
	job = done
	log.Info("upload accepted", "bytes", size, "declared_bytes", in.DeclaredBytes)

	s.submit(job)
	return job, nil
}

// FromVideoLink validates the link, probes it when a prober is configured
// and starts processing. Raw bytes are never stored for links.
func (s *Service) FromVideoLink(ctx context.Context, in VideoLink) (*models.Job, error) {
	teacherID, err := owner(in.Caller, in.TargetTeacherID)
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateVideoURL(in.URL); err != nil {
		return nil, err
	}
	platform := in.Platform
	if platform == "" {
		platform = InferPlatform(in.URL)
	}
	if err := s.probe(ctx, in.URL); err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, jobs.CreateRequest{
		TeacherID:        teacherID,
		SubmittedBy:      in.Caller.TeacherID,
		SourceType:       models.SourceVideoLink,
		AnalysisMode:     in.AnalysisMode,
		VideoURL:         in.URL,
		VideoTitle:       in.Title,
		VideoDescription: in.Description,
		VideoPlatform:    platform,
		EvidenceType:     in.EvidenceType,
		IndicatorCodes:   in.IndicatorCodes,
	})
	if err != nil {
		return nil, err
	}

	ready, err := s.jobs.MarkLinkReady(ctx, job.ID)
	if err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, err
	}
	job = ready
	s.logger.Info("video link accepted", "job_id", job.ID, "teacher_id", teacherID, "platform", platform)

	s.submit(job)
	return job, nil
}

func owner(caller models.Identity, target string) (string, error) {
	if target == "" || target == caller.TeacherID {
		return caller.TeacherID, nil
	}
	if caller.Role != models.RoleAdmin {
		return "", ErrForbidden
	}
	return target, nil
}

func (s *Service) precheck(ctx context.Context, teacherID string, declared int64) error {
	acct, err := s.quota.Snapshot(ctx, teacherID)
	if err != nil {
		return fmt.Errorf("reading quota: %w", err)
	}
	if declared > acct.RemainingBytes() {
		return &quota.ExceededError{
			TeacherID: teacherID,
			Category:  models.CategoryRaw,
			Requested: declared,
			Usage:     acct.UsageBytes,
			Limit:     acct.LimitBytes,
		}
	}
	return nil
}

// spool copies the upload to a temp file and returns its path and size.
func (s *Service) spool(body io.Reader) (string, int64, error) {
	if body == nil {
		return "", 0, &jobs.InvalidSourceError{Field: "file", Reason: "upload is empty"}
	}
	if err := os.MkdirAll(s.spoolDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating spool dir: %w", err)
	}
	f, err := os.CreateTemp(s.spoolDir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating spool file: %w", err)
	}
	fail := func(err error) (string, int64, error) {
		f.Close()
		os.Remove(f.Name())
		return "", 0, err
	}

	src := body
	if s.maxUpload > 0 {
		src = io.LimitReader(body, s.maxUpload+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return fail(fmt.Errorf("spooling upload: %w", err))
	}
	if n == 0 {
		return fail(&jobs.InvalidSourceError{Field: "file", Reason: "upload is empty"})
	}
	if s.maxUpload > 0 && n > s.maxUpload {
		return fail(&jobs.InvalidSourceError{Field: "file", Reason: fmt.Sprintf("exceeds the %d byte upload limit", s.maxUpload)})
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("closing spool file: %w", err)
	}
	return f.Name(), n, nil
}

// probe rejects only links the server says do not exist.
func (s *Service) probe(ctx context.Context, rawURL string) error {
	if s.prober == nil {
		return nil
	}
	err := s.prober.Probe(ctx, rawURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, linkprobe.ErrGone):
		return &jobs.InvalidSourceError{Field: "videoUrl", Reason: "link does not exist"}
	default:
		s.logger.Warn("video link probe inconclusive", "error", err)
		return nil
	}
}

// submit queues the job. A full queue is not a submission failure: the job
// is PROCESSING and the sweeper resumes it.
func (s *Service) submit(job *models.Job) {
	if err := s.queue.Submit(job.ID); err != nil {
		s.logger.Warn("job not queued, left for resume", "job_id", job.ID, "error", err)
	}
}

func (s *Service) abandon(ctx context.Context, jobID uuid.UUID, cause error) {
	if err := s.jobs.Delete(context.WithoutCancel(ctx), jobID); err != nil {
		s.logger.Error("failed to remove abandoned job", "job_id", jobID, "cause", cause, "error", err)
	}
}
