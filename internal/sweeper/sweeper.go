// Package sweeper runs periodic housekeeping on a cron schedule: stale quota
// reservations are released, jobs past retention are deleted and PROCESSING
// jobs that never reached a worker are queued again.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const defaultBatchSize = 100

type Ledger interface {
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
}

type JobLister interface {
	ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// Pipeline is the scheduler side the sweeper drives.
type Pipeline interface {
	Delete(ctx context.Context, jobID uuid.UUID) error
	Resume(ctx context.Context) (int, error)
}

type Config struct {
	// Spec is a six-field cron expression (with seconds).
	Spec           string
	ReservationTTL time.Duration
	// Retention of zero keeps terminal jobs forever.
	Retention time.Duration
	BatchSize int
	Timeout   time.Duration
}

// Result counts what one sweep did.
type Result struct {
	ReleasedReservations int
	DeletedJobs          int
	ResumedJobs          int
}

type Sweeper struct {
	cron     *cron.Cron
	ledger   Ledger
	jobs     JobLister
	pipeline Pipeline
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New registers the sweep on cfg.Spec. Overlapping runs are skipped.
func New(ledger Ledger, jobs JobLister, pipeline Pipeline, cfg Config, opts ...Option) (*Sweeper, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	s := &Sweeper{
		ledger:   ledger,
		jobs:     jobs,
		pipeline: pipeline,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(cfg.Spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins the schedule. It does not block.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", "spec", s.cfg.Spec, "retention", s.cfg.Retention, "reservation_ttl", s.cfg.ReservationTTL)
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	res, err := s.Sweep(ctx)
	log := s.logger.With(
		"released_reservations", res.ReleasedReservations,
		"deleted_jobs", res.DeletedJobs,
		"resumed_jobs", res.ResumedJobs,
	)
	if err != nil {
		log.Error("sweep finished with errors", "error", err)
		return
	}
	log.Info("sweep finished")
}

// Sweep runs every housekeeping step once. A failing step does not stop the
// later ones; their errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	if s.cfg.ReservationTTL > 0 {
		n, err := s.ledger.ReleaseStale(ctx, s.now().Add(-s.cfg.ReservationTTL))
		res.ReleasedReservations = n
		if err != nil {
			errs = append(errs, fmt.Errorf("releasing stale reservations: %w", err))
		}
	}

	if s.cfg.Retention > 0 {
		n, err := s.expire(ctx)
		res.DeletedJobs = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	n, err := s.pipeline.Resume(ctx)
	res.ResumedJobs = n
	if err != nil {
		errs = append(errs, fmt.Errorf("resuming jobs: %w", err))
	}

	return res, errors.Join(errs...)
}

// expire deletes terminal jobs whose doneAt is past retention, batch by
// batch, until a batch comes back short or makes no progress.
func (s *Sweeper) expire(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	deleted := 0
	for {
		batch, err := s.jobs.ListExpiredJobs(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return deleted, fmt.Errorf("listing expired jobs: %w", err)
		}
		var errs []error
		for _, job := range batch {
			if err := s.pipeline.Delete(ctx, job.ID); err != nil {
				errs = append(errs, fmt.Errorf("deleting job %s: %w", job.ID, err))
				continue
			}
			deleted++
			s.logger.Info("expired job deleted", "job_id", job.ID, "teacher_id", job.TeacherID, "bytes", job.TotalBytes())
		}
		if len(errs) > 0 {
			return deleted, errors.Join(errs...)
		}
		if len(batch) < s.cfg.BatchSize {
			return deleted, nil
		}
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
