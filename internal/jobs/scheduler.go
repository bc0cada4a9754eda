package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs PROCESSING jobs on a bounded pool of workers. Each job gets
// a supervisor that starts independent stages in parallel and waits on
// dependencies. Cancellation is a message to the control loop, which owns the
// set of running supervisors.
type Scheduler struct {
	machine *Machine
	queue   chan uuid.UUID
	control chan any
	workers int
	logger  *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	loopWG sync.WaitGroup
}

type supervisor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type registerMsg struct {
	id    uuid.UUID
	sup   *supervisor
	reply chan bool
}

type unregisterMsg struct {
	id uuid.UUID
}

type cancelMsg struct {
	id    uuid.UUID
	reply chan (<-chan struct{})
}

func NewScheduler(m *Machine, workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		machine: m,
		queue:   make(chan uuid.UUID, queueSize),
		control: make(chan any),
		workers: workers,
		logger:  m.logger,
		ctx:     ctx,
		stop:    stop,
	}
}

// Start launches the control loop and the workers.
func (s *Scheduler) Start() {
	s.loopWG.Add(1)
	go s.controlLoop()
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("pipeline scheduler started", "workers", s.workers, "queue_size", cap(s.queue))
}

// Shutdown stops accepting work and interrupts running supervisors. Jobs
// left PROCESSING are picked up again by Resume.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a PROCESSING job without blocking.
func (s *Scheduler) Submit(jobID uuid.UUID) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped: %w", s.ctx.Err())
	}
	select {
	case s.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel fails the job and tells its supervisor to stop scheduling stages.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.machine.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.interrupt(jobID)
	return job, nil
}

// Delete stops any running supervisor for the job, waits for it to exit and
// then deletes the job and its artifacts.
func (s *Scheduler) Delete(ctx context.Context, jobID uuid.UUID) error {
	if done := s.interrupt(jobID); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.machine.Delete(ctx, jobID)
}

// Resume queues every PROCESSING job. Duplicates are harmless: a supervisor
// refuses a job that is already running and stages already recorded are
// skipped.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	queued := 0
	for page := 1; ; page++ {
		batch, total, err := s.machine.store.ListJobs(ctx, store.JobFilter{
			Status: models.JobStatusProcessing,
			Page:   page,
			Limit:  100,
		})
		if err != nil {
			return queued, fmt.Errorf("listing processing jobs: %w", err)
		}
		for _, job := range batch {
			if err := s.Submit(job.ID); err != nil {
				return queued, err
			}
			queued++
		}
		if len(batch) == 0 || page*100 >= total {
			return queued, nil
		}
	}
}

func (s *Scheduler) interrupt(jobID uuid.UUID) <-chan struct{} {
	reply := make(chan (<-chan struct{}), 1)
	select {
	case s.control <- cancelMsg{id: jobID, reply: reply}:
		return <-reply
	case <-s.ctx.Done():
		return nil
	}
}

func (s *Scheduler) controlLoop() {
	defer s.loopWG.Done()
	running := make(map[uuid.UUID]*supervisor)
	for {
		select {
		case <-s.ctx.Done():
			for _, sup := range running {
				sup.cancel()
			}
			return
		case msg := <-s.control:
			switch msg := msg.(type) {
			case registerMsg:
				if _, busy := running[msg.id]; busy {
					msg.reply <- false
					continue
				}
				running[msg.id] = msg.sup
				msg.reply <- true
			case unregisterMsg:
				delete(running, msg.id)
			case cancelMsg:
				sup, ok := running[msg.id]
				if !ok {
					msg.reply <- nil
					continue
				}
				sup.cancel()
				msg.reply <- sup.done
			}
		}
	}
}

func (s *Scheduler) send(msg any) bool {
	select {
	case s.control <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			s.supervise(id)
		}
	}
}

func (s *Scheduler) supervise(jobID uuid.UUID) {
	ctx, cancel := context.WithCancel(s.ctx)
	sup := &supervisor{cancel: cancel, done: make(chan struct{})}
	defer close(sup.done)
	defer cancel()

	reply := make(chan bool, 1)
	if !s.send(registerMsg{id: jobID, sup: sup, reply: reply}) || !<-reply {
		return
	}
	defer s.send(unregisterMsg{id: jobID})

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in job supervisor", "error", r, "job_id", jobID, "stack", string(debug.Stack()))
			if _, err := s.machine.Fail(context.WithoutCancel(ctx), jobID, fmt.Sprintf("panic: %v", r)); err != nil && !errors.Is(err, ErrTerminal) {
				s.logger.Error("failed to mark job failed after panic", "job_id", jobID, "error", err)
			}
		}
	}()

	if err := s.run(ctx, jobID); err != nil {
		s.handle(ctx, jobID, err)
	}
}

func (s *Scheduler) run(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.machine.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusProcessing {
		return nil
	}

	plan := Plan(job)
	source, cleanup, err := s.source(ctx, job, plan)
	if err != nil {
		return err
	}
	defer cleanup()

	finished := make(map[models.Stage]chan struct{}, len(plan))
	for _, st := range plan {
		finished[st] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range plan {
		deps := DependsOn(st, plan)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("panic in stage", "error", r, "job_id", jobID, "stage", st, "stack", string(debug.Stack()))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			for _, d := range deps {
				select {
				case <-finished[d]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := s.machine.RunStage(gctx, jobID, st, source); err != nil {
				return err
			}
			close(finished[st])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_, err = s.machine.Complete(ctx, jobID)
	return err
}

// source prepares the media input only when a media stage is still pending.
func (s *Scheduler) source(ctx context.Context, job *models.Job, plan []models.Stage) (string, func(), error) {
	for _, st := range plan {
		if (st == models.StageTranscript || st == models.StageFrames) && !StageDone(job, st) {
			return s.machine.PrepareSource(ctx, job)
		}
	}
	return "", func() {}, nil
}

// handle logs how a supervisor ended. Errors that did not already fail the
// job (store or source trouble) fail it here, unless the job was cancelled or
// the scheduler is stopping.
func (s *Scheduler) handle(ctx context.Context, jobID uuid.UUID, err error) {
	log := s.logger.With("job_id", jobID)
	switch {
	case ctx.Err() != nil:
		log.Info("job supervisor interrupted", "error", err)
		return
	case errors.Is(err, ErrTerminal), errors.Is(err, store.ErrNotFound):
		log.Info("job supervisor stopped", "error", err)
		return
	}
	var se interface{ Retryable() bool }
	if errors.As(err, &se) {
		// RunStage already recorded the failure.
		return
	}
	log.Error("job supervisor failed", "error", err)
	if _, ferr := s.machine.Fail(context.WithoutCancel(ctx), jobID, err.Error()); ferr != nil && !errors.Is(ferr, ErrTerminal) {
		log.Error("failed to mark job failed", "error", ferr)
	}
}
