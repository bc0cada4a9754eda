package jobs_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/cache"
	"github.com/sooksun/teachermon-sub002/internal/jobs"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/internal/stages"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1 << 20)

// fakeRunner counts attempts and delegates to fn.
type fakeRunner struct {
	stage models.Stage
	fn    func(ctx context.Context, in stages.Input, attempt int) (*stages.Output, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeRunner) Stage() models.Stage { return f.stage }

func (f *fakeRunner) Run(ctx context.Context, in stages.Input) (*stages.Output, error) {
	f.mu.Lock()
	f.calls++
	attempt := f.calls
	f.mu.Unlock()
	return f.fn(ctx, in, attempt)
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeOutput creates a size-byte artifact file in the work dir.
func writeOutput(t *testing.T, in stages.Input, cat models.ArtifactCategory, size int64) *stages.Output {
	t.Helper()
	p := filepath.Join(in.WorkDir, string(cat))
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{'x'}, int(size)), 0o640))
	return &stages.Output{Category: cat, Path: p, Size: size}
}

func okRunners(t *testing.T, audio, frames int64) []*fakeRunner {
	summary := "summary"
	advice := "advice"
	return []*fakeRunner{
		{stage: models.StageTranscript, fn: func(_ context.Context, in stages.Input, _ int) (*stages.Output, error) {
			out := writeOutput(t, in, models.CategoryAudio, audio)
			out.TranscriptSummary = &summary
			return out, nil
		}},
		{stage: models.StageFrames, fn: func(_ context.Context, in stages.Input, _ int) (*stages.Output, error) {
			return writeOutput(t, in, models.CategoryFrames, frames), nil
		}},
		{stage: models.StageReport, fn: func(_ context.Context, in stages.Input, _ int) (*stages.Output, error) {
			doc, _ := models.NewDocument([]byte(`{"overview":"ok"}`))
			out := writeOutput(t, in, models.CategoryReport, int64(doc.Size()))
			out.Report = doc
			return out, nil
		}},
		{stage: models.StageCover, fn: func(_ context.Context, in stages.Input, _ int) (*stages.Output, error) {
			return writeOutput(t, in, models.CategoryCover, 128), nil
		}},
		{stage: models.StageEvaluation, fn: func(context.Context, stages.Input, int) (*stages.Output, error) {
			doc, _ := models.NewDocument([]byte(`{"scores":{}}`))
			return &stages.Output{Evaluation: doc, Advice: &advice}, nil
		}},
	}
}

type harness struct {
	store     *store.MemoryStore
	ledger    *quota.MemoryLedger
	artifacts *artifact.FileSystemStore
	status    *cache.MemoryCache
	machine   *jobs.Machine
	set       stages.Set
	runners   map[models.Stage]*fakeRunner
	policy    jobs.RetryPolicy
	spoolDir  string
}

func newHarness(t *testing.T, runners []*fakeRunner, policy jobs.RetryPolicy) *harness {
	t.Helper()
	fs, err := artifact.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMemoryStore(),
		ledger:    quota.NewMemoryLedger(100 * mb),
		artifacts: fs,
		status:    cache.NewMemoryCache(),
		runners:   make(map[models.Stage]*fakeRunner),
	}
	set := stages.Set{}
	for _, r := range runners {
		set[r.stage] = r
		h.runners[r.stage] = r
	}
	h.set = set
	h.policy = policy
	h.spoolDir = t.TempDir()
	h.rebuild(h.store, h.ledger, h.status)
	return h
}

// rebuild replaces the machine with one over the given dependencies. Tests
// pass wrappers around the harness's own backends to inject faults.
func (h *harness) rebuild(st store.Store, ledger quota.Ledger, status cache.Cache, opts ...jobs.Option) {
	opts = append([]jobs.Option{
		jobs.WithRetryPolicy(h.policy),
		jobs.WithSpoolDir(h.spoolDir),
		jobs.WithStatusCache(status, time.Hour),
	}, opts...)
	h.machine = jobs.NewMachine(st, ledger, h.artifacts, h.set, opts...)
}

// faultyLedger fails the nth Commit (counting from 1) and every Reclaim
// while failReclaim is set.
type faultyLedger struct {
	*quota.MemoryLedger

	mu           sync.Mutex
	commits      int
	failCommitAt int
	failReclaim  bool
}

func (l *faultyLedger) Commit(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	l.commits++
	fail := l.commits == l.failCommitAt
	l.mu.Unlock()
	if fail {
		return errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Commit(ctx, id)
}

func (l *faultyLedger) Reclaim(ctx context.Context, teacherID string, bytes int64) error {
	l.mu.Lock()
	fail := l.failReclaim
	l.mu.Unlock()
	if fail {
		return errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Reclaim(ctx, teacherID, bytes)
}

func (l *faultyLedger) setFailReclaim(v bool) {
	l.mu.Lock()
	l.failReclaim = v
	l.mu.Unlock()
}

// statusWriteFails rejects cache writes for one status.
type statusWriteFails struct {
	*cache.MemoryCache
	status string
}

func (c statusWriteFails) SetJobStatus(ctx context.Context, id uuid.UUID, st cache.JobStatus, ttl time.Duration) error {
	if st.Status == c.status {
		return errors.New("cache write failed")
	}
	return c.MemoryCache.SetJobStatus(ctx, id, st, ttl)
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fastPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{MaxRetries: 3, StageTimeout: time.Second}
}

func uploadRequest(teacherID string, declared int64) jobs.CreateRequest {
	return jobs.CreateRequest{
		TeacherID:        teacherID,
		SourceType:       models.SourceFileUpload,
		OriginalFilename: "lesson.mp4",
		DeclaredBytes:    declared,
		EvidenceType:     "CLASSROOM_VIDEO",
		IndicatorCodes:   []string{"1.1", " 1.1 ", "", "2.3"},
	}
}

// uploadJob runs Create, BeginUpload and CompleteUpload with size bytes.
func (h *harness) uploadJob(t *testing.T, teacherID string, size int64) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.machine.Create(ctx, uploadRequest(teacherID, size))
	require.NoError(t, err)
	_, err = h.machine.BeginUpload(ctx, job.ID)
	require.NoError(t, err)
	job, err = h.machine.CompleteUpload(ctx, job.ID, bytes.NewReader(make([]byte, size)), size)
	require.NoError(t, err)
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) usage(t *testing.T, teacherID string) int64 {
	t.Helper()
	acct, err := h.ledger.Snapshot(context.Background(), teacherID)
	require.NoError(t, err)
	return acct.UsageBytes
}

func assertTotals(t *testing.T, job *models.Job) {
	t.Helper()
	assert.Equal(t, job.RawBytes+job.AudioBytes+job.FramesBytes, job.TotalBytes())
}
