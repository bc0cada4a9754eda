package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("teachermon_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newUploadJob(teacherID string) *models.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	name := "lesson.mp4"
	return &models.Job{
		ID:               uuid.New(),
		TeacherID:        teacherID,
		SubmittedBy:      teacherID,
		SourceType:       models.SourceFileUpload,
		AnalysisMode:     models.ModeFull,
		Status:           models.JobStatusCreated,
		OriginalFilename: &name,
		EvidenceType:     "CLASSROOM_VIDEO",
		IndicatorCodes:   []string{"1.1", "2.3"},
		DeclaredBytes:    5 << 20,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		TeacherID: "t-100",
		Role:      models.RoleTeacher,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "tm_abcd",
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "tm_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, models.RoleTeacher, keys[0].Role)
	assert.Equal(t, "t-100", keys[0].TeacherID)
}

func TestAPIKey_ListAndRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, teacher := range []string{"t-1", "t-1", "t-2"} {
		require.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			TeacherID: teacher,
			Role:      models.RoleTeacher,
			Name:      "key",
			KeyHash:   "hash-" + string(rune('a'+i)),
			KeyPrefix: "tm_" + string(rune('a'+i)),
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	all, err := s.ListAPIKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	own, err := s.ListAPIKeys(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, own, 2)

	require.NoError(t, s.RevokeAPIKey(ctx, own[0].ID))
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, own[0].ID), store.ErrNotFound)

	own, err = s.ListAPIKeys(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, own, 1)
}

func TestAPIKey_DuplicateHash(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{ID: uuid.New(), TeacherID: "t", Role: models.RoleAdmin, Name: "a",
		KeyHash: "same", KeyPrefix: "tm_x", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key.ID = uuid.New()
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newUploadJob("t-1")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusCreated, got.Status)
	assert.Equal(t, models.SourceFileUpload, got.SourceType)
	assert.Equal(t, "lesson.mp4", *got.OriginalFilename)
	assert.Equal(t, []string{"1.1", "2.3"}, got.IndicatorCodes)
	assert.Equal(t, 1, got.Version)
	assert.Nil(t, got.AnalysisReport)
	assert.Nil(t, got.UploadedAt)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_UpdateRoundTripsDocuments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newUploadJob("t-1")
	require.NoError(t, s.CreateJob(ctx, job))

	doc, err := models.NewDocument(json.RawMessage(`{"score":4}`))
	require.NoError(t, err)
	job.Status = models.JobStatusProcessing
	job.RawBytes = 5 << 20
	job.HasTranscript = true
	job.AnalysisReport = doc
	require.NoError(t, s.UpdateJob(ctx, job))
	assert.Equal(t, 2, job.Version)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, int64(5<<20), got.TotalBytes())
	assert.True(t, got.HasTranscript)
	require.NotNil(t, got.AnalysisReport)
	assert.JSONEq(t, `{"score":4}`, string(got.AnalysisReport.Body))
	assert.Equal(t, models.DocumentVersion, got.AnalysisReport.Version)
}

func TestJob_UpdateStaleVersionConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newUploadJob("t-1")
	require.NoError(t, s.CreateJob(ctx, job))

	first, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	second, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	first.Status = models.JobStatusUploading
	require.NoError(t, s.UpdateJob(ctx, first))

	second.Status = models.JobStatusFailed
	assert.ErrorIs(t, s.UpdateJob(ctx, second), store.ErrConflict)

	missing := newUploadJob("t-1")
	assert.ErrorIs(t, s.UpdateJob(ctx, missing), store.ErrNotFound)
}

func TestJob_ListAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j := newUploadJob("t-1")
		j.CreatedAt = j.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(ctx, j))
	}
	other := newUploadJob("t-2")
	require.NoError(t, s.CreateJob(ctx, other))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{TeacherID: "t-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	require.NoError(t, s.DeleteJob(ctx, other.ID))
	assert.ErrorIs(t, s.DeleteJob(ctx, other.ID), store.ErrNotFound)
}

func TestJob_ListExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	old := newUploadJob("t-1")
	done := time.Now().UTC().Add(-48 * time.Hour)
	old.Status = models.JobStatusDone
	old.DoneAt = &done
	require.NoError(t, s.CreateJob(ctx, old))

	fresh := newUploadJob("t-1")
	require.NoError(t, s.CreateJob(ctx, fresh))

	expired, err := s.ListExpiredJobs(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}
