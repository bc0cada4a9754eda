package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T) (*artifact.FileSystemStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := artifact.NewFileSystemStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestKey_Layout(t *testing.T) {
	id := uuid.MustParse("7d4b6c3e-1b0a-4a53-9a41-1f1a2b3c4d5e")
	assert.Equal(t, "jobs/7d4b6c3e-1b0a-4a53-9a41-1f1a2b3c4d5e/frames.zip", artifact.Key(id, models.CategoryFrames))
	assert.Equal(t, "jobs/7d4b6c3e-1b0a-4a53-9a41-1f1a2b3c4d5e/raw.bin", artifact.Key(id, models.CategoryRaw))
}

func TestFileSystem_PutOpenStat(t *testing.T) {
	s, _ := newFS(t)
	ctx := context.Background()
	jobID := uuid.New()

	a, err := s.Put(ctx, jobID, models.CategoryAudio, strings.NewReader("hello audio"), 11, "")
	require.NoError(t, err)
	assert.Equal(t, int64(11), a.SizeBytes)
	assert.Equal(t, "audio/wav", a.ContentType)

	st, err := s.Stat(ctx, jobID, models.CategoryAudio)
	require.NoError(t, err)
	assert.Equal(t, int64(11), st.SizeBytes)

	rc, _, err := s.Open(ctx, jobID, models.CategoryAudio)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello audio", string(data))
}

func TestFileSystem_UnknownSize(t *testing.T) {
	s, _ := newFS(t)
	a, err := s.Put(context.Background(), uuid.New(), models.CategoryReport, strings.NewReader(`{"a":1}`), -1, "application/json")
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.SizeBytes)
}

func TestFileSystem_SizeMismatchLeavesNothing(t *testing.T) {
	s, dir := newFS(t)
	ctx := context.Background()
	jobID := uuid.New()

	_, err := s.Put(ctx, jobID, models.CategoryRaw, strings.NewReader("short"), 100, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrStorage)

	_, err = s.Stat(ctx, jobID, models.CategoryRaw)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(dir, "jobs", jobID.String()))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestFileSystem_ReaderErrorKeepsOldArtifact(t *testing.T) {
	s, _ := newFS(t)
	ctx := context.Background()
	jobID := uuid.New()

	_, err := s.Put(ctx, jobID, models.CategoryFrames, bytes.NewReader([]byte("v1")), 2, "")
	require.NoError(t, err)

	_, err = s.Put(ctx, jobID, models.CategoryFrames, io.MultiReader(strings.NewReader("par"), failingReader{}), -1, "")
	require.ErrorIs(t, err, artifact.ErrStorage)

	rc, _, err := s.Open(ctx, jobID, models.CategoryFrames)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "v1", string(data))
}

func TestFileSystem_CancelledContext(t *testing.T) {
	s, _ := newFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, uuid.New(), models.CategoryRaw, strings.NewReader("data"), 4, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSystem_DeleteAndDeleteJob(t *testing.T) {
	s, _ := newFS(t)
	ctx := context.Background()
	jobID := uuid.New()

	for _, c := range []models.ArtifactCategory{models.CategoryRaw, models.CategoryAudio, models.CategoryCover} {
		_, err := s.Put(ctx, jobID, c, strings.NewReader("x"), 1, "")
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, jobID, models.CategoryRaw))
	assert.ErrorIs(t, s.Delete(ctx, jobID, models.CategoryRaw), artifact.ErrNotFound)

	require.NoError(t, s.DeleteJob(ctx, jobID))
	_, err := s.Stat(ctx, jobID, models.CategoryAudio)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	// No artifacts left to delete is fine.
	require.NoError(t, s.DeleteJob(ctx, jobID))
}

func TestFileSystem_Ping(t *testing.T) {
	s, dir := newFS(t)
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.ErrorIs(t, s.Ping(context.Background()), artifact.ErrStorage)
}

func TestNewFileSystemStore_EmptyPath(t *testing.T) {
	_, err := artifact.NewFileSystemStore("")
	assert.Error(t, err)
}
