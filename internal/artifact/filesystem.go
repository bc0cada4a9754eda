package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// FileSystemStore keeps artifacts under a base directory using the same key
// layout as object storage. Writes go to a temp file that is fsynced and
// renamed into place.
type FileSystemStore struct {
	basePath string
}

func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("artifact base path must not be empty")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact base path %q: %w", basePath, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact base path %q: %w", abs, err)
	}
	return &FileSystemStore{basePath: abs}, nil
}

func (s *FileSystemStore) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *FileSystemStore) Put(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory, r io.Reader, size int64, contentType string) (*models.Artifact, error) {
	key := Key(jobID, category)
	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("mkdir", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, storageErr("create temp", key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, storageErr("write", key, err)
	}
	if size >= 0 && written != size {
		return nil, storageErr("write", key, fmt.Errorf("wrote %d bytes, expected %d", written, size))
	}
	if err := tmp.Sync(); err != nil {
		return nil, storageErr("sync", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, storageErr("close", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return nil, storageErr("rename", key, err)
	}
	committed = true

	info, err := os.Stat(target)
	if err != nil {
		return nil, storageErr("stat", key, err)
	}
	if contentType == "" {
		contentType = DefaultContentType(category)
	}
	return &models.Artifact{
		JobID:       jobID,
		Category:    category,
		SizeBytes:   written,
		Location:    key,
		ContentType: contentType,
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FileSystemStore) Stat(_ context.Context, jobID uuid.UUID, category models.ArtifactCategory) (*models.Artifact, error) {
	key := Key(jobID, category)
	info, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("stat", key, err)
	}
	return &models.Artifact{
		JobID:       jobID,
		Category:    category,
		SizeBytes:   info.Size(),
		Location:    key,
		ContentType: DefaultContentType(category),
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FileSystemStore) Open(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (io.ReadCloser, *models.Artifact, error) {
	a, err := s.Stat(ctx, jobID, category)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.path(a.Location))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, storageErr("open", a.Location, err)
	}
	return f, a, nil
}

func (s *FileSystemStore) Delete(_ context.Context, jobID uuid.UUID, category models.ArtifactCategory) error {
	key := Key(jobID, category)
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("delete", key, err)
	}
	return nil
}

// DeleteJob removes every artifact of a job. Deleting a job with no
// artifacts is not an error.
func (s *FileSystemStore) DeleteJob(_ context.Context, jobID uuid.UUID) error {
	prefix := jobPrefix(jobID)
	if err := os.RemoveAll(s.path(prefix)); err != nil {
		return storageErr("delete job", prefix, err)
	}
	slog.Debug("artifacts removed", "job_id", jobID, "backend", "filesystem")
	return nil
}

func (s *FileSystemStore) Ping(context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return storageErr("ping", s.basePath, err)
	}
	if !info.IsDir() {
		return storageErr("ping", s.basePath, fmt.Errorf("not a directory"))
	}
	return nil
}

// ctxReader stops a long copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// LocalPath returns the on-disk path of a stored artifact so media tools can
// read it in place.
func (s *FileSystemStore) LocalPath(jobID uuid.UUID, category models.ArtifactCategory) (string, error) {
	key := Key(jobID, category)
	p := s.path(key)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", storageErr("stat", key, err)
	}
	return p, nil
}
