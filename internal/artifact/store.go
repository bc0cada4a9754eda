// Package artifact stores the byte blobs a job produces. A write is either
// fully visible under its key or not visible at all.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrStorage  = errors.New("artifact storage failure")
)

// Store holds at most one artifact per (job, category). Put replaces any
// existing artifact atomically.
type Store interface {
	// Put writes r under the job/category key. size may be -1 when unknown;
	// otherwise a short or long stream is rejected. The returned Artifact
	// reports the bytes actually stored.
	Put(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory, r io.Reader, size int64, contentType string) (*models.Artifact, error)
	Open(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (io.ReadCloser, *models.Artifact, error)
	Stat(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (*models.Artifact, error)
	Delete(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) error
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
	Ping(ctx context.Context) error
}

// Local is implemented by stores whose artifacts live on the local disk.
type Local interface {
	LocalPath(jobID uuid.UUID, category models.ArtifactCategory) (string, error)
}

// Presigner is implemented by backends that can hand out direct download URLs.
type Presigner interface {
	PresignedURL(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory, expiry time.Duration) (string, error)
}

var extensions = map[models.ArtifactCategory]string{
	models.CategoryRaw:    ".bin",
	models.CategoryAudio:  ".wav",
	models.CategoryFrames: ".zip",
	models.CategoryReport: ".json",
	models.CategoryCover:  ".img",
}

// Key returns the object key for an artifact: jobs/{jobID}/{category}{ext}.
func Key(jobID uuid.UUID, category models.ArtifactCategory) string {
	return jobPrefix(jobID) + strings.ToLower(string(category)) + extensions[category]
}

// Extension is the file extension artifacts of category are stored with.
func Extension(category models.ArtifactCategory) string {
	return extensions[category]
}

func jobPrefix(jobID uuid.UUID) string {
	return "jobs/" + jobID.String() + "/"
}

// DefaultContentType is used when a backend cannot persist the writer's
// content type. Empty means "sniff on read".
func DefaultContentType(category models.ArtifactCategory) string {
	switch category {
	case models.CategoryAudio:
		return "audio/wav"
	case models.CategoryFrames:
		return "application/zip"
	case models.CategoryReport:
		return "application/json"
	}
	return ""
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, key, err)
}

var (
	_ Store     = (*FileSystemStore)(nil)
	_ Local     = (*FileSystemStore)(nil)
	_ Store     = (*MinIOStore)(nil)
	_ Presigner = (*MinIOStore)(nil)
)
