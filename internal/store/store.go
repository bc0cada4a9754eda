package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict means the job changed since it was read; reload and retry.
var ErrConflict = errors.New("job was modified concurrently")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, teacherID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJob writes job only if its Version still matches the stored row,
	// then increments job.Version. A stale version yields ErrConflict.
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// ListExpiredJobs returns terminal jobs whose doneAt is before cutoff.
	ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

type JobFilter struct {
	TeacherID string
	Status    models.JobStatus
	Page      int
	Limit     int
}

func (f JobFilter) normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
