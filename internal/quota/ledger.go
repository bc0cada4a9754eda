// Package quota owns per-teacher storage accounting. Every byte an artifact
// occupies passes through Reserve and then Commit or Release.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var (
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationReleased = errors.New("reservation already released")
	ErrInvalidAmount       = errors.New("byte amount must not be negative")
)

// ExceededError carries the state the caller needs to show remaining headroom.
type ExceededError struct {
	TeacherID string
	Category  models.ArtifactCategory
	Requested int64
	Usage     int64
	Limit     int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for teacher %s: requested %d bytes (%s), usage %d of %d",
		e.TeacherID, e.Requested, e.Category, e.Usage, e.Limit)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

func (e *ExceededError) Remaining() int64 {
	return e.Limit - e.Usage
}

// Ledger is the single source of truth for quota usage. Mutations for the same
// teacher are linearized; usage never exceeds the limit through Reserve.
//
// Commit and Release are idempotent. Releasing a committed reservation is a
// no-op, while committing a released reservation returns ErrReservationReleased.
type Ledger interface {
	Reserve(ctx context.Context, teacherID string, jobID uuid.UUID, category models.ArtifactCategory, bytes int64) (*models.Reservation, error)
	Commit(ctx context.Context, reservationID uuid.UUID) error
	Release(ctx context.Context, reservationID uuid.UUID) error
	Snapshot(ctx context.Context, teacherID string) (models.QuotaAccount, error)

	// Reclaim returns committed bytes after artifacts are deleted or a
	// reservation overestimated the real size. Usage never drops below zero.
	Reclaim(ctx context.Context, teacherID string, bytes int64) error
	SetLimit(ctx context.Context, teacherID string, limitBytes int64) (models.QuotaAccount, error)
	// ReleaseStale releases every pending reservation created before cutoff.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
}
