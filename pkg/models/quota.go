package models

import (
	"time"

	"github.com/google/uuid"
)

// QuotaAccount is a teacher's storage ceiling and current use. UsageBytes
// includes pending reservations; remaining is always derived.
type QuotaAccount struct {
	TeacherID     string    `json:"teacher_id"`
	LimitBytes    int64     `json:"limit_bytes"`
	UsageBytes    int64     `json:"usage_bytes"`
	ReservedBytes int64     `json:"reserved_bytes"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (q QuotaAccount) RemainingBytes() int64 {
	return q.LimitBytes - q.UsageBytes
}

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a provisional quota debit made before an artifact write.
type Reservation struct {
	ID        uuid.UUID        `db:"id"         json:"id"`
	TeacherID string           `db:"teacher_id" json:"teacher_id"`
	JobID     uuid.UUID        `db:"job_id"     json:"job_id"`
	Category  ArtifactCategory `db:"category"   json:"category"`
	Bytes     int64            `db:"bytes"      json:"bytes"`
	State     ReservationState `db:"state"      json:"state"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	SettledAt *time.Time       `db:"settled_at" json:"settled_at,omitempty"`
}
