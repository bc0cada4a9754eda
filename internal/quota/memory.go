package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

type account struct {
	mu        sync.Mutex
	limit     int64
	committed int64
	reserved  int64
	updatedAt time.Time
}

// MemoryLedger is an in-process Ledger. Each teacher has its own lock, so
// reservations for different teachers never contend. State does not survive
// a restart; production deployments use PostgresLedger.
type MemoryLedger struct {
	defaultLimit int64
	now          func() time.Time

	mu           sync.Mutex
	accounts     map[string]*account
	reservations map[uuid.UUID]*models.Reservation
}

func NewMemoryLedger(defaultLimit int64) *MemoryLedger {
	return &MemoryLedger{
		defaultLimit: defaultLimit,
		now:          func() time.Time { return time.Now().UTC() },
		accounts:     make(map[string]*account),
		reservations: make(map[uuid.UUID]*models.Reservation),
	}
}

func (l *MemoryLedger) account(teacherID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[teacherID]
	if !ok {
		a = &account{limit: l.defaultLimit, updatedAt: l.now()}
		l.accounts[teacherID] = a
	}
	return a
}

func (l *MemoryLedger) reservation(id uuid.UUID) (*models.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	return r, ok
}

func (l *MemoryLedger) Reserve(_ context.Context, teacherID string, jobID uuid.UUID, category models.ArtifactCategory, bytes int64) (*models.Reservation, error) {
	if bytes < 0 {
		return nil, ErrInvalidAmount
	}
	a := l.account(teacherID)
	a.mu.Lock()
	defer a.mu.Unlock()

	usage := a.committed + a.reserved
	if usage+bytes > a.limit {
		return nil, &ExceededError{
			TeacherID: teacherID,
			Category:  category,
			Requested: bytes,
			Usage:     usage,
			Limit:     a.limit,
		}
	}

	now := l.now()
	r := &models.Reservation{
		ID:        uuid.New(),
		TeacherID: teacherID,
		JobID:     jobID,
		Category:  category,
		Bytes:     bytes,
		State:     models.ReservationPending,
		CreatedAt: now,
	}
	a.reserved += bytes
	a.updatedAt = now

	l.mu.Lock()
	l.reservations[r.ID] = r
	l.mu.Unlock()

	out := *r
	return &out, nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID uuid.UUID) error {
	_, err := l.settle(reservationID, models.ReservationCommitted)
	return err
}

func (l *MemoryLedger) Release(_ context.Context, reservationID uuid.UUID) error {
	_, err := l.settle(reservationID, models.ReservationReleased)
	return err
}

// settle moves a pending reservation to its final state. It reports whether
// the call changed anything.
func (l *MemoryLedger) settle(id uuid.UUID, to models.ReservationState) (bool, error) {
	r, ok := l.reservation(id)
	if !ok {
		return false, ErrReservationNotFound
	}
	a := l.account(r.TeacherID)
	a.mu.Lock()
	defer a.mu.Unlock()

	switch r.State {
	case to:
		return false, nil
	case models.ReservationCommitted:
		// Committed bytes belong to a stored artifact; only Reclaim returns them.
		return false, nil
	case models.ReservationReleased:
		return false, ErrReservationReleased
	}

	now := l.now()
	a.reserved -= r.Bytes
	if to == models.ReservationCommitted {
		a.committed += r.Bytes
	}
	a.updatedAt = now
	r.State = to
	r.SettledAt = &now
	return true, nil
}

func (l *MemoryLedger) Snapshot(_ context.Context, teacherID string) (models.QuotaAccount, error) {
	a := l.account(teacherID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.QuotaAccount{
		TeacherID:     teacherID,
		LimitBytes:    a.limit,
		UsageBytes:    a.committed + a.reserved,
		ReservedBytes: a.reserved,
		UpdatedAt:     a.updatedAt,
	}, nil
}

func (l *MemoryLedger) Reclaim(_ context.Context, teacherID string, bytes int64) error {
	if bytes < 0 {
		return ErrInvalidAmount
	}
	a := l.account(teacherID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed -= bytes
	if a.committed < 0 {
		a.committed = 0
	}
	a.updatedAt = l.now()
	return nil
}

func (l *MemoryLedger) SetLimit(ctx context.Context, teacherID string, limitBytes int64) (models.QuotaAccount, error) {
	if limitBytes < 0 {
		return models.QuotaAccount{}, ErrInvalidAmount
	}
	a := l.account(teacherID)
	a.mu.Lock()
	a.limit = limitBytes
	a.updatedAt = l.now()
	a.mu.Unlock()
	return l.Snapshot(ctx, teacherID)
}

func (l *MemoryLedger) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	var stale []uuid.UUID
	for id, r := range l.reservations {
		if r.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	l.mu.Unlock()

	released := 0
	for _, id := range stale {
		changed, err := l.settle(id, models.ReservationReleased)
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}

func (l *MemoryLedger) Ping(context.Context) error {
	return nil
}
