package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// PostgresLedger keeps accounts in teachers_quota and reservations in
// quota_reservations. Each mutation is one transaction holding the account
// row lock, which linearizes reservations per teacher across processes.
type PostgresLedger struct {
	pool         *pgxpool.Pool
	defaultLimit int64
}

func NewPostgresLedger(pool *pgxpool.Pool, defaultLimit int64) *PostgresLedger {
	return &PostgresLedger{pool: pool, defaultLimit: defaultLimit}
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

type accountRow struct {
	limit     int64
	committed int64
	reserved  int64
}

// lockAccount creates the account lazily and locks its row for the rest of tx.
func (l *PostgresLedger) lockAccount(ctx context.Context, tx pgx.Tx, teacherID string) (accountRow, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO teachers_quota (teacher_id, limit_bytes, committed_bytes, reserved_bytes, updated_at)
		 VALUES ($1, $2, 0, 0, NOW()) ON CONFLICT (teacher_id) DO NOTHING`,
		teacherID, l.defaultLimit); err != nil {
		return accountRow{}, fmt.Errorf("ensure quota account: %w", err)
	}

	var a accountRow
	err := tx.QueryRow(ctx,
		`SELECT limit_bytes, committed_bytes, reserved_bytes FROM teachers_quota
		 WHERE teacher_id = $1 FOR UPDATE`, teacherID,
	).Scan(&a.limit, &a.committed, &a.reserved)
	if err != nil {
		return accountRow{}, fmt.Errorf("lock quota account: %w", err)
	}
	return a, nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, teacherID string, jobID uuid.UUID, category models.ArtifactCategory, bytes int64) (*models.Reservation, error) {
	if bytes < 0 {
		return nil, ErrInvalidAmount
	}

	r := &models.Reservation{
		ID:        uuid.New(),
		TeacherID: teacherID,
		JobID:     jobID,
		Category:  category,
		Bytes:     bytes,
		State:     models.ReservationPending,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		a, err := l.lockAccount(ctx, tx, teacherID)
		if err != nil {
			return err
		}

		usage := a.committed + a.reserved
		if usage+bytes > a.limit {
			return &ExceededError{
				TeacherID: teacherID,
				Category:  category,
				Requested: bytes,
				Usage:     usage,
				Limit:     a.limit,
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE teachers_quota SET reserved_bytes = reserved_bytes + $2, updated_at = NOW()
			 WHERE teacher_id = $1`, teacherID, bytes); err != nil {
			return fmt.Errorf("add reserved bytes: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO quota_reservations (id, teacher_id, job_id, category, bytes, state, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.TeacherID, r.JobID, r.Category, r.Bytes, r.State, r.CreatedAt); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, reservationID uuid.UUID) error {
	_, err := l.settle(ctx, reservationID, models.ReservationCommitted)
	return err
}

func (l *PostgresLedger) Release(ctx context.Context, reservationID uuid.UUID) error {
	_, err := l.settle(ctx, reservationID, models.ReservationReleased)
	return err
}

func (l *PostgresLedger) settle(ctx context.Context, id uuid.UUID, to models.ReservationState) (bool, error) {
	changed := false
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var teacherID string
		err := tx.QueryRow(ctx,
			`SELECT teacher_id FROM quota_reservations WHERE id = $1`, id,
		).Scan(&teacherID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("get reservation: %w", err)
		}

		// Account row first, then reservation row: same order as Reserve.
		if _, err := l.lockAccount(ctx, tx, teacherID); err != nil {
			return err
		}

		var (
			bytes int64
			state models.ReservationState
		)
		if err := tx.QueryRow(ctx,
			`SELECT bytes, state FROM quota_reservations WHERE id = $1 FOR UPDATE`, id,
		).Scan(&bytes, &state); err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}

		switch state {
		case to, models.ReservationCommitted:
			return nil
		case models.ReservationReleased:
			return ErrReservationReleased
		}

		committedDelta := int64(0)
		if to == models.ReservationCommitted {
			committedDelta = bytes
		}
		if _, err := tx.Exec(ctx,
			`UPDATE teachers_quota
			 SET reserved_bytes = GREATEST(reserved_bytes - $2, 0),
			     committed_bytes = committed_bytes + $3,
			     updated_at = NOW()
			 WHERE teacher_id = $1`, teacherID, bytes, committedDelta); err != nil {
			return fmt.Errorf("settle quota account: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE quota_reservations SET state = $2, settled_at = NOW() WHERE id = $1`,
			id, to); err != nil {
			return fmt.Errorf("settle reservation: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (l *PostgresLedger) Snapshot(ctx context.Context, teacherID string) (models.QuotaAccount, error) {
	acct := models.QuotaAccount{TeacherID: teacherID}
	var committed int64
	err := l.pool.QueryRow(ctx,
		`SELECT limit_bytes, committed_bytes, reserved_bytes, updated_at FROM teachers_quota WHERE teacher_id = $1`,
		teacherID,
	).Scan(&acct.LimitBytes, &committed, &acct.ReservedBytes, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		acct.LimitBytes = l.defaultLimit
		return acct, nil
	}
	if err != nil {
		return models.QuotaAccount{}, fmt.Errorf("snapshot quota: %w", err)
	}
	acct.UsageBytes = committed + acct.ReservedBytes
	return acct, nil
}

func (l *PostgresLedger) Reclaim(ctx context.Context, teacherID string, bytes int64) error {
	if bytes < 0 {
		return ErrInvalidAmount
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE teachers_quota SET committed_bytes = GREATEST(committed_bytes - $2, 0), updated_at = NOW()
		 WHERE teacher_id = $1`, teacherID, bytes)
	if err != nil {
		return fmt.Errorf("reclaim quota: %w", err)
	}
	return nil
}

func (l *PostgresLedger) SetLimit(ctx context.Context, teacherID string, limitBytes int64) (models.QuotaAccount, error) {
	if limitBytes < 0 {
		return models.QuotaAccount{}, ErrInvalidAmount
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO teachers_quota (teacher_id, limit_bytes, committed_bytes, reserved_bytes, updated_at)
		 VALUES ($1, $2, 0, 0, NOW())
		 ON CONFLICT (teacher_id) DO UPDATE SET limit_bytes = EXCLUDED.limit_bytes, updated_at = NOW()`,
		teacherID, limitBytes)
	if err != nil {
		return models.QuotaAccount{}, fmt.Errorf("set quota limit: %w", err)
	}
	return l.Snapshot(ctx, teacherID)
}

func (l *PostgresLedger) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id FROM quota_reservations WHERE state = 'pending' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale reservations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("scan stale reservations: %w", err)
	}

	released := 0
	for _, id := range ids {
		changed, err := l.settle(ctx, id, models.ReservationReleased)
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}
