package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1 << 20)

// ledgerSuite runs the shared contract against any Ledger implementation.
func ledgerSuite(t *testing.T, newLedger func(t *testing.T, defaultLimit int64) quota.Ledger) {
	ctx := context.Background()

	t.Run("ScenarioA_RejectsOverLimitWithoutChange", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		r, err := l.Reserve(ctx, "teacher-a", uuid.New(), models.CategoryRaw, 95*mb)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, r.ID))

		_, err = l.Reserve(ctx, "teacher-a", uuid.New(), models.CategoryRaw, 10*mb)
		require.ErrorIs(t, err, quota.ErrQuotaExceeded)

		var exceeded *quota.ExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, 95*mb, exceeded.Usage)
		assert.Equal(t, 100*mb, exceeded.Limit)
		assert.Equal(t, 5*mb, exceeded.Remaining())

		snap, err := l.Snapshot(ctx, "teacher-a")
		require.NoError(t, err)
		assert.Equal(t, 95*mb, snap.UsageBytes)
		assert.Equal(t, 5*mb, snap.RemainingBytes())
	})

	t.Run("ReservationExactlyAtLimitSucceeds", func(t *testing.T) {
		l := newLedger(t, 10*mb)
		_, err := l.Reserve(ctx, "teacher-b", uuid.New(), models.CategoryRaw, 10*mb)
		require.NoError(t, err)

		snap, err := l.Snapshot(ctx, "teacher-b")
		require.NoError(t, err)
		assert.Equal(t, 10*mb, snap.UsageBytes)
		assert.Equal(t, 10*mb, snap.ReservedBytes)
		assert.Zero(t, snap.RemainingBytes())
	})

	t.Run("CommitAndReleaseAreIdempotent", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		committed, err := l.Reserve(ctx, "teacher-c", uuid.New(), models.CategoryAudio, 3*mb)
		require.NoError(t, err)
		released, err := l.Reserve(ctx, "teacher-c", uuid.New(), models.CategoryFrames, 7*mb)
		require.NoError(t, err)

		require.NoError(t, l.Commit(ctx, committed.ID))
		require.NoError(t, l.Commit(ctx, committed.ID))
		require.NoError(t, l.Release(ctx, released.ID))
		require.NoError(t, l.Release(ctx, released.ID))

		snap, err := l.Snapshot(ctx, "teacher-c")
		require.NoError(t, err)
		assert.Equal(t, 3*mb, snap.UsageBytes)
		assert.Zero(t, snap.ReservedBytes)
	})

	t.Run("ReleaseAfterCommitKeepsBytes", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		r, err := l.Reserve(ctx, "teacher-d", uuid.New(), models.CategoryRaw, 4*mb)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, r.ID))
		require.NoError(t, l.Release(ctx, r.ID))

		snap, err := l.Snapshot(ctx, "teacher-d")
		require.NoError(t, err)
		assert.Equal(t, 4*mb, snap.UsageBytes)
	})

	t.Run("CommitAfterReleaseFails", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		r, err := l.Reserve(ctx, "teacher-e", uuid.New(), models.CategoryRaw, 4*mb)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, r.ID))
		assert.ErrorIs(t, l.Commit(ctx, r.ID), quota.ErrReservationReleased)
	})

	t.Run("UnknownReservation", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		assert.ErrorIs(t, l.Commit(ctx, uuid.New()), quota.ErrReservationNotFound)
		assert.ErrorIs(t, l.Release(ctx, uuid.New()), quota.ErrReservationNotFound)
	})

	t.Run("NegativeAmountRejected", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		_, err := l.Reserve(ctx, "teacher-f", uuid.New(), models.CategoryRaw, -1)
		assert.ErrorIs(t, err, quota.ErrInvalidAmount)
	})

	t.Run("ReclaimNeverGoesNegative", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		r, err := l.Reserve(ctx, "teacher-g", uuid.New(), models.CategoryRaw, 5*mb)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, r.ID))

		require.NoError(t, l.Reclaim(ctx, "teacher-g", 2*mb))
		snap, err := l.Snapshot(ctx, "teacher-g")
		require.NoError(t, err)
		assert.Equal(t, 3*mb, snap.UsageBytes)

		require.NoError(t, l.Reclaim(ctx, "teacher-g", 50*mb))
		snap, err = l.Snapshot(ctx, "teacher-g")
		require.NoError(t, err)
		assert.Zero(t, snap.UsageBytes)
	})

	t.Run("SetLimit", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		snap, err := l.SetLimit(ctx, "teacher-h", 20*mb)
		require.NoError(t, err)
		assert.Equal(t, 20*mb, snap.LimitBytes)

		_, err = l.Reserve(ctx, "teacher-h", uuid.New(), models.CategoryRaw, 21*mb)
		assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	})

	t.Run("SnapshotOfUnknownTeacherUsesDefaultLimit", func(t *testing.T) {
		l := newLedger(t, 42*mb)
		snap, err := l.Snapshot(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 42*mb, snap.LimitBytes)
		assert.Zero(t, snap.UsageBytes)
	})

	t.Run("ReleaseStale", func(t *testing.T) {
		l := newLedger(t, 100*mb)
		pending, err := l.Reserve(ctx, "teacher-i", uuid.New(), models.CategoryRaw, 8*mb)
		require.NoError(t, err)
		done, err := l.Reserve(ctx, "teacher-i", uuid.New(), models.CategoryRaw, 2*mb)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, done.ID))

		n, err := l.ReleaseStale(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		snap, err := l.Snapshot(ctx, "teacher-i")
		require.NoError(t, err)
		assert.Equal(t, 2*mb, snap.UsageBytes)
		assert.ErrorIs(t, l.Commit(ctx, pending.ID), quota.ErrReservationReleased)
	})

	t.Run("ScenarioC_ConcurrentReservationsNeverOvercommit", func(t *testing.T) {
		l := newLedger(t, 100*mb)

		const racers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok       int
			exceeded int
		)
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				r, err := l.Reserve(ctx, "teacher-race", uuid.New(), models.CategoryRaw, 60*mb)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
					assert.NoError(t, l.Commit(ctx, r.ID))
					return
				}
				assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
				exceeded++
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, racers-1, exceeded)

		snap, err := l.Snapshot(ctx, "teacher-race")
		require.NoError(t, err)
		assert.LessOrEqual(t, snap.UsageBytes, snap.LimitBytes)
		assert.Equal(t, 60*mb, snap.UsageBytes)
	})

	t.Run("ManySmallReservationsFillExactly", func(t *testing.T) {
		l := newLedger(t, 10*mb)

		var wg sync.WaitGroup
		results := make(chan error, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Reserve(ctx, "teacher-fill", uuid.New(), models.CategoryFrames, mb)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			}
		}
		assert.Equal(t, 10, succeeded)

		snap, err := l.Snapshot(ctx, "teacher-fill")
		require.NoError(t, err)
		assert.Equal(t, 10*mb, snap.UsageBytes)
	})
}

func TestMemoryLedger(t *testing.T) {
	ledgerSuite(t, func(t *testing.T, defaultLimit int64) quota.Ledger {
		return quota.NewMemoryLedger(defaultLimit)
	})
}

func TestMemoryLedger_TeachersAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := quota.NewMemoryLedger(10 * mb)

	_, err := l.Reserve(ctx, "a", uuid.New(), models.CategoryRaw, 10*mb)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "b", uuid.New(), models.CategoryRaw, 10*mb)
	require.NoError(t, err)
}
