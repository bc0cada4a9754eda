package jobs

import (
	"context"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/config"
)

// RetryPolicy bounds stage attempts. A stage runs at most MaxRetries+1
// times; storage failures get a single retry.
type RetryPolicy struct {
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StageTimeout time.Duration
}

const storageRetries = 1

func PolicyFromConfig(cfg config.PipelineConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
		StageTimeout: cfg.StageTimeout,
	}
}

// Backoff returns the wait before retry number attempt (0-based): base
// doubling each time, capped at BackoffMax.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
