package middleware

import "time"

// WithClock pins the rate limiter's clock.
func (rl *RateLimit) WithClock(now func() time.Time) *RateLimit {
	rl.now = now
	return rl
}
