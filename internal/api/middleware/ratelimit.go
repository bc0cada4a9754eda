package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit counts requests per API key in clock-aligned one-minute windows.
// Counters live in the cache so every replica shares them.
type RateLimit struct {
	counter cache.Cache
	limit   int
	now     func() time.Time
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, limit: requestsPerMin, now: time.Now}
}

// Limit applies to requests carrying the key prefix set by Authenticate.
// When the counter is unreachable the request goes through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		start := now.Truncate(rateWindow)
		reset := start.Add(rateWindow)

		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitWindowKey(prefix, start), reset.Sub(now)+time.Second)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-count, 0), 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.limit) {
			wait := int(reset.Sub(now).Round(time.Second).Seconds())
			h.Set("Retry-After", strconv.Itoa(max(wait, 1)))
			response.Error(w, http.StatusTooManyRequests, response.CodeRateLimitExceeded, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
