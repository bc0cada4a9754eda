package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 3 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealth pings every dependency concurrently and reports 503 when any of
// them fails.
func NewHealth(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		var (
			mu       sync.Mutex
			checks   = make(map[string]string, len(deps))
			degraded bool
			g        errgroup.Group
		)
		for name, dep := range deps {
			g.Go(func() error {
				status := "ok"
				if err := dep.Ping(ctx); err != nil {
					slog.Warn("health check failed", "dependency", name, "error", err)
					status = "degraded"
				}
				mu.Lock()
				checks[name] = status
				degraded = degraded || status != "ok"
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
