// Package handler holds the HTTP handlers. They translate requests into calls
// on the ingestion, pipeline and reporting layers and map domain errors onto
// the response envelope.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/sooksun/teachermon-sub002/internal/api/middleware"
	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/ingest"
	"github.com/sooksun/teachermon-sub002/internal/jobs"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// writeError maps err onto a status and error code. Unknown errors are
// logged and reported as INTERNAL_ERROR without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *jobs.InvalidSourceError
	var exceeded *quota.ExceededError

	switch {
	case errors.As(err, &invalid):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidSource,
			invalid.Field+": "+invalid.Reason, map[string]string{"field": invalid.Field})
	case errors.Is(err, jobs.ErrInvalidSource):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidSource, err.Error(), nil)
	case errors.As(err, &exceeded):
		response.Error(w, http.StatusRequestEntityTooLarge, response.CodeQuotaExceeded,
			"Storage quota exceeded", map[string]int64{
				"requestedBytes": exceeded.Requested,
				"usageBytes":     exceeded.Usage,
				"limitBytes":     exceeded.Limit,
				"remainingBytes": max(exceeded.Remaining(), 0),
			})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		notFound(w)
	case errors.Is(err, ingest.ErrForbidden):
		response.Error(w, http.StatusForbidden, response.CodeForbidden, "Not allowed to act for another teacher", nil)
	case errors.Is(err, jobs.ErrTerminal), errors.Is(err, jobs.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, response.CodeConflict, err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, response.CodeConflict, "Resource already exists", nil)
	case errors.Is(err, jobs.ErrQueueFull):
		response.Error(w, http.StatusServiceUnavailable, response.CodeUnavailable, "Pipeline is busy, retry later", nil)
	default:
		slog.Error("request failed", "request_id", mw.RequestID(r.Context()), "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
	}
}

func notFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found", nil)
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, message, nil)
}

// caller returns the authenticated identity or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing identity", nil)
	}
	return id, ok
}

// canSee reports whether id may read or act on teacherID's resources.
func canSee(id models.Identity, teacherID string) bool {
	return id.Role == models.RoleAdmin || id.TeacherID == teacherID
}

// uuidParam parses a route parameter. An unparseable id is reported as 404.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		notFound(w)
		return uuid.Nil, false
	}
	return id, true
}
