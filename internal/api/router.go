package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/sooksun/teachermon-sub002/internal/api/middleware"
	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadJob   http.HandlerFunc
	LinkJob     http.HandlerFunc
	ListJobs    http.HandlerFunc
	GetJob      http.HandlerFunc
	JobStatus   http.HandlerFunc
	CancelJob   http.HandlerFunc
	DeleteJob   http.HandlerFunc
	GetArtifact http.HandlerFunc

	MyQuota  http.HandlerFunc
	GetQuota http.HandlerFunc
	SetQuota http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/upload", orNotImplemented(deps.UploadJob))
			r.Post("/link", orNotImplemented(deps.LinkJob))
			r.Get("/", orNotImplemented(deps.ListJobs))
			r.Get("/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/{jobID}/status", orNotImplemented(deps.JobStatus))
			r.Post("/{jobID}/cancel", orNotImplemented(deps.CancelJob))
			r.Delete("/{jobID}", orNotImplemented(deps.DeleteJob))
			r.Get("/{jobID}/artifacts/{category}", orNotImplemented(deps.GetArtifact))
		})

		r.Get("/api/v1/quota", orNotImplemented(deps.MyQuota))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(models.RoleAdmin))

			r.Get("/api/v1/admin/quotas/{teacherID}", orNotImplemented(deps.GetQuota))
			r.Put("/api/v1/admin/quotas/{teacherID}", orNotImplemented(deps.SetQuota))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
