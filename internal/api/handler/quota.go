package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/internal/reporting"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

type QuotaReader interface {
	GetQuota(ctx context.Context, teacherID string) (reporting.QuotaView, error)
}

// LimitSetter changes a teacher's configured ceiling.
type LimitSetter interface {
	SetLimit(ctx context.Context, teacherID string, limitBytes int64) (models.QuotaAccount, error)
}

type Quota struct {
	reader QuotaReader
	limits LimitSetter
}

func NewQuota(reader QuotaReader, limits LimitSetter) *Quota {
	return &Quota{reader: reader, limits: limits}
}

// Mine serves GET /quota for the caller.
func (h *Quota) Mine(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	h.write(w, r, id.TeacherID)
}

// Get serves the admin view of any teacher.
func (h *Quota) Get(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, chi.URLParam(r, "teacherID"))
}

// Put sets a teacher's limit. Lowering it below current usage is allowed;
// new reservations are refused until usage drops.
func (h *Quota) Put(w http.ResponseWriter, r *http.Request) {
	teacherID := strings.TrimSpace(chi.URLParam(r, "teacherID"))
	var req struct {
		LimitBytes int64 `json:"limitBytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	if req.LimitBytes <= 0 {
		badRequest(w, "limitBytes must be greater than zero")
		return
	}
	acct, err := h.limits.SetLimit(r.Context(), teacherID, req.LimitBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, reporting.NewQuotaView(acct))
}

func (h *Quota) write(w http.ResponseWriter, r *http.Request, teacherID string) {
	if teacherID == "" {
		notFound(w)
		return
	}
	view, err := h.reader.GetQuota(r.Context(), teacherID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, view)
}
