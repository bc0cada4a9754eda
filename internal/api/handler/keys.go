package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/sooksun/teachermon-sub002/internal/api/middleware"
	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const rawKeyPrefix = "tmk_"

// Keys manages API keys. Raw keys are returned once, at creation.
type Keys struct {
	store store.Store
	cost  int
}

func NewKeys(s store.Store) *Keys {
	return &Keys{store: s, cost: bcrypt.DefaultCost}
}

type keyView struct {
	ID         uuid.UUID   `json:"id"`
	TeacherID  string      `json:"teacherId"`
	Role       models.Role `json:"role"`
	Name       string      `json:"name"`
	KeyPrefix  string      `json:"keyPrefix"`
	Key        string      `json:"key,omitempty"`
	LastUsedAt *time.Time  `json:"lastUsedAt"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func newKeyView(k *models.APIKey) keyView {
	return keyView{
		ID:         k.ID,
		TeacherID:  k.TeacherID,
		Role:       k.Role,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

func (h *Keys) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeacherID string `json:"teacherId"`
		Role      string `json:"role"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	req.TeacherID = strings.TrimSpace(req.TeacherID)
	if req.TeacherID == "" {
		badRequest(w, "teacherId is required")
		return
	}
	role := models.RoleTeacher
	if req.Role != "" {
		role = models.Role(strings.ToLower(req.Role))
	}
	if !role.Valid() {
		badRequest(w, "role must be teacher or admin")
		return
	}

	rawKey := rawKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), h.cost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		TeacherID: req.TeacherID,
		Role:      role,
		Name:      strings.TrimSpace(req.Name),
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}

	view := newKeyView(key)
	view.Key = rawKey
	response.Created(w, view)
}

// List returns active keys, optionally for one teacher (?teacherId=).
func (h *Keys) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context(), r.URL.Query().Get("teacherId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, newKeyView(k))
	}
	response.JSON(w, views)
}

func (h *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	keyID, ok := uuidParam(w, r, "keyID")
	if !ok {
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), keyID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
