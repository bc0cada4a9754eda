package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/api/response"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/ingest"
	"github.com/sooksun/teachermon-sub002/internal/jobs"
	"github.com/sooksun/teachermon-sub002/internal/reporting"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const (
	maxFieldBytes     = 4 << 10
	defaultPresignTTL = 15 * time.Minute
	defaultPageLimit  = 20
	maxPageLimit      = 100
)

// Ingestor accepts new evidence.
type Ingestor interface {
	FromFileUpload(ctx context.Context, in ingest.FileUpload) (*models.Job, error)
	FromVideoLink(ctx context.Context, in ingest.VideoLink) (*models.Job, error)
}

// JobReader is the reporting façade.
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*reporting.JobView, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]reporting.JobView, int, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (reporting.StatusView, error)
}

// JobControl stops and removes jobs.
type JobControl interface {
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

// Jobs serves /api/v1/jobs.
type Jobs struct {
	ingest     Ingestor
	reader     JobReader
	control    JobControl
	artifacts  artifact.Store
	presignTTL time.Duration
}

func NewJobs(in Ingestor, reader JobReader, control JobControl, artifacts artifact.Store) *Jobs {
	return &Jobs{
		ingest:     in,
		reader:     reader,
		control:    control,
		artifacts:  artifacts,
		presignTTL: defaultPresignTTL,
	}
}

// Upload streams a multipart upload. Form fields must precede the file part
// so the quota pre-check runs before any file bytes are read.
func (h *Jobs) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, &jobs.InvalidSourceError{Field: "file", Reason: "expected a multipart/form-data body"})
		return
	}

	in := ingest.FileUpload{Caller: id}
	for in.Body == nil {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, &jobs.InvalidSourceError{Field: "file", Reason: "malformed multipart body"})
			return
		}
		if part.FormName() == "file" {
			in.Filename = part.FileName()
			in.Body = part
			break
		}
		if err := uploadField(&in, part); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if in.Body == nil {
		writeError(w, r, &jobs.InvalidSourceError{Field: "file", Reason: "a file is required"})
		return
	}

	job, err := h.ingest.FromFileUpload(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, reporting.NewJobView(job))
}

func uploadField(in *ingest.FileUpload, part *multipart.Part) error {
	defer part.Close()
	raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return &jobs.InvalidSourceError{Field: part.FormName(), Reason: "unreadable form field"}
	}
	value := strings.TrimSpace(string(raw))

	switch part.FormName() {
	case "declaredSize":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return &jobs.InvalidSourceError{Field: "declaredSize", Reason: "must be an integer byte count"}
		}
		in.DeclaredBytes = n
	case "evidenceType":
		in.EvidenceType = value
	case "analysisMode":
		in.AnalysisMode = models.AnalysisMode(strings.ToUpper(value))
	case "indicatorCodes":
		in.IndicatorCodes = append(in.IndicatorCodes, strings.Split(value, ",")...)
	case "targetTeacherId":
		in.TargetTeacherID = value
	}
	return nil
}

type linkRequest struct {
	VideoURL         string   `json:"videoUrl"`
	VideoTitle       string   `json:"videoTitle"`
	VideoDescription string   `json:"videoDescription"`
	VideoPlatform    string   `json:"videoPlatform"`
	EvidenceType     string   `json:"evidenceType"`
	IndicatorCodes   []string `json:"indicatorCodes"`
	AnalysisMode     string   `json:"analysisMode"`
	TargetTeacherID  string   `json:"targetTeacherId"`
}

func (h *Jobs) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}

	job, err := h.ingest.FromVideoLink(r.Context(), ingest.VideoLink{
		Caller:          id,
		TargetTeacherID: strings.TrimSpace(req.TargetTeacherID),
		URL:             req.VideoURL,
		Title:           req.VideoTitle,
		Description:     req.VideoDescription,
		Platform:        models.Platform(strings.ToUpper(strings.TrimSpace(req.VideoPlatform))),
		Evidence: ingest.Evidence{
			AnalysisMode:   models.AnalysisMode(strings.ToUpper(req.AnalysisMode)),
			EvidenceType:   req.EvidenceType,
			IndicatorCodes: req.IndicatorCodes,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, reporting.NewJobView(job))
}

// List returns the caller's jobs newest first. Admins may list any teacher
// with ?teacherId= or everyone without it.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, limit, err := pageParams(q.Get("page"), q.Get("limit"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	filter := store.JobFilter{TeacherID: id.TeacherID, Page: page, Limit: limit}
	if id.Role == models.RoleAdmin {
		filter.TeacherID = q.Get("teacherId")
	}
	if s := q.Get("status"); s != "" {
		filter.Status = models.JobStatus(strings.ToUpper(s))
	}

	views, total, err := h.reader.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Collection(w, views, response.Page(page, limit, total))
}

func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	view, err := h.reader.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canSee(id, view.TeacherID) {
		notFound(w)
		return
	}
	response.JSON(w, view)
}

func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	if st, ok := h.owned(w, r); ok {
		response.JSON(w, st)
	}
}

func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	st, ok := h.owned(w, r)
	if !ok {
		return
	}
	job, err := h.control.Cancel(r.Context(), st.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, reporting.NewJobView(job))
}

func (h *Jobs) Delete(w http.ResponseWriter, r *http.Request) {
	st, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.control.Delete(r.Context(), st.ID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Artifact redirects to a presigned URL when the backend can issue one and
// streams the blob otherwise.
func (h *Jobs) Artifact(w http.ResponseWriter, r *http.Request) {
	st, ok := h.owned(w, r)
	if !ok {
		return
	}
	jobID := st.ID
	category := models.ArtifactCategory(strings.ToUpper(chi.URLParam(r, "category")))
	if !category.Valid() {
		notFound(w)
		return
	}

	if p, ok := h.artifacts.(artifact.Presigner); ok {
		if _, err := h.artifacts.Stat(r.Context(), jobID, category); err != nil {
			writeError(w, r, err)
			return
		}
		url, err := p.PresignedURL(r.Context(), jobID, category, h.presignTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	rc, art, err := h.artifacts.Open(r.Context(), jobID, category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	ct := art.ContentType
	if ct == "" {
		ct = artifact.DefaultContentType(category)
	}
	name := jobID.String() + "-" + strings.ToLower(string(category)) + artifact.Extension(category)
	if n, err := response.Attachment(w, name, ct, art.SizeBytes, rc); err != nil {
		slog.Warn("artifact download interrupted", "job_id", jobID, "category", category, "sent_bytes", n, "error", err)
	}
}

// owned resolves the job id and checks the caller may act on it. Jobs of
// other teachers are reported as missing.
func (h *Jobs) owned(w http.ResponseWriter, r *http.Request) (reporting.StatusView, bool) {
	id, ok := caller(w, r)
	if !ok {
		return reporting.StatusView{}, false
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return reporting.StatusView{}, false
	}
	st, err := h.reader.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return reporting.StatusView{}, false
	}
	if !canSee(id, st.TeacherID) {
		notFound(w)
		return reporting.StatusView{}, false
	}
	return st, true
}

func pageParams(pageStr, limitStr string) (int, int, error) {
	page, limit := 1, defaultPageLimit
	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil || n < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = n
	}
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(n, maxPageLimit)
	}
	return page, limit, nil
}
