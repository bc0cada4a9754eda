// Package reporting is the read side: job and quota projections for the API.
// Nothing here mutates state.
package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/cache"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// JobView is the external projection of a job. Timestamps are RFC 3339 UTC;
// unset optional fields serialize as null.
type JobView struct {
	ID           uuid.UUID           `json:"id"`
	TeacherID    string              `json:"teacherId"`
	SubmittedBy  string              `json:"submittedBy"`
	Status       models.JobStatus    `json:"status"`
	AnalysisMode models.AnalysisMode `json:"analysisMode"`
	SourceType   models.SourceType   `json:"sourceType"`

	OriginalFilename *string  `json:"originalFilename"`
	VideoURL         *string  `json:"videoUrl"`
	VideoTitle       *string  `json:"videoTitle"`
	VideoDescription *string  `json:"videoDescription"`
	VideoPlatform    *string  `json:"videoPlatform"`
	EvidenceType     string   `json:"evidenceType"`
	IndicatorCodes   []string `json:"indicatorCodes"`

	RawBytes    int64 `json:"rawBytes"`
	AudioBytes  int64 `json:"audioBytes"`
	FramesBytes int64 `json:"framesBytes"`
	TotalBytes  int64 `json:"totalBytes"`

	ErrorMessage *string `json:"errorMessage"`

	HasTranscript bool `json:"hasTranscript"`
	HasFrames     bool `json:"hasFrames"`
	HasReport     bool `json:"hasReport"`
	HasCover      bool `json:"hasCover"`

	TranscriptSummary *string          `json:"transcriptSummary"`
	AnalysisReport    *models.Document `json:"analysisReport"`
	EvaluationResult  *models.Document `json:"evaluationResult"`
	AIAdvice          *string          `json:"aiAdvice"`

	CreatedAt  string  `json:"createdAt"`
	UploadedAt *string `json:"uploadedAt"`
	DoneAt     *string `json:"doneAt"`
}

type QuotaView struct {
	TeacherID      string `json:"teacherId"`
	LimitBytes     int64  `json:"limitBytes"`
	UsageBytes     int64  `json:"usageBytes"`
	ReservedBytes  int64  `json:"reservedBytes"`
	RemainingBytes int64  `json:"remainingBytes"`
	UpdatedAt      string `json:"updatedAt"`
}

// StatusView is the cheap polling answer. TeacherID is for access checks
// and is not serialized.
type StatusView struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	TeacherID string    `json:"-"`
}

type QuotaReader interface {
	Snapshot(ctx context.Context, teacherID string) (models.QuotaAccount, error)
}

type Facade struct {
	store  store.Store
	quota  QuotaReader
	status cache.Cache
	logger *slog.Logger
}

// NewFacade builds the façade. status may be nil, in which case polling
// reads the store.
func NewFacade(st store.Store, ledger QuotaReader, status cache.Cache) *Facade {
	return &Facade{store: st, quota: ledger, status: status, logger: slog.Default()}
}

// GetJob reads the job straight from the store so it always reflects the
// last committed mutation.
func (f *Facade) GetJob(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	job, err := f.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewJobView(job), nil
}

func (f *Facade) GetQuota(ctx context.Context, teacherID string) (QuotaView, error) {
	acct, err := f.quota.Snapshot(ctx, teacherID)
	if err != nil {
		return QuotaView{}, fmt.Errorf("reading quota: %w", err)
	}
	return NewQuotaView(acct), nil
}

// ListJobs returns one page of jobs, newest first, and the total match count.
func (f *Facade) ListJobs(ctx context.Context, filter store.JobFilter) ([]JobView, int, error) {
	jobs, total, err := f.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, *NewJobView(j))
	}
	return views, total, nil
}

// GetStatus answers from the status cache and falls back to the store on a
// miss or a cache error. Cache writes are version-guarded and a failed write
// drops the entry, so a hit is never older than the last committed status.
func (f *Facade) GetStatus(ctx context.Context, jobID uuid.UUID) (StatusView, error) {
	if f.status != nil {
		st, ok, err := f.status.GetJobStatus(ctx, jobID)
		switch {
		case err != nil:
			f.logger.Warn("job status cache read failed", "job_id", jobID, "error", err)
		case ok:
			return StatusView{ID: jobID, Status: st.Status, TeacherID: st.TeacherID}, nil
		}
	}
	job, err := f.store.GetJob(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{ID: job.ID, Status: string(job.Status), TeacherID: job.TeacherID}, nil
}

func NewJobView(j *models.Job) *JobView {
	v := &JobView{
		ID:                j.ID,
		TeacherID:         j.TeacherID,
		SubmittedBy:       j.SubmittedBy,
		Status:            j.Status,
		AnalysisMode:      j.AnalysisMode,
		SourceType:        j.SourceType,
		OriginalFilename:  j.OriginalFilename,
		VideoURL:          j.VideoURL,
		VideoTitle:        j.VideoTitle,
		VideoDescription:  j.VideoDescription,
		EvidenceType:      j.EvidenceType,
		IndicatorCodes:    j.IndicatorCodes,
		RawBytes:          j.RawBytes,
		AudioBytes:        j.AudioBytes,
		FramesBytes:       j.FramesBytes,
		TotalBytes:        j.TotalBytes(),
		ErrorMessage:      j.ErrorMessage,
		HasTranscript:     j.HasTranscript,
		HasFrames:         j.HasFrames,
		HasReport:         j.HasReport,
		HasCover:          j.HasCover,
		TranscriptSummary: j.TranscriptSummary,
		AnalysisReport:    j.AnalysisReport,
		EvaluationResult:  j.EvaluationResult,
		AIAdvice:          j.AIAdvice,
		CreatedAt:         timestamp(j.CreatedAt),
		UploadedAt:        optionalTimestamp(j.UploadedAt),
		DoneAt:            optionalTimestamp(j.DoneAt),
	}
	if v.IndicatorCodes == nil {
		v.IndicatorCodes = []string{}
	}
	if j.VideoPlatform != "" {
		p := string(j.VideoPlatform)
		v.VideoPlatform = &p
	}
	return v
}

func NewQuotaView(a models.QuotaAccount) QuotaView {
	return QuotaView{
		TeacherID:      a.TeacherID,
		LimitBytes:     a.LimitBytes,
		UsageBytes:     a.UsageBytes,
		ReservedBytes:  a.ReservedBytes,
		RemainingBytes: a.RemainingBytes(),
		UpdatedAt:      timestamp(a.UpdatedAt),
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}
