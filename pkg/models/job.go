// Package models contains shared data models used across the teachermon pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies how a submission entered the system.
type SourceType string

const (
	SourceFileUpload SourceType = "FILE_UPLOAD"
	SourceVideoLink  SourceType = "VIDEO_LINK"
)

func (s SourceType) Valid() bool {
	return s == SourceFileUpload || s == SourceVideoLink
}

// AnalysisMode selects which stage pipeline variant runs for a job.
type AnalysisMode string

const (
	ModeFull  AnalysisMode = "FULL"
	ModeLight AnalysisMode = "LIGHT"
)

func (m AnalysisMode) Valid() bool {
	return m == ModeFull || m == ModeLight
}

type JobStatus string

const (
	JobStatusCreated    JobStatus = "CREATED"
	JobStatusUploading  JobStatus = "UPLOADING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusDone       JobStatus = "DONE"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further stage may run for a job in this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Platform is the hosting service of a linked video.
type Platform string

const (
	PlatformYouTube     Platform = "YOUTUBE"
	PlatformVimeo       Platform = "VIMEO"
	PlatformGoogleDrive Platform = "GOOGLE_DRIVE"
	PlatformFacebook    Platform = "FACEBOOK"
	PlatformDirect      Platform = "DIRECT"
	PlatformOther       Platform = "OTHER"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformVimeo, PlatformGoogleDrive, PlatformFacebook, PlatformDirect, PlatformOther:
		return true
	}
	return false
}

// AllowsExtraction reports whether media can be pulled from the platform for
// transcript and frame extraction. Only direct media links qualify.
func (p Platform) AllowsExtraction() bool {
	return p == PlatformDirect
}

// Job is one video submission tracked from ingestion to a terminal state.
// Byte fields are per artifact category; TotalBytes is always derived.
type Job struct {
	ID           uuid.UUID    `db:"id"            json:"id"`
	TeacherID    string       `db:"teacher_id"    json:"teacher_id"`
	SubmittedBy  string       `db:"submitted_by"  json:"submitted_by"`
	SourceType   SourceType   `db:"source_type"   json:"source_type"`
	AnalysisMode AnalysisMode `db:"analysis_mode" json:"analysis_mode"`
	Status       JobStatus    `db:"status"        json:"status"`

	OriginalFilename *string  `db:"original_filename" json:"original_filename,omitempty"`
	VideoURL         *string  `db:"video_url"         json:"video_url,omitempty"`
	VideoTitle       *string  `db:"video_title"       json:"video_title,omitempty"`
	VideoDescription *string  `db:"video_description" json:"video_description,omitempty"`
	VideoPlatform    Platform `db:"video_platform"    json:"video_platform,omitempty"`
	EvidenceType     string   `db:"evidence_type"     json:"evidence_type"`
	IndicatorCodes   []string `db:"indicator_codes"   json:"indicator_codes"`

	DeclaredBytes int64 `db:"declared_bytes" json:"declared_bytes"`
	RawBytes      int64 `db:"raw_bytes"      json:"raw_bytes"`
	AudioBytes    int64 `db:"audio_bytes"    json:"audio_bytes"`
	FramesBytes   int64 `db:"frames_bytes"   json:"frames_bytes"`

	HasTranscript bool `db:"has_transcript" json:"has_transcript"`
	HasFrames     bool `db:"has_frames"     json:"has_frames"`
	HasReport     bool `db:"has_report"     json:"has_report"`
	HasCover      bool `db:"has_cover"      json:"has_cover"`

	TranscriptSummary *string   `db:"transcript_summary" json:"transcript_summary,omitempty"`
	AnalysisReport    *Document `db:"analysis_report"    json:"analysis_report,omitempty"`
	EvaluationResult  *Document `db:"evaluation_result"  json:"evaluation_result,omitempty"`
	AIAdvice          *string   `db:"ai_advice"          json:"ai_advice,omitempty"`

	ErrorMessage        *string    `db:"error_message"         json:"error_message,omitempty"`
	UploadReservationID *uuid.UUID `db:"upload_reservation_id" json:"-"`

	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	UploadedAt *time.Time `db:"uploaded_at" json:"uploaded_at,omitempty"`
	DoneAt     *time.Time `db:"done_at"     json:"done_at,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at"  json:"updated_at"`
	Version    int        `db:"version"     json:"-"`
}

// TotalBytes is the sum of the per-category byte fields.
func (j *Job) TotalBytes() int64 {
	return j.RawBytes + j.AudioBytes + j.FramesBytes
}

// BytesFor returns the byte field tracked for a billable category.
func (j *Job) BytesFor(c ArtifactCategory) int64 {
	switch c {
	case CategoryRaw:
		return j.RawBytes
	case CategoryAudio:
		return j.AudioBytes
	case CategoryFrames:
		return j.FramesBytes
	}
	return 0
}

// Clone returns a deep copy so callers can mutate without racing the owner.
func (j *Job) Clone() *Job {
	c := *j
	if j.IndicatorCodes != nil {
		c.IndicatorCodes = append([]string(nil), j.IndicatorCodes...)
	}
	c.OriginalFilename = cloneString(j.OriginalFilename)
	c.VideoURL = cloneString(j.VideoURL)
	c.VideoTitle = cloneString(j.VideoTitle)
	c.VideoDescription = cloneString(j.VideoDescription)
	c.TranscriptSummary = cloneString(j.TranscriptSummary)
	c.AIAdvice = cloneString(j.AIAdvice)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.AnalysisReport = j.AnalysisReport.Clone()
	c.EvaluationResult = j.EvaluationResult.Clone()
	if j.UploadReservationID != nil {
		id := *j.UploadReservationID
		c.UploadReservationID = &id
	}
	if j.UploadedAt != nil {
		t := *j.UploadedAt
		c.UploadedAt = &t
	}
	if j.DoneAt != nil {
		t := *j.DoneAt
		c.DoneAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
