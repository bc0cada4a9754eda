package models

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactCategory names the kind of blob a job owns. There is at most one
// artifact per (job, category).
type ArtifactCategory string

const (
	CategoryRaw    ArtifactCategory = "RAW"
	CategoryAudio  ArtifactCategory = "AUDIO"
	CategoryFrames ArtifactCategory = "FRAMES"
	CategoryReport ArtifactCategory = "REPORT"
	CategoryCover  ArtifactCategory = "COVER"
)

var AllCategories = []ArtifactCategory{CategoryRaw, CategoryAudio, CategoryFrames, CategoryReport, CategoryCover}

func (c ArtifactCategory) Valid() bool {
	switch c {
	case CategoryRaw, CategoryAudio, CategoryFrames, CategoryReport, CategoryCover:
		return true
	}
	return false
}

// Billable reports whether bytes of this category count against a teacher's
// quota. Generated documents (report, cover) are stored but not billed.
func (c ArtifactCategory) Billable() bool {
	return c == CategoryRaw || c == CategoryAudio || c == CategoryFrames
}

// Artifact describes a stored blob.
type Artifact struct {
	JobID       uuid.UUID        `json:"job_id"`
	Category    ArtifactCategory `json:"category"`
	SizeBytes   int64            `json:"size_bytes"`
	Location    string           `json:"location"`
	ContentType string           `json:"content_type"`
	CreatedAt   time.Time        `json:"created_at"`
}
