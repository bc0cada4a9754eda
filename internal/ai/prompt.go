package ai

import (
	"fmt"
	"strings"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const SummarySystemPrompt = `You summarize classroom lesson transcripts for teacher mentors.
Write 5 to 8 sentences in the language of the transcript. Cover the lesson
objective, teaching activities, student participation and classroom climate.
Do not invent events that are not in the transcript.`

const ReportSystemPrompt = `You are an instructional coach reviewing a recorded lesson.
Respond with a single JSON object with these keys:
"overview" (string), "strengths" (array of strings), "improvements" (array of
strings), "studentEngagement" (string), "classroomManagement" (string),
"indicatorNotes" (object keyed by indicator code, string values).
Base every statement on the supplied transcript summary, frames and metadata.`

const EvaluationSystemPrompt = `You evaluate a recorded lesson against teacher competency indicators.
Respond with a single JSON object: {"result": {"scores": {<indicator code>: <integer 1-5>},
"overall": <integer 1-5>, "evidence": {<indicator code>: <string>}},
"advice": <string with concrete next steps for the teacher>}.
When no indicator codes are given, score "overall" only.`

// LessonPrompt renders the user message shared by report and evaluation.
func LessonPrompt(in models.LessonInput) string {
	var b strings.Builder
	if in.Title != "" {
		fmt.Fprintf(&b, "Lesson title: %s\n", in.Title)
	}
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	if in.EvidenceType != "" {
		fmt.Fprintf(&b, "Evidence type: %s\n", in.EvidenceType)
	}
	if len(in.IndicatorCodes) > 0 {
		fmt.Fprintf(&b, "Indicator codes: %s\n", strings.Join(in.IndicatorCodes, ", "))
	}
	if in.TranscriptSummary != "" {
		fmt.Fprintf(&b, "\nTranscript summary:\n%s\n", in.TranscriptSummary)
	} else {
		b.WriteString("\nNo transcript is available; rely on the metadata")
		if len(in.Frames) > 0 {
			b.WriteString(" and frames")
		}
		b.WriteString(".\n")
	}
	if len(in.Frames) > 0 {
		fmt.Fprintf(&b, "\n%d frames from the lesson are attached in time order.\n", len(in.Frames))
	}
	return b.String()
}

// CoverPrompt describes the cover illustration for a lesson.
func CoverPrompt(in models.CoverInput) string {
	title := in.Title
	if title == "" {
		title = "a classroom lesson"
	}
	return fmt.Sprintf("A clean, friendly flat illustration for a lesson portfolio cover titled %q. "+
		"Show a classroom scene with a teacher and students. No text in the image.", title)
}
