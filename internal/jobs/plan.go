package jobs

import (
	"slices"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

var modeStages = map[models.AnalysisMode][]models.Stage{
	models.ModeFull:  {models.StageTranscript, models.StageFrames, models.StageReport, models.StageCover, models.StageEvaluation},
	models.ModeLight: {models.StageTranscript, models.StageFrames, models.StageEvaluation},
}

// dependencies lists what each stage consumes. Transcript and frames read
// only the source media.
var dependencies = map[models.Stage][]models.Stage{
	models.StageReport:     {models.StageTranscript, models.StageFrames},
	models.StageEvaluation: {models.StageTranscript, models.StageFrames},
	models.StageCover:      {models.StageFrames},
}

// mediaStages need the source video itself.
var mediaStages = []models.Stage{models.StageTranscript, models.StageFrames, models.StageCover}

// Extractable reports whether the job carries media ffmpeg can read.
func Extractable(job *models.Job) bool {
	if job.SourceType == models.SourceFileUpload {
		return true
	}
	return job.VideoPlatform.AllowsExtraction()
}

// Plan returns the stages a job runs, in pipeline order. Links that cannot
// be extracted run report and evaluation on their metadata alone.
func Plan(job *models.Job) []models.Stage {
	stages := modeStages[job.AnalysisMode]
	if stages == nil {
		stages = modeStages[models.ModeFull]
	}
	extractable := Extractable(job)

	plan := make([]models.Stage, 0, len(stages))
	for _, s := range stages {
		if !extractable && slices.Contains(mediaStages, s) {
			continue
		}
		plan = append(plan, s)
	}
	return plan
}

// DependsOn returns the in-plan stages that must finish before stage starts.
func DependsOn(stage models.Stage, plan []models.Stage) []models.Stage {
	var deps []models.Stage
	for _, d := range dependencies[stage] {
		if slices.Contains(plan, d) {
			deps = append(deps, d)
		}
	}
	return deps
}

// StageDone reports whether the stage's results are already on the job.
func StageDone(job *models.Job, stage models.Stage) bool {
	switch stage {
	case models.StageTranscript:
		return job.HasTranscript
	case models.StageFrames:
		return job.HasFrames
	case models.StageReport:
		return job.HasReport
	case models.StageCover:
		return job.HasCover
	case models.StageEvaluation:
		return job.EvaluationResult != nil
	}
	return false
}
