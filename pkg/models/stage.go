package models

// Stage names one step of the analysis pipeline.
type Stage string

const (
	StageTranscript Stage = "transcript"
	StageFrames     Stage = "frames"
	StageReport     Stage = "report"
	StageCover      Stage = "cover"
	StageEvaluation Stage = "evaluation"
)

// StageOrder is the fixed order stages are considered in.
var StageOrder = []Stage{StageTranscript, StageFrames, StageReport, StageCover, StageEvaluation}

func (s Stage) Valid() bool {
	for _, st := range StageOrder {
		if st == s {
			return true
		}
	}
	return false
}
