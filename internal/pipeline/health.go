package pipeline

import "github.com/abelbrown/econpulse/internal/store"

// StatusUnknown is reported before any run has been recorded.
const StatusUnknown Status = "UNKNOWN"

// Health summarizes the latest run for the health endpoint.
type Health struct {
	Status  Status             `json:"status"`
	Message string             `json:"message"`
	LastRun *store.PipelineRun `json:"lastRun"`
}

// HealthOf describes last, which is nil when no run exists.
func HealthOf(last *store.PipelineRun) Health {
	if last == nil {
		return Health{Status: StatusUnknown, Message: "No pipeline runs found"}
	}
	h := Health{Status: Status(last.Status), LastRun: last}
	switch h.Status {
	case StatusSuccess:
		h.Message = "Pipeline completed successfully"
	case StatusPartial:
		h.Message = "Pipeline completed with some failures"
	case StatusFailed:
		stage := last.ErrorStage
		if stage == "" {
			stage = "unknown stage"
		}
		h.Message = "Pipeline failed at " + stage
	default:
		h.Message = "Pipeline status " + last.Status
	}
	return h
}
