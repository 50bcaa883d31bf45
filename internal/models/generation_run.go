package models

// GenerationRunStatus is the lifecycle state of an asynchronous run.
type GenerationRunStatus string

const (
	GenerationRunQueued     GenerationRunStatus = "QUEUED"
	GenerationRunRunning    GenerationRunStatus = "RUNNING"
	GenerationRunSolved     GenerationRunStatus = "SOLVED"
	GenerationRunPartial    GenerationRunStatus = "PARTIAL"
	GenerationRunInfeasible GenerationRunStatus = "INFEASIBLE"
	GenerationRunFailed     GenerationRunStatus = "FAILED"
	GenerationRunCancelled  GenerationRunStatus = "CANCELLED"
)

// Terminal reports whether the run will not change state anymore.
func (s GenerationRunStatus) Terminal() bool {
	switch s {
	case GenerationRunQueued, GenerationRunRunning:
		return false
	default:
		return true
	}
}
