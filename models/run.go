package models

import "time"

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunInterrupted:
		return true
	}
	return false
}

// Run records one execution of the crawl-and-reconcile pipeline.
// A run is created in the running state and transitions exactly once to a
// terminal state, stamping FinishedAt at the same moment.
type Run struct {
	ID           uint       `json:"id"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	TotalFound   int        `json:"total_found"`
	CreatedCount int        `json:"created_count"`
	UpdatedCount int        `json:"updated_count"`
	ErrorsCount  int        `json:"errors_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunCounters carries the final counts written at the terminal transition.
type RunCounters struct {
	TotalFound   int
	CreatedCount int
	UpdatedCount int
	ErrorsCount  int
}
