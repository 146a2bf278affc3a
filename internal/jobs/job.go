// Package jobs owns the job lifecycle: creation, progress reporting,
// terminal transitions, and the background processing queue.
package jobs

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one in-flight or finished processing request. Error is set if
// and only if the job failed; CompletedAt is set if and only if the job
// reached a terminal state.
type Job struct {
	ID          string     `json:"job_id"`
	Filename    string     `json:"filename"`
	FileSize    int64      `json:"file_size"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
