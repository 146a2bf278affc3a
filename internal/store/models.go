package store

import (
	"time"

	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
)

// JobRecord is one row of processing history. Rows outlive the
// in-memory job table, so a restarted server can still answer
// history queries about earlier runs.
type JobRecord struct {
	ID          string     `gorm:"primaryKey" json:"job_id"`
	Filename    string     `json:"filename"`
	FileSize    int64      `json:"file_size"`
	Status      string     `gorm:"index" json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func recordFromJob(job jobs.Job) JobRecord {
	return JobRecord{
		ID:          job.ID,
		Filename:    job.Filename,
		FileSize:    job.FileSize,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
