package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
)

// Manager is the in-memory job table. Each job has a single writer (the
// worker processing it) but is read concurrently by status pollers, so
// every access goes through the lock and reads hand out copies.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string]*extract.ExtractionResult
	order   []string
	logger  *zap.Logger
}

// NewManager creates an empty job table.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		jobs:    make(map[string]*Job),
		results: make(map[string]*extract.ExtractionResult),
		logger:  logger,
	}
}

// Create allocates a new pending job and returns its snapshot.
func (m *Manager) Create(filename string, fileSize int64) Job {
	job := &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		FileSize:  fileSize,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	m.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("filename", filename),
		zap.Int64("file_size", fileSize),
	)
	return *job
}

// Start transitions pending to processing. Anything else is a silent
// no-op so a double dispatch cannot restart a running job.
func (m *Manager) Start(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != StatusPending {
		m.logger.Debug("start ignored", zap.String("job_id", jobID))
		return
	}

	now := time.Now().UTC()
	job.Status = StatusProcessing
	job.StartedAt = &now
}

// ReportProgress records a progress update for a processing job. The
// percent is clamped into [0,100] and must not decrease; stale reports
// are dropped.
func (m *Manager) ReportProgress(jobID string, percent int, step string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		return
	}
	if percent < job.Progress {
		m.logger.Debug("out-of-order progress dropped",
			zap.String("job_id", jobID),
			zap.Int("reported", percent),
			zap.Int("current", job.Progress),
		)
		return
	}

	job.Progress = percent
	if step != "" {
		job.CurrentStep = step
	}
}

// Complete transitions processing to completed and stores the result.
func (m *Manager) Complete(jobID string, result *extract.ExtractionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		m.logger.Warn("complete ignored", zap.String("job_id", jobID))
		return
	}

	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	m.results[jobID] = result
}

// Fail transitions a non-terminal job to failed. Failing from pending
// covers documents rejected before any progress was reported. Progress
// is frozen where the failure happened.
func (m *Manager) Fail(jobID string, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status.Terminal() {
		m.logger.Warn("fail ignored", zap.String("job_id", jobID))
		return
	}

	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Error = message
	job.CompletedAt = &now
}

// GetStatus returns a snapshot of the job.
func (m *Manager) GetStatus(jobID string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, apperrors.ErrJobNotFound
	}
	return *job, nil
}

// GetResult returns the finished result. Unknown jobs, unfinished jobs
// and failed jobs each produce a distinct error so callers can decide
// between keep-polling and give-up.
func (m *Manager) GetResult(jobID string) (*extract.ExtractionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}

	switch job.Status {
	case StatusCompleted:
		return m.results[jobID], nil
	case StatusFailed:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrJobFailed, job.Error)
	default:
		return nil, apperrors.ErrResultNotReady
	}
}

// List returns snapshots of the most recently created jobs, newest
// first.
func (m *Manager) List(limit int) []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}

	out := make([]Job, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		if job, ok := m.jobs[m.order[i]]; ok {
			out = append(out, *job)
		}
	}
	return out
}

// Delete removes a job and its result. Deleting an unknown job is not
// an error.
func (m *Manager) Delete(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return
	}

	delete(m.jobs, jobID)
	delete(m.results, jobID)
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Count returns the number of jobs currently tracked.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
