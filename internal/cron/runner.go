// Package cron implements scheduled retention maintenance: expired
// uploads and export artifacts are swept from disk, old job history is
// pruned, and the result archive is compacted.
package cron

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	"github.com/mohantyajitesh/docuextract-pro/internal/store"
)

// Runner drives the retention schedule.
type Runner struct {
	retention config.RetentionConfig
	storage   config.StorageConfig
	store     *store.Store
	logger    *zap.Logger
	cron      *cron.Cron

	mu      sync.RWMutex
	running bool
	kickoff sync.WaitGroup
}

// NewRunner creates a retention runner. Start must be called to begin
// sweeping.
func NewRunner(cfg *config.Config, st *store.Store, logger *zap.Logger) *Runner {
	return &Runner{
		retention: cfg.Retention,
		storage:   cfg.Storage,
		store:     st,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the sweep and runs one immediately so a restart does
// not wait a full interval to clean up.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("retention runner already running")
	}

	schedule := r.retention.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := r.cron.AddFunc(schedule, r.Sweep); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	r.cron.Start()
	r.running = true
	r.kickoff.Add(1)
	go func() {
		defer r.kickoff.Done()
		r.Sweep()
	}()

	r.logger.Info("Retention runner started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.kickoff.Wait()
	r.logger.Info("Retention runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Sweep runs one full retention pass.
func (r *Runner) Sweep() {
	uploads := r.sweepDir(r.storage.UploadDir, r.retention.UploadMaxAge)
	artifacts := r.sweepDir(r.storage.OutputDir, r.retention.ArtifactMaxAge)

	var pruned int64
	if r.retention.HistoryMaxAge > 0 {
		n, err := r.store.PruneHistory(r.retention.HistoryMaxAge)
		if err != nil {
			r.logger.Error("Failed to prune job history", zap.Error(err))
		} else {
			pruned = n
		}
	}

	if err := r.store.GC(); err != nil {
		r.logger.Warn("Archive compaction failed", zap.Error(err))
	}

	if uploads+artifacts > 0 || pruned > 0 {
		r.logger.Info("Retention sweep finished",
			zap.Int("uploads_removed", uploads),
			zap.Int("artifacts_removed", artifacts),
			zap.Int64("history_pruned", pruned),
		)
	}
}

// sweepDir removes regular files older than maxAge. A zero maxAge
// disables the sweep for that directory.
func (r *Runner) sweepDir(dir string, maxAge time.Duration) int {
	if dir == "" || maxAge <= 0 {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to read directory", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			r.logger.Warn("Failed to remove expired file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}
