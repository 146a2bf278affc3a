// Package ingest watches hot folders and submits dropped documents for
// processing, so watched files flow through the same pipeline as API
// uploads.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
)

// Watcher monitors the configured directories recursively. Rapid event
// bursts for the same file (create followed by writes while the file is
// still being copied in) are coalesced by the debounce window, and
// directories created after startup are picked up automatically.
type Watcher struct {
	config  *config.Config
	manager *jobs.Manager
	queue   *jobs.Queue
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool

	pendingMu sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
}

// NewWatcher creates a watcher. Start must be called to begin watching.
func NewWatcher(cfg *config.Config, manager *jobs.Manager, queue *jobs.Queue, logger *zap.Logger) *Watcher {
	return &Watcher{
		config:  cfg,
		manager: manager,
		queue:   queue,
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

// Start begins watching the configured directories.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("ingest watcher already running")
	}
	if len(w.config.Ingest.WatchDirs) == 0 {
		return fmt.Errorf("no watch directories configured")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	for _, dir := range w.config.Ingest.WatchDirs {
		if err := w.addTree(fsw, dir); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.watcher = fsw
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("Ingest watcher started", zap.Strings("dirs", w.config.Ingest.WatchDirs))
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.watcher.Close()
	w.wg.Wait()

	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()

	w.logger.Info("Ingest watcher stopped")
}

// addTree registers root and every directory below it. Existing files
// are submitted when the initial scan is enabled.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		if w.config.Ingest.InitialScan && w.allowedFile(path) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(w.watcher, event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory",
					zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	if !w.allowedFile(event.Name) {
		return
	}
	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename) {
		w.schedule(event.Name)
	}
}

func (w *Watcher) allowedFile(path string) bool {
	return w.config.AllowedExtension(filepath.Ext(path))
}

// schedule queues a path for submission after the debounce window. A
// zero debounce submits immediately.
func (w *Watcher) schedule(path string) {
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}

	debounce := w.config.Ingest.Debounce
	if debounce <= 0 {
		w.pendingMu.Unlock()
		w.flush()
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, w.flush)
	w.pendingMu.Unlock()
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	sort.Strings(paths)
	for _, p := range paths {
		w.submit(p)
	}
}

// submit creates a job for one watched file. Watched files stay in
// place after processing, unlike uploads.
func (w *Watcher) submit(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	filename := filepath.Base(path)
	job := w.manager.Create(filename, info.Size())
	task := jobs.Task{
		JobID:    job.ID,
		Path:     path,
		Filename: filename,
		Options:  extract.DefaultOptions(),
		Cleanup:  false,
	}
	if err := w.queue.Enqueue(task); err != nil {
		w.manager.Delete(job.ID)
		w.logger.Warn("Queue full, skipping watched file", zap.String("path", path))
		return
	}

	w.logger.Info("Watched document queued",
		zap.String("path", path), zap.String("job_id", job.ID))
}
