package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
)

// Task is one queued processing request. Cleanup marks the file as a
// temporary upload to remove once processing ends; watched files stay
// in place.
type Task struct {
	JobID    string
	Path     string
	Filename string
	Options  extract.Options
	Cleanup  bool
}

// ProcessFunc runs one task to completion. It owns the job's state
// transitions; the queue only dispatches.
type ProcessFunc func(ctx context.Context, task Task)

// Queue is a bounded worker pool for background document processing.
type Queue struct {
	process ProcessFunc
	logger  *zap.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue creates the pool and starts its workers.
func NewQueue(process ProcessFunc, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		process: process,
		logger:  logger,
		workers: 2,
		timeout: 10 * time.Minute,
		ch:      make(chan Task, 16),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", zap.Int("worker_id", workerID))

				for task := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					q.safeProcess(ctx, workerID, task)
					cancel()
				}

				q.logger.Info("worker stopped", zap.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

// safeProcess keeps a panicking task from taking the worker down.
func (q *Queue) safeProcess(ctx context.Context, workerID int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("worker recovered from panic",
				zap.Int("worker_id", workerID),
				zap.String("job_id", task.JobID),
				zap.Any("panic", r),
			)
		}
	}()
	q.process(ctx, task)
}

// Enqueue submits a task without blocking. A full or closing queue
// reports ErrQueueFull so the caller can push back on the client.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", zap.String("job_id", task.JobID))
		return apperrors.ErrQueueFull
	}

	select {
	case q.ch <- task:
		q.logger.Info("queued document for processing", zap.String("job_id", task.JobID))
		return nil
	default:
		q.logger.Warn("queue full, rejecting task", zap.String("job_id", task.JobID))
		return apperrors.ErrQueueFull
	}
}

// Depth returns the number of queued tasks not yet picked up.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Shutdown stops accepting tasks and waits for in-flight work to drain
// or the context to expire.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
