// Package tasks runs units of pipeline work on a bounded in-process
// queue with awaitable results.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/metrics"
)

// Task is one unit of work.
type Task func(ctx context.Context) (any, error)

// Submission errors.
var (
	ErrQueueFull    = errors.New("task queue full")
	ErrRunnerClosed = errors.New("task runner closed")
	ErrAwaitTimeout = errors.New("task await timed out")
)

// Result is the future for one submitted task.
type Result struct {
	name  string
	done  chan struct{}
	value any
	err   error
}

// Await blocks until the task completes, the timeout fires, or ctx is
// canceled. The task keeps running after a timed-out Await; only the
// wait is abandoned.
func (r *Result) Await(ctx context.Context, timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.value, r.err
	case <-timer.C:
		return nil, fmt.Errorf("task %q: %w", r.name, ErrAwaitTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("task %q: %w", r.name, ctx.Err())
	}
}

type job struct {
	name   string
	task   Task
	result *Result
}

// Config sizes the runner.
type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Runner executes tasks on a fixed worker pool. Submission is
// non-blocking; a full queue is the caller's backpressure signal.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	queue  chan job
	active atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// mu guards closed and the queue send against a concurrent close.
	mu     sync.RWMutex
	closed bool
}

// NewRunner constructs a stopped runner.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. Tasks run under ctx; canceling it is the
// shutdown signal for in-flight work.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
		r.logger.Info("task runner started",
			zap.Int("workers", r.cfg.Workers),
			zap.Int("queue_size", r.cfg.QueueSize),
		)
	})
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(ctx, j)
		metrics.SetQueueDepth(len(r.queue))
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			j.result.err = fmt.Errorf("task %q panicked: %v", j.name, rec)
			r.logger.Error("task panicked", zap.String("task", j.name), zap.Any("panic", rec))
			r.finish(j, "panic")
		}
	}()

	value, err := j.task(ctx)
	j.result.value = value
	j.result.err = err

	status := "success"
	if err != nil {
		status = "failure"
		r.logger.Warn("task failed", zap.String("task", j.name), zap.Error(err))
	}
	r.finish(j, status)
}

func (r *Runner) finish(j job, status string) {
	close(j.result.done)
	r.active.Add(-1)
	metrics.DecActiveTasks()
	metrics.ObserveTask(status)
}

// Submit enqueues a task without blocking. ErrQueueFull tells the
// caller to back off; ErrRunnerClosed means shutdown already began.
func (r *Runner) Submit(name string, task Task) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("submit %q: %w", name, ErrRunnerClosed)
	}

	result := &Result{name: name, done: make(chan struct{})}
	j := job{name: name, task: task, result: result}

	r.active.Add(1)
	metrics.IncActiveTasks()
	select {
	case r.queue <- j:
		metrics.SetQueueDepth(len(r.queue))
		return result, nil
	default:
		r.active.Add(-1)
		metrics.DecActiveTasks()
		return nil, fmt.Errorf("submit %q: %w", name, ErrQueueFull)
	}
}

// RunInline executes a task on the caller's goroutine and returns an
// already-completed Result. Used as a fallback when the queue is full.
func RunInline(name string, task Task) *Result {
	result := &Result{name: name, done: make(chan struct{})}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				result.err = fmt.Errorf("task %q panicked: %v", name, rec)
			}
			close(result.done)
		}()
		result.value, result.err = task(context.Background())
	}()
	return result
}

// ActiveTasks reports submitted-but-unfinished tasks for the health
// monitor.
func (r *Runner) ActiveTasks() int {
	return int(r.active.Load())
}

// Shutdown stops intake and waits for queued tasks to drain.
func (r *Runner) Shutdown() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
		r.logger.Info("task runner stopped")
	})
}
