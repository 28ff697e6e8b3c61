package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ebs-gateway/internal/metrics"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// TaskRunner is a bounded worker pool for best-effort side effects. Tasks
// never report back to the caller; failures are logged and counted.
type TaskRunner struct {
	queue   chan task
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	closeOne sync.Once
}

// NewTaskRunner starts workers goroutines draining a queue of size queueSize.
// Each task runs with its own context bounded by timeout.
func NewTaskRunner(workers, queueSize int, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *TaskRunner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	r := &TaskRunner{
		queue:   make(chan task, queueSize),
		timeout: timeout,
		log:     log,
		metrics: m,
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// Dispatch queues fn without blocking. A full or closed runner drops the task.
func (r *TaskRunner) Dispatch(name string, fn func(ctx context.Context) error) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordTaskFailure(name)
		return false
	}
	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		r.log.Debug("background task dropped", "task", name)
		r.metrics.RecordTaskFailure(name)
		return false
	}
}

func (r *TaskRunner) worker() {
	defer r.wg.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *TaskRunner) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("background task panicked", "task", t.name, "panic", rec)
			r.metrics.RecordTaskFailure(t.name)
		}
	}()

	if err := t.fn(ctx); err != nil {
		r.log.Debug("background task failed", "task", t.name, "error", err)
		r.metrics.RecordTaskFailure(t.name)
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (r *TaskRunner) Close() {
	r.closeOne.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	r.wg.Wait()
}
