// Package queue runs prediction requests in arrival order on a bounded
// worker pool. Callers push a job, receive a hash and poll (or watch) its
// status until it completes.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pkg/worker"
)

// Status is the lifecycle stage of a job.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusPending  Status = "PENDING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Handler executes a job's action on its payload.
type Handler func(ctx context.Context, action string, data json.RawMessage) (any, error)

// JobStatus is a snapshot of a job.
type JobStatus struct {
	Hash   string `json:"hash"`
	Status Status `json:"status"`
	// Position counts the queued jobs ahead of this one.
	Position int    `json:"position,omitempty"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

type job struct {
	hash   string
	action string
	data   json.RawMessage
	status Status
	result any
	err    error
}

// Queue is a FIFO of jobs served by a worker pool.
type Queue struct {
	name    string
	handler Handler
	pool    *worker.Pool[*job]
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.Mutex
	jobs      map[string]*job
	queued    []string
	finished  []string
	retention int
	watchers  map[string][]chan JobStatus
}

type options struct {
	workers   int
	capacity  int
	retention int
	registry  metric.MetricsRegistrar
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// Option configures a Queue.
type Option func(*options)

// WithWorkers sets how many jobs run concurrently.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithCapacity sets how many jobs may wait.
func WithCapacity(n int) Option { return func(o *options) { o.capacity = n } }

// WithRetention sets how many finished jobs stay queryable.
func WithRetention(n int) Option { return func(o *options) { o.retention = n } }

// WithRegistry exports worker pool metrics.
func WithRegistry(r metric.MetricsRegistrar) Option { return func(o *options) { o.registry = r } }

// WithMetrics reports the queue depth.
func WithMetrics(m *metric.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a stopped queue.
func New(name string, handler Handler, opts ...Option) (*Queue, error) {
	if handler == nil {
		return nil, errors.NewConfiguration("queue %q needs a handler", name)
	}
	o := options{workers: 1, capacity: 256, retention: 1024, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	q := &Queue{
		name:      name,
		handler:   handler,
		logger:    o.logger.With("component", "queue", "queue", name),
		metrics:   o.metrics,
		jobs:      make(map[string]*job),
		retention: o.retention,
		watchers:  make(map[string][]chan JobStatus),
	}
	var poolOpts []worker.Option[*job]
	if o.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*job](o.registry, "queue_"+name))
	}
	q.pool = worker.NewPool(o.workers, o.capacity, q.process, poolOpts...)
	return q, nil
}

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Queue", "Start", "start worker pool")
	}
	q.logger.Info("Queue started")
	return nil
}

// Stop waits up to timeout for queued jobs to finish.
func (q *Queue) Stop(timeout time.Duration) error {
	if err := q.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Queue", "Stop", "stop worker pool")
	}
	return nil
}

// Push enqueues a job and returns its hash and the number of jobs queued
// ahead of it.
func (q *Queue) Push(action string, data json.RawMessage) (string, int, error) {
	j := &job{hash: uuid.NewString(), action: action, data: data, status: StatusQueued}

	q.mu.Lock()
	position := len(q.queued)
	q.jobs[j.hash] = j
	q.queued = append(q.queued, j.hash)
	q.mu.Unlock()

	if err := q.pool.Submit(j); err != nil {
		q.mu.Lock()
		delete(q.jobs, j.hash)
		q.queued = remove(q.queued, j.hash)
		q.mu.Unlock()
		if stderrors.Is(err, worker.ErrQueueFull) {
			return "", 0, errors.WrapTransient(errors.ErrQueueFull, "Queue", "Push", "submit job")
		}
		return "", 0, errors.Wrap(err, "Queue", "Push", "submit job")
	}
	q.reportDepth()
	return j.hash, position, nil
}

// Status returns a snapshot of the job with hash.
func (q *Queue) Status(hash string) (JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[hash]
	if !ok {
		return JobStatus{}, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrJobUnknown, hash), "Queue", "Status", "find job")
	}
	return q.snapshot(j), nil
}

// Watch returns a channel receiving the job's status after every change,
// starting with the current one. The channel is closed after a terminal
// status or when cancel is called.
func (q *Queue) Watch(hash string) (<-chan JobStatus, func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[hash]
	if !ok {
		return nil, nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrJobUnknown, hash), "Queue", "Watch", "find job")
	}
	ch := make(chan JobStatus, 8)
	ch <- q.snapshot(j)
	if j.status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	q.watchers[hash] = append(q.watchers[hash], ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, w := range q.watchers[hash] {
				if w == ch {
					q.watchers[hash] = slices.Delete(q.watchers[hash], i, i+1)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

func (q *Queue) process(ctx context.Context, j *job) error {
	q.transition(j, StatusPending, nil, nil)
	q.reportDepth()

	result, err := q.handler(ctx, j.action, j.data)
	if err != nil {
		q.logger.Warn("Job failed", "hash", j.hash, "action", j.action, "error", err)
		q.transition(j, StatusFailed, nil, err)
		return err
	}
	q.transition(j, StatusComplete, result, nil)
	return nil
}

func (q *Queue) transition(j *job, status Status, result any, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j.status = status
	j.result = result
	j.err = err

	if status == StatusPending {
		q.queued = remove(q.queued, j.hash)
		// Every job still waiting moved up one place.
		for _, h := range q.queued {
			q.notify(h)
		}
	}
	q.notify(j.hash)

	if status.Terminal() {
		for _, ch := range q.watchers[j.hash] {
			close(ch)
		}
		delete(q.watchers, j.hash)
		q.finished = append(q.finished, j.hash)
		if q.retention > 0 && len(q.finished) > q.retention {
			delete(q.jobs, q.finished[0])
			q.finished = q.finished[1:]
		}
	}
}

// notify must be called with mu held.
func (q *Queue) notify(hash string) {
	j, ok := q.jobs[hash]
	if !ok {
		return
	}
	s := q.snapshot(j)
	for _, ch := range q.watchers[hash] {
		select {
		case ch <- s:
		default:
		}
	}
}

// snapshot must be called with mu held.
func (q *Queue) snapshot(j *job) JobStatus {
	s := JobStatus{Hash: j.hash, Status: j.status, Data: j.result}
	if j.status == StatusQueued {
		s.Position = slices.Index(q.queued, j.hash)
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

func (q *Queue) reportDepth() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(q.name, q.Depth())
	}
}

func remove(hashes []string, hash string) []string {
	if i := slices.Index(hashes, hash); i >= 0 {
		return slices.Delete(hashes, i, i+1)
	}
	return hashes
}
