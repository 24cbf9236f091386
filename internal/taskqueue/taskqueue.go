// Package taskqueue runs named background tasks on a bounded worker pool.
// Tasks can be revoked: a pending task is skipped and a running task has
// its context canceled.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/beacon/internal/idgen"
	"github.com/alfredjeanlab/beacon/internal/metrics"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrStopped     = errors.New("task queue stopped")
)

const pendingBuffer = 1024

// Task is one submission.
type Task struct {
	ID          string
	Name        string
	Payload     []byte
	SubmittedAt time.Time
}

// Handler runs a task. ctx is canceled when the task is revoked.
type Handler func(ctx context.Context, t Task) error

type job struct {
	task    Task
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	revoked atomic.Bool
}

// Queue is an in-process task queue.
type Queue struct {
	workers int
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	jobs     map[string]*job

	pending    chan *job
	quit       chan struct{}
	dispatched chan struct{}
	started    atomic.Bool
	stopOnce   sync.Once

	base       context.Context
	cancelBase context.CancelFunc
	g          errgroup.Group
}

// New returns a queue that runs at most workers tasks at once.
func New(workers int, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Queue{
		workers:    workers,
		logger:     logger,
		handlers:   make(map[string]Handler),
		jobs:       make(map[string]*job),
		pending:    make(chan *job, pendingBuffer),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
		base:       base,
		cancelBase: cancel,
	}
}

// Register binds a handler to a task name.
func (q *Queue) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("register task: name and handler are required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[name]; ok {
		return fmt.Errorf("register task: %q already registered", name)
	}
	q.handlers[name] = h
	return nil
}

// Names lists registered task names, sorted.
func (q *Queue) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.handlers))
	for n := range q.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins dispatching submitted tasks to workers.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.g.SetLimit(q.workers)
	go q.dispatch()
}

// Submit enqueues a task and returns its id.
func (q *Queue) Submit(ctx context.Context, name string, payload []byte) (string, error) {
	select {
	case <-q.quit:
		return "", ErrStopped
	default:
	}

	q.mu.Lock()
	h, ok := q.handlers[name]
	q.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	id, err := idgen.TaskID()
	if err != nil {
		return "", err
	}
	jctx, cancel := context.WithCancel(q.base)
	j := &job{
		task:    Task{ID: id, Name: name, Payload: payload, SubmittedAt: time.Now().UTC()},
		handler: h,
		ctx:     jctx,
		cancel:  cancel,
	}

	q.mu.Lock()
	q.jobs[id] = j
	q.mu.Unlock()

	select {
	case q.pending <- j:
		return id, nil
	case <-q.quit:
		q.forget(j)
		return "", ErrStopped
	case <-ctx.Done():
		q.forget(j)
		return "", ctx.Err()
	}
}

// Revoke cancels a task. Revoking a finished or unknown task is a no-op.
func (q *Queue) Revoke(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	j.revoked.Store(true)
	j.cancel()
	return nil
}

// Stop stops accepting tasks and waits for running ones. When ctx expires
// first, running tasks are canceled. Tasks still pending are dropped.
func (q *Queue) Stop(ctx context.Context) {
	q.stopOnce.Do(func() {
		close(q.quit)
		if q.started.Load() {
			<-q.dispatched
		}
		done := make(chan struct{})
		go func() {
			_ = q.g.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			q.cancelBase()
			<-done
		}
		q.cancelBase()

		for {
			select {
			case j := <-q.pending:
				q.logger.Warn("dropping pending task at shutdown", "task", j.task.Name, "id", j.task.ID)
				q.forget(j)
			default:
				return
			}
		}
	})
}

func (q *Queue) dispatch() {
	defer close(q.dispatched)
	for {
		select {
		case <-q.quit:
			return
		case j := <-q.pending:
			if j.revoked.Load() {
				metrics.TasksTotal.WithLabelValues(j.task.Name, "revoked").Inc()
				q.forget(j)
				continue
			}
			q.g.Go(func() error {
				q.run(j)
				return nil
			})
		}
	}
}

func (q *Queue) run(j *job) {
	defer q.forget(j)
	defer func() {
		if r := recover(); r != nil {
			metrics.TasksTotal.WithLabelValues(j.task.Name, "panic").Inc()
			q.logger.Error("task panicked", "task", j.task.Name, "id", j.task.ID, "panic", r)
		}
	}()
	if j.revoked.Load() {
		metrics.TasksTotal.WithLabelValues(j.task.Name, "revoked").Inc()
		return
	}

	err := j.handler(j.ctx, j.task)
	switch {
	case j.revoked.Load():
		metrics.TasksTotal.WithLabelValues(j.task.Name, "revoked").Inc()
	case err != nil:
		metrics.TasksTotal.WithLabelValues(j.task.Name, "error").Inc()
		q.logger.Error("task failed", "task", j.task.Name, "id", j.task.ID, "err", err)
	default:
		metrics.TasksTotal.WithLabelValues(j.task.Name, "ok").Inc()
	}
}

func (q *Queue) forget(j *job) {
	j.cancel()
	q.mu.Lock()
	delete(q.jobs, j.task.ID)
	q.mu.Unlock()
}
