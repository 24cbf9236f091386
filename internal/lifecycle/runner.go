package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/beacon/internal/idgen"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/routing"
	"github.com/alfredjeanlab/beacon/internal/taskqueue"
)

// TaskFunc is the body of a task. Its result becomes the completed body;
// a returned error completes the event as failed.
type TaskFunc func(ctx context.Context, ev *Event, req *model.Request) (any, error)

// TaskSpec binds a task name to the event type it reports under.
type TaskSpec struct {
	Name             string
	EventType        string
	RoutingStrategy  string
	ProgressThrottle float64
	Run              TaskFunc

	OnStart   func(ctx context.Context, ev *Event)
	OnSuccess func(ctx context.Context, ev *Event, result any)
	OnError   func(ctx context.Context, ev *Event, err error)
}

// TaskError fails a task with a user-facing result instead of the error
// text.
type TaskError struct {
	Result any
	Err    error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprint(e.Result)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TaskRegistry is the task queue as seen by the runner.
type TaskRegistry interface {
	Tasks
	Register(name string, h taskqueue.Handler) error
}

// Principals looks up the principal a task runs for.
type Principals interface {
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)
}

// Runner wraps task bodies so that each run creates an event, starts it,
// and completes it with the body's outcome.
type Runner struct {
	m          *Manager
	queue      TaskRegistry
	principals Principals
	logger     *slog.Logger

	mu    sync.RWMutex
	specs map[string]TaskSpec
}

func NewRunner(m *Manager, queue TaskRegistry, principals Principals, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		m:          m,
		queue:      queue,
		principals: principals,
		logger:     logger,
		specs:      make(map[string]TaskSpec),
	}
}

// Define registers spec with the task queue.
func (r *Runner) Define(spec TaskSpec) error {
	if spec.Name == "" || spec.EventType == "" || spec.Run == nil {
		return fmt.Errorf("define task: name, event type and body are required")
	}
	if err := routing.Validate(&model.Principal{}, spec.RoutingStrategy); err != nil {
		return fmt.Errorf("define task %s: %w", spec.Name, err)
	}
	if err := r.queue.Register(spec.Name, func(ctx context.Context, t taskqueue.Task) error {
		return r.run(ctx, spec, t)
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.specs[spec.Name] = spec
	r.mu.Unlock()
	return nil
}

// Spec returns the definition of a task.
func (r *Runner) Spec(name string) (TaskSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Submit enqueues a run of the named task for principal. The returned
// event id is assigned up front; the event itself is created when the task
// starts.
func (r *Runner) Submit(ctx context.Context, name string, principal *model.Principal, data json.RawMessage, args map[string]any) (eventID, taskID string, err error) {
	if _, ok := r.Spec(name); !ok {
		return "", "", fmt.Errorf("%w: %q", taskqueue.ErrUnknownTask, name)
	}
	eventID, err = idgen.EventID()
	if err != nil {
		return "", "", err
	}
	req := model.Request{EventID: eventID, Data: data, Args: args}
	if principal != nil {
		req.UserID = principal.ID
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("encode request: %w", err)
	}
	taskID, err = r.queue.Submit(ctx, name, payload)
	if err != nil {
		return "", "", err
	}
	return eventID, taskID, nil
}

func (r *Runner) run(ctx context.Context, spec TaskSpec, t taskqueue.Task) error {
	var req model.Request
	if err := json.Unmarshal(t.Payload, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	var principal *model.Principal
	if req.UserID != "" {
		p, err := r.principals.GetPrincipal(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("load principal %s: %w", req.UserID, err)
		}
		principal = p
	}

	ev, err := r.m.Create(ctx, CreateParams{
		ID:               req.EventID,
		Type:             spec.EventType,
		Principal:        principal,
		RoutingStrategy:  spec.RoutingStrategy,
		ProgressThrottle: spec.ProgressThrottle,
		TaskID:           t.ID,
		TaskName:         spec.Name,
		Request:          t.Payload,
	})
	if err != nil {
		return err
	}
	if err := ev.Start(ctx); err != nil {
		ev.Close()
		return err
	}
	if spec.OnStart != nil {
		spec.OnStart(ctx, ev)
	}

	result, runErr := spec.Run(ctx, ev, &req)

	// A revoked task was canceled by whoever revoked it.
	if ctx.Err() != nil {
		ev.Close()
		return ctx.Err()
	}

	if runErr != nil {
		var te *TaskError
		var failure any = runErr.Error()
		if errors.As(runErr, &te) && te.Result != nil {
			failure = te.Result
		}
		if err := ev.Complete(ctx, failure, false); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		if spec.OnError != nil {
			spec.OnError(ctx, ev, runErr)
		}
		return runErr
	}

	if err := ev.Complete(ctx, result, true); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	if spec.OnSuccess != nil {
		spec.OnSuccess(ctx, ev, result)
	}
	return nil
}
