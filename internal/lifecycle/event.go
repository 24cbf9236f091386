package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/idgen"
	"github.com/alfredjeanlab/beacon/internal/metrics"
	"github.com/alfredjeanlab/beacon/internal/model"
)

// clampedProgress caps running progress; 100 is only reported by Complete.
const clampedProgress = 99.9

// Option customizes a single transition.
type Option func(*emitOptions)

type emitOptions struct {
	message    any
	hasMessage bool
}

// WithMessage replaces the default envelope with payload for this one
// transition. The payload is published verbatim.
func WithMessage(payload any) Option {
	return func(o *emitOptions) {
		o.message = payload
		o.hasMessage = true
	}
}

// Event is a live handle on one event record. Every transition persists the
// record before its notification is published.
type Event struct {
	m      *Manager
	logger *slog.Logger

	mu        sync.Mutex
	rec       *model.Event
	pub       broker.Publisher
	progress  float64
	sinceEmit float64
}

// ID returns the event id.
func (e *Event) ID() string { return e.rec.ID }

// Record returns a copy of the current record.
func (e *Event) Record() model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.rec
}

// Progress returns the running progress total.
func (e *Event) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// Start marks the event started and announces it.
func (e *Event) Start(ctx context.Context, opts ...Option) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.m.now()
	e.rec.Started = true
	e.rec.StartedAt = &now
	if err := e.m.store.SaveEvent(ctx, e.rec); err != nil {
		return fmt.Errorf("save event %s: %w", e.rec.ID, err)
	}
	e.connect(ctx)
	e.emit(ctx, model.ActionStarted, nil, nil, nil, opts)
	return nil
}

// IncrementProgress adds delta to the running total and publishes a
// progress_change once the deltas accumulated since the last publish reach
// the event's throttle. It reports whether a message was published. The
// total never exceeds 99.9 before Complete. Progress is not
// persisted.
func (e *Event) IncrementProgress(ctx context.Context, delta float64, opts ...Option) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rec.Running() || ctx.Err() != nil {
		return false
	}
	e.progress += delta
	if e.progress > clampedProgress {
		e.progress = clampedProgress
	}
	e.sinceEmit += delta
	if e.sinceEmit < e.rec.ProgressThrottle {
		return false
	}
	e.emit(ctx, model.ActionProgressChange, e.progress, nil, nil, opts)
	e.sinceEmit = 0
	return true
}

// Complete records the outcome and publishes one completed notification:
// result is the body on success and the error on failure. The publisher is
// closed whatever the outcome.
func (e *Event) Complete(ctx context.Context, result any, success bool, opts ...Option) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.pub.Disconnect()

	e.refresh(ctx)
	if !e.rec.Running() {
		return ErrNotRunning
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	now := e.m.now()
	e.rec.Completed = true
	e.rec.CompletedAt = &now
	e.rec.Status = success
	e.rec.Result = raw
	if err := e.m.store.SaveEvent(ctx, e.rec); err != nil {
		return fmt.Errorf("save event %s: %w", e.rec.ID, err)
	}

	if success {
		e.emit(ctx, model.ActionCompleted, model.StatusSuccess, result, nil, opts)
	} else {
		e.emit(ctx, model.ActionCompleted, model.StatusError, nil, result, opts)
	}
	return nil
}

// Cancel revokes the task and marks the event canceled and viewed. It
// returns false when the event may not be canceled.
func (e *Event) Cancel(ctx context.Context, opts ...Option) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rec.MayBeCanceled() {
		return false, nil
	}
	if e.m.tasks != nil && e.rec.TaskID != "" {
		if err := e.m.tasks.Revoke(e.rec.TaskID); err != nil {
			e.logger.Warn("revoke failed", "task", e.rec.TaskID, "err", err)
		}
	}

	e.rec.Canceled = true
	e.rec.Viewed = true
	if err := e.m.store.SaveEvent(ctx, e.rec); err != nil {
		return false, fmt.Errorf("save event %s: %w", e.rec.ID, err)
	}
	opened := e.connect(ctx)
	e.emit(ctx, model.ActionCanceled, nil, nil, nil, opts)
	if opened {
		e.pub.Disconnect()
	}
	return true, nil
}

// Retry re-submits the stored request under a new event id and marks this
// event retried and viewed. It returns the new event id, or false when the
// event may not be retried.
func (e *Event) Retry(ctx context.Context, opts ...Option) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rec.MayBeRetried() {
		return "", false, nil
	}
	if e.m.tasks == nil || e.rec.TaskName == "" {
		return "", false, fmt.Errorf("retry %s: no task to re-submit", e.rec.ID)
	}

	var req model.Request
	if len(e.rec.Request) > 0 {
		if err := json.Unmarshal(e.rec.Request, &req); err != nil {
			return "", false, fmt.Errorf("retry %s: decode request: %w", e.rec.ID, err)
		}
	}
	newID, err := idgen.EventID()
	if err != nil {
		return "", false, err
	}
	req.EventID = newID
	if req.UserID == "" {
		req.UserID = e.rec.UserID
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", false, fmt.Errorf("retry %s: encode request: %w", e.rec.ID, err)
	}
	if _, err := e.m.tasks.Submit(ctx, e.rec.TaskName, payload); err != nil {
		return "", false, fmt.Errorf("retry %s: %w", e.rec.ID, err)
	}

	e.rec.Retried = true
	e.rec.Viewed = true
	if err := e.m.store.SaveEvent(ctx, e.rec); err != nil {
		return "", false, fmt.Errorf("save event %s: %w", e.rec.ID, err)
	}
	opened := e.connect(ctx)
	e.emit(ctx, model.ActionRetried, nil, newID, nil, opts)
	if opened {
		e.pub.Disconnect()
	}
	return newID, true, nil
}

// View marks the event viewed.
func (e *Event) View(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Viewed {
		return nil
	}
	e.rec.Viewed = true
	if err := e.m.store.SaveEvent(ctx, e.rec); err != nil {
		return fmt.Errorf("save event %s: %w", e.rec.ID, err)
	}
	return nil
}

// Close releases the publisher without a transition.
func (e *Event) Close() {
	e.pub.Disconnect()
}

// connect opens the publisher if needed and reports whether it did.
// Failures are logged; publishes made while the broker is unreachable
// are dropped.
func (e *Event) connect(ctx context.Context) bool {
	if e.pub.Connected() {
		return false
	}
	if err := e.pub.Connect(ctx); err != nil {
		e.logger.Warn("publisher connect failed", "err", err)
	}
	return true
}

// refresh picks up terminal flags written by another handle on the same
// event, such as a cancel issued over HTTP while the task runs.
func (e *Event) refresh(ctx context.Context) {
	stored, err := e.m.store.GetEvent(ctx, e.rec.ID)
	if err != nil {
		return
	}
	e.rec.Canceled = e.rec.Canceled || stored.Canceled
	e.rec.Retried = e.rec.Retried || stored.Retried
	e.rec.Viewed = e.rec.Viewed || stored.Viewed
}

func (e *Event) emit(ctx context.Context, action model.Action, status, body, errv any, opts []Option) {
	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}
	metrics.IncTransition(e.rec.Type, string(action))

	payload := o.message
	if !o.hasMessage {
		payload = e.envelope(action, status, body, errv)
	}
	e.pub.Publish(ctx, e.rec.Type, payload)
}

func (e *Event) envelope(action model.Action, status, body, errv any) model.Envelope {
	return model.Envelope{
		Message: map[string]model.Notification{
			e.rec.ID: {
				Type:   e.rec.Type,
				Action: action,
				Status: status,
				Body:   body,
				Error:  errv,
			},
		},
		RoutingStrategy: e.rec.RoutingStrategy,
		RoutingKey:      e.rec.RoutingKey,
	}
}
