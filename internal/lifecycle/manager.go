// Package lifecycle implements the per-event state machine that records a
// background task's progress and notifies live clients at each transition.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/idgen"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/routing"
)

// ErrNotRunning is returned by Complete when the event was never started or
// already reached a terminal state.
var ErrNotRunning = errors.New("event is not running")

// Store persists event records.
type Store interface {
	SaveEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	MarkViewed(ctx context.Context, userID string) (int64, error)
}

// Publishers builds a fresh, unconnected publisher for each event.
type Publishers interface {
	NewPublisher() broker.Publisher
}

// Tasks is the task queue as seen by cancel and retry.
type Tasks interface {
	Submit(ctx context.Context, name string, payload []byte) (string, error)
	Revoke(id string) error
}

// Config wires a Manager.
type Config struct {
	Store      Store
	Publishers Publishers
	Tasks      Tasks // optional; without it cancel does not revoke and retry fails
	// ProgressThrottle is the default for events created without one.
	ProgressThrottle float64
	Logger           *slog.Logger
}

// Manager creates and loads events.
type Manager struct {
	store      Store
	publishers Publishers
	tasks      Tasks
	throttle   float64
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(cfg Config) *Manager {
	throttle := cfg.ProgressThrottle
	if throttle <= 0 {
		throttle = model.DefaultProgressThrottle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      cfg.Store,
		publishers: cfg.Publishers,
		tasks:      cfg.Tasks,
		throttle:   throttle,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams describes a new event.
type CreateParams struct {
	ID               string // optional; generated when empty
	Type             string
	Principal        *model.Principal
	RoutingStrategy  string
	ProgressThrottle float64
	TaskID           string
	TaskName         string
	Request          json.RawMessage
}

// Create resolves the routing key, persists a new event and returns it.
// An unresolvable strategy is a configuration error and nothing is saved.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Event, error) {
	if p.Type == "" {
		return nil, fmt.Errorf("create event: type is required")
	}
	key, err := routing.Resolve(p.Principal, p.RoutingStrategy)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	id := p.ID
	if id == "" {
		if id, err = idgen.EventID(); err != nil {
			return nil, err
		}
	}
	throttle := p.ProgressThrottle
	if throttle <= 0 {
		throttle = m.throttle
	}
	rec := &model.Event{
		ID:               id,
		Type:             p.Type,
		TaskID:           p.TaskID,
		TaskName:         p.TaskName,
		Request:          p.Request,
		ProgressThrottle: throttle,
		RoutingStrategy:  p.RoutingStrategy,
		RoutingKey:       key,
		Status:           true,
		CreatedAt:        m.now(),
	}
	if p.Principal != nil {
		rec.UserID = p.Principal.ID
	}
	if err := m.store.SaveEvent(ctx, rec); err != nil {
		return nil, fmt.Errorf("save event %s: %w", id, err)
	}
	return m.wrap(rec), nil
}

// Load rebuilds an event from storage with a fresh publisher.
func (m *Manager) Load(ctx context.Context, id string) (*Event, error) {
	rec, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ProgressThrottle <= 0 {
		rec.ProgressThrottle = m.throttle
	}
	return m.wrap(rec), nil
}

// MarkAllViewed marks every event of userID viewed and returns how many
// changed.
func (m *Manager) MarkAllViewed(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.MarkViewed(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark viewed for %s: %w", userID, err)
	}
	return n, nil
}

func (m *Manager) wrap(rec *model.Event) *Event {
	return &Event{
		m:      m,
		rec:    rec,
		pub:    m.publishers.NewPublisher(),
		logger: m.logger.With("event", rec.ID, "type", rec.Type),
	}
}
