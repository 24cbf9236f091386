package model

import (
	"encoding/json"
	"time"
)

// Action names the lifecycle transition a notification reports.
type Action string

const (
	ActionStarted        Action = "started"
	ActionProgressChange Action = "progress_change"
	ActionCompleted      Action = "completed"
	ActionCanceled       Action = "canceled"
	ActionRetried        Action = "retried"
)

// DefaultProgressThrottle is the minimum accumulated progress delta between
// two progress_change notifications.
const DefaultProgressThrottle = 0.1

// Event is the persisted record of one task execution.
type Event struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Type     string          `json:"type"`
	TaskID   string          `json:"task_id,omitempty"`
	TaskName string          `json:"task_name,omitempty"`
	Request  json.RawMessage `json:"request,omitempty"`

	ProgressThrottle float64 `json:"progress_throttle"`
	RoutingStrategy  string  `json:"routing_strategy"`
	RoutingKey       string  `json:"routing_key"`

	Started   bool `json:"started"`
	Completed bool `json:"completed"`
	Canceled  bool `json:"canceled"`
	Retried   bool `json:"retried"`
	Viewed    bool `json:"viewed"`
	Status    bool `json:"status"`

	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Failure reports whether the event finished unsuccessfully.
func (e *Event) Failure() bool { return e.Completed && !e.Status }

// Success reports whether the event finished successfully.
func (e *Event) Success() bool { return e.Completed && e.Status }

// Running reports whether the event has started and reached no terminal state.
func (e *Event) Running() bool {
	return e.Started && !e.Completed && !e.Canceled && !e.Retried
}

// MayBeCanceled reports whether a cancel transition is permitted.
func (e *Event) MayBeCanceled() bool { return e.Running() }

// MayBeRetried reports whether a retry transition is permitted.
func (e *Event) MayBeRetried() bool {
	return (e.Canceled || e.Failure()) && !e.Retried
}
