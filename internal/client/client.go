// Package client provides a transport-agnostic interface for the beacon
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/presence"
)

// EventsClient is the interface that beacon CLI commands use to
// communicate with the server. It is implemented by HTTPClient.
type EventsClient interface {
	// Events
	ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	CancelEvent(ctx context.Context, id string) (*model.Event, error)
	RetryEvent(ctx context.Context, id string) (string, error)
	ViewEvent(ctx context.Context, id string) (*model.Event, error)
	MarkAllViewed(ctx context.Context) (int64, error)
	Types(ctx context.Context) ([]string, error)

	// Tasks
	SubmitTask(ctx context.Context, name string, req *SubmitTaskRequest) (*SubmitTaskResponse, error)

	// Live notifications
	Watch(ctx context.Context, types []string, fn func(Frame)) error
	Connections(ctx context.Context) ([]presence.Entry, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ListEventsRequest holds the query parameters for listing events.
type ListEventsRequest struct {
	Type      []string `json:"type,omitempty"`
	Completed *bool    `json:"completed,omitempty"`
	Status    string   `json:"status,omitempty"` // "success" or "error"
	Viewed    *bool    `json:"viewed,omitempty"`
	Sort      string   `json:"sort,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

// ListEventsResponse is one page of the caller's events.
type ListEventsResponse struct {
	Events []*model.Event `json:"events"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// SubmitTaskRequest is the input of a task run.
type SubmitTaskRequest struct {
	Data json.RawMessage `json:"data,omitempty"`
	Args map[string]any  `json:"args,omitempty"`
}

// SubmitTaskResponse names the event a submitted task will report under.
type SubmitTaskResponse struct {
	EventID string `json:"event_id"`
	TaskID  string `json:"task_id"`
}

// Frame is one server frame on the live connection: either a notification
// object keyed by event id, or an error.
type Frame struct {
	Error         string
	Notifications map[string]model.Notification
	Raw           json.RawMessage
}
