package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for events and the identities
// they are routed to.
type Store interface {
	// Events
	SaveEvent(ctx context.Context, e *model.Event) error // insert or update
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, int, error) // returns events, total count, error
	MarkViewed(ctx context.Context, userID string) (int64, error)                          // completed, unviewed events of userID
	DeleteEvents(ctx context.Context, ids []string) (int64, error)

	// Identity
	SavePrincipal(ctx context.Context, p *model.Principal) error
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)
	CreateSession(ctx context.Context, token, userID string, expiresAt *time.Time) error
	ResolveSession(ctx context.Context, token string) (*model.Principal, error)

	// Lifecycle
	Close() error
}
