package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/listener"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/presence"
)

// Store is the persistence the HTTP surface reads from directly. Writes go
// through the lifecycle manager.
type Store interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, int, error)
	ResolveSession(ctx context.Context, token string) (*model.Principal, error)
}

// Config wires a Server.
type Config struct {
	Store       Store
	Manager     *lifecycle.Manager
	Runner      *lifecycle.Runner // optional; nil disables POST /v1/tasks/{name}
	Subscribers listener.Subscribers
	Mapping     *listener.Mapping
	Presence    *presence.Tracker // optional; a private roster is created when nil

	// AllowedOrigins is the WebSocket Origin allow-list. Requests without
	// an Origin header are always accepted.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves the REST surface and live WebSocket connections.
type Server struct {
	store       Store
	manager     *lifecycle.Manager
	runner      *lifecycle.Runner
	subscribers listener.Subscribers
	mapping     *listener.Mapping
	presence    *presence.Tracker
	origins     []string
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:       cfg.Store,
		manager:     cfg.Manager,
		runner:      cfg.Runner,
		subscribers: cfg.Subscribers,
		mapping:     cfg.Mapping,
		presence:    cfg.Presence,
		origins:     cfg.AllowedOrigins,
		logger:      logger,
	}
	if s.presence == nil {
		s.presence = presence.New()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// inputError indicates invalid user input.
// Handlers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// principalKey is the context key for the authenticated principal.
type principalKey struct{}

func withPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal AuthMiddleware attached to ctx.
func PrincipalFrom(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey{}).(*model.Principal)
	return p
}

// principal is PrincipalFrom for handlers behind AuthMiddleware.
func principal(r *http.Request) *model.Principal {
	return PrincipalFrom(r.Context())
}
