package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/model"
)

// Subscribers builds unconnected subscribers; *broker.Backend satisfies it.
type Subscribers interface {
	NewSubscriber(channel string) broker.Subscriber
}

// Registry holds the subscribers of one live connection.
type Registry struct {
	subs      Subscribers
	mapping   *Mapping
	principal *model.Principal
	send      Sender
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]broker.Subscriber
}

func NewRegistry(subs Subscribers, mapping *Mapping, principal *model.Principal, send Sender, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:      subs,
		mapping:   mapping,
		principal: principal,
		send:      send,
		logger:    logger,
		active:    make(map[string]broker.Subscriber),
	}
}

// Subscribe starts consuming each event type not already subscribed. Types
// that fail are reported together; the others stay subscribed.
func (r *Registry) Subscribe(ctx context.Context, types ...string) error {
	var errs []error
	for _, t := range types {
		if err := r.subscribe(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) subscribe(ctx context.Context, eventType string) error {
	r.mu.Lock()
	_, ok := r.active[eventType]
	r.mu.Unlock()
	if ok {
		return nil
	}

	l, err := r.mapping.Listener(eventType, r.principal, r.send, r.logger)
	if err != nil {
		return err
	}
	sub := r.subs.NewSubscriber(eventType)
	sub.AddListener(l)
	if err := sub.Connect(ctx); err != nil {
		sub.Disconnect()
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}

	r.mu.Lock()
	r.active[eventType] = sub
	r.mu.Unlock()
	r.logger.Debug("subscribed", "type", eventType)
	return nil
}

// Unsubscribe stops consuming each event type. Unknown types are ignored.
func (r *Registry) Unsubscribe(types ...string) {
	for _, t := range types {
		r.mu.Lock()
		sub, ok := r.active[t]
		delete(r.active, t)
		r.mu.Unlock()
		if !ok {
			continue
		}
		sub.Disconnect()
		for _, l := range sub.Listeners() {
			sub.RemoveListener(l.Key())
		}
		r.logger.Debug("unsubscribed", "type", t)
	}
}

// Subscribed lists the subscribed event types, sorted.
func (r *Registry) Subscribed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for t := range r.active {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Close unsubscribes everything.
func (r *Registry) Close() {
	r.Unsubscribe(r.Subscribed()...)
}
