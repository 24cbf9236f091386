// Package broker is the publish/subscribe transport between running tasks
// and live client connections. Two interchangeable backends exist: a
// topic-exchange broker (NATS) and a channel-based broker (Redis pub/sub).
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind selects a backend. The set is closed.
type Kind string

const (
	KindTopicExchange Kind = "topic-exchange"
	KindChannel       Kind = "channel"
)

// ParseKind maps a configured backend name to a Kind. "nats" and "redis"
// are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "topic-exchange", "topic", "nats":
		return KindTopicExchange, nil
	case "channel", "redis":
		return KindChannel, nil
	}
	return "", fmt.Errorf("unknown broker backend %q (must be topic-exchange or channel)", s)
}

func (k Kind) String() string { return string(k) }

// label is the short backend name used in logs and metrics.
func (k Kind) label() string {
	if k == KindChannel {
		return "redis"
	}
	return "nats"
}

const (
	DefaultExchange      = "beacon"
	DefaultPollInterval  = 10 * time.Millisecond
	DefaultReconnectWait = 5 * time.Second
)

// Options configures a backend connection.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// VirtualHost is the topic-exchange name; channels are published under it.
	VirtualHost string
	// DB is the channel-based broker's database index.
	DB int
	// QueueGroup, when set, load-balances a channel across subscribers of the
	// same group instead of fanning out to all of them.
	QueueGroup string

	PollInterval  time.Duration
	ReconnectWait time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults(kind Kind) Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		if kind == KindChannel {
			o.Port = 6379
		} else {
			o.Port = 4222
		}
	}
	if o.VirtualHost == "" {
		o.VirtualHost = DefaultExchange
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = DefaultReconnectWait
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is a connection to the broker.
type Client interface {
	// Connect opens the connection. It is idempotent.
	Connect(ctx context.Context) error
	// Disconnect closes the connection. Safe to call repeatedly.
	Disconnect()
	Connected() bool
}

// Publisher sends payloads to a channel. Publishing without a connection
// drops the message; transport failures are logged, never returned.
type Publisher interface {
	Client
	Publish(ctx context.Context, channel string, payload any)
}

// ListenerKey identifies a listener: one per principal and routing key.
type ListenerKey struct {
	PrincipalID string
	RoutingKey  string
}

// Listener receives every message arriving on a subscribed channel.
type Listener interface {
	Key() ListenerKey
	OnMessage(data []byte)
}

// Subscriber consumes one channel and notifies its listeners in
// registration order.
type Subscriber interface {
	Client
	Channel() string
	// AddListener registers l. It returns false when a listener with the
	// same key is already registered.
	AddListener(l Listener) bool
	RemoveListener(key ListenerKey) bool
	Listeners() []Listener
}

// listenerSet is an ordered, de-duplicated listener registry.
type listenerSet struct {
	mu    sync.RWMutex
	order []ListenerKey
	byKey map[ListenerKey]Listener
}

func (s *listenerSet) add(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[ListenerKey]Listener)
	}
	k := l.Key()
	if _, ok := s.byKey[k]; ok {
		return false
	}
	s.byKey[k] = l
	s.order = append(s.order, k)
	return true
}

func (s *listenerSet) remove(k ListenerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[k]; !ok {
		return false
	}
	delete(s.byKey, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Listener, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

func (s *listenerSet) notify(data []byte) {
	for _, l := range s.snapshot() {
		l.OnMessage(data)
	}
}
