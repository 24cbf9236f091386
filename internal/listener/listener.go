// Package listener fans broker messages out to live client connections.
// Each connection owns a Registry of subscribers, one per subscribed event
// type, each carrying a listener that filters messages by routing key.
package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/metrics"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/routing"
)

// ErrNoListener is returned when an event type has no listener mapping.
var ErrNoListener = errors.New("no listener for event type")

// KindSend is the builtin listener kind that forwards matching messages to
// the connection.
const KindSend = "send"

// Sender writes a frame to a live connection. It reports false when the
// frame was dropped.
type Sender func(data []byte) bool

// Factory builds a listener for one connection.
type Factory func(principal *model.Principal, send Sender, logger *slog.Logger) broker.Listener

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Factory{
		KindSend: func(p *model.Principal, send Sender, logger *slog.Logger) broker.Listener {
			return NewSendListener(p, send, logger)
		},
	}
)

// RegisterKind makes a listener kind available to mappings. Registering an
// empty name, a nil factory or a duplicate name fails.
func RegisterKind(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register listener kind %q: name and factory are required", name)
	}
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, ok := kinds[name]; ok {
		return fmt.Errorf("register listener kind %q: already registered", name)
	}
	kinds[name] = f
	return nil
}

// Kinds lists the registered listener kinds, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookupKind(name string) (Factory, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[name]
	return f, ok
}

// SendListener forwards the notification object of every message whose
// routing key, resolved against this listener's principal, equals the key
// the message was published with. The empty key matches only itself.
type SendListener struct {
	principal *model.Principal
	send      Sender
	logger    *slog.Logger
}

func NewSendListener(principal *model.Principal, send Sender, logger *slog.Logger) *SendListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendListener{principal: principal, send: send, logger: logger}
}

// Key identifies the listener by principal. A listener has no routing key
// of its own until a message names a strategy, so the key part is empty.
func (l *SendListener) Key() broker.ListenerKey {
	var id string
	if l.principal != nil {
		id = l.principal.ID
	}
	return broker.ListenerKey{PrincipalID: id}
}

func (l *SendListener) OnMessage(data []byte) {
	var msg model.RoutedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.DeliveryDroppedTotal.WithLabelValues(metrics.ReasonDecode).Inc()
		l.logger.Warn("dropping undecodable message", "err", err)
		return
	}
	if !l.Matches(msg) {
		return
	}
	if !l.send(msg.Message) {
		metrics.DeliveryDroppedTotal.WithLabelValues(metrics.ReasonSlowConsumer).Inc()
		return
	}
	metrics.DeliveredTotal.Inc()
}

// Matches reports whether msg is routed to this listener's principal.
func (l *SendListener) Matches(msg model.RoutedMessage) bool {
	key, err := routing.Resolve(l.principal, msg.RoutingStrategy)
	if err != nil {
		metrics.DeliveryDroppedTotal.WithLabelValues(metrics.ReasonUnresolvable).Inc()
		l.logger.Warn("routing strategy unresolvable for listener",
			"strategy", msg.RoutingStrategy, "principal", l.principal.String(), "err", err)
		return false
	}
	if key != msg.RoutingKey {
		metrics.DeliveryDroppedTotal.WithLabelValues(metrics.ReasonRouting).Inc()
		return false
	}
	return true
}
