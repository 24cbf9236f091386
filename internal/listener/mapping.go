package listener

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/model"
)

// Mapping binds event types to listener kinds.
type Mapping struct {
	kinds map[string]string
}

// NewMapping validates that every kind in m is registered.
func NewMapping(m map[string]string) (*Mapping, error) {
	out := &Mapping{kinds: make(map[string]string, len(m))}
	for eventType, kind := range m {
		if eventType == "" {
			return nil, fmt.Errorf("listener mapping: empty event type")
		}
		if _, ok := lookupKind(kind); !ok {
			return nil, fmt.Errorf("listener mapping: event type %q uses unknown kind %q", eventType, kind)
		}
		out.kinds[eventType] = kind
	}
	return out, nil
}

// Types lists the mapped event types, sorted.
func (m *Mapping) Types() []string {
	out := make([]string, 0, len(m.kinds))
	for t := range m.kinds {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Kind returns the listener kind for eventType.
func (m *Mapping) Kind(eventType string) (string, bool) {
	k, ok := m.kinds[eventType]
	return k, ok
}

// Listener builds the listener for eventType.
func (m *Mapping) Listener(eventType string, principal *model.Principal, send Sender, logger *slog.Logger) (broker.Listener, error) {
	kind, ok := m.kinds[eventType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoListener, eventType)
	}
	f, ok := lookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("listener kind %q is not registered", kind)
	}
	return f(principal, send, logger), nil
}
