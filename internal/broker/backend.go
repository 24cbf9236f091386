package broker

import (
	"fmt"
)

// Backend builds publishers and subscribers for the configured Kind.
type Backend struct {
	kind Kind
	opts Options
	d    *Dispatcher
}

// NewBackend validates kind. When lanes is positive, publishers are
// wrapped in an AsyncPublisher sharing one Dispatcher of that many lanes.
func NewBackend(kind Kind, opts Options, lanes int) (*Backend, error) {
	if kind != KindTopicExchange && kind != KindChannel {
		return nil, fmt.Errorf("unknown broker backend %q", kind)
	}
	b := &Backend{kind: kind, opts: opts.withDefaults(kind)}
	if lanes > 0 {
		b.d = NewDispatcher(lanes)
	}
	return b, nil
}

func (b *Backend) Kind() Kind { return b.kind }

// Options returns the effective options, defaults applied.
func (b *Backend) Options() Options { return b.opts }

// NewPublisher returns an unconnected publisher.
func (b *Backend) NewPublisher() Publisher {
	var p Publisher
	switch b.kind {
	case KindChannel:
		p = NewRedisPublisher(b.opts)
	default:
		p = NewNATSPublisher(b.opts)
	}
	if b.d != nil {
		return NewAsyncPublisher(p, b.d)
	}
	return p
}

// NewSubscriber returns an unconnected subscriber for channel.
func (b *Backend) NewSubscriber(channel string) Subscriber {
	switch b.kind {
	case KindChannel:
		return NewRedisSubscriber(channel, b.opts)
	default:
		return NewNATSSubscriber(channel, b.opts)
	}
}

// Close stops the shared dispatcher, waiting for queued publishes.
func (b *Backend) Close() {
	if b.d != nil {
		b.d.Close()
	}
}
