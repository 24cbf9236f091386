package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/beacon/internal/metrics"
)

const natsFlushTimeout = 2 * time.Second

// NATSClient is a topic-exchange connection. Channels map to subjects under
// the exchange: channel "report" on exchange "beacon" is "beacon.report".
//
// Connection loss that the caller did not ask for is retried forever with a
// fixed backoff. A server that is down when Connect is called is retried in
// the background as well.
type NATSClient struct {
	opts   Options
	logger *slog.Logger
	extra  []nats.Option

	mu      sync.Mutex
	conn    *nats.Conn
	closing atomic.Bool
}

// NewNATSClient returns an unconnected client. Extra nats.Option values are
// appended to the defaults.
func NewNATSClient(opts Options, extra ...nats.Option) *NATSClient {
	opts = opts.withDefaults(KindTopicExchange)
	return &NATSClient{
		opts:   opts,
		logger: opts.Logger.With("backend", "nats"),
		extra:  extra,
	}
}

// URL is the server address the client dials.
func (c *NATSClient) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.opts.Host, c.opts.Port)
}

// Exchange is the subject root.
func (c *NATSClient) Exchange() string { return c.opts.VirtualHost }

// Subject maps a channel to its subject on the exchange.
func (c *NATSClient) Subject(channel string) string {
	return c.opts.VirtualHost + "." + channel
}

func (c *NATSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	if err := validSubject(c.opts.VirtualHost); err != nil {
		return fmt.Errorf("declaring exchange: %w", err)
	}
	c.closing.Store(false)

	opts := []nats.Option{
		nats.Name("beacon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closing.Load() {
				return
			}
			c.logger.Warn("broker connection lost, reconnecting", "err", err, "wait", c.opts.ReconnectWait)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			metrics.Reconnects.WithLabelValues("nats").Inc()
			c.logger.Info("broker reconnected", "url", c.URL())
		}),
	}
	if c.opts.Username != "" {
		opts = append(opts, nats.UserInfo(c.opts.Username, c.opts.Password))
	}

	nc, err := nats.Connect(c.URL(), append(opts, c.extra...)...)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", c.URL(), err)
	}
	c.conn = nc

	// Round-trip so the exchange is usable before Connect returns. When the
	// server is not up yet the client keeps retrying on its own.
	if nc.IsConnected() {
		if err := nc.FlushTimeout(flushTimeout(ctx)); err != nil {
			c.logger.Warn("broker flush failed", "err", err)
		}
	} else {
		c.logger.Warn("broker unavailable, retrying in background", "url", c.URL())
	}
	return nil
}

// Disconnect closes the connection without triggering a reconnect.
func (c *NATSClient) Disconnect() {
	c.closing.Store(true)
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.mu.Unlock()
	if nc == nil {
		return
	}
	if nc.IsConnected() {
		_ = nc.FlushTimeout(natsFlushTimeout)
	}
	nc.Close()
}

func (c *NATSClient) Connected() bool {
	nc := c.connection()
	return nc != nil && nc.IsConnected()
}

func (c *NATSClient) connection() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// NATSPublisher publishes JSON payloads to subjects on the exchange.
type NATSPublisher struct {
	*NATSClient
}

func NewNATSPublisher(opts Options, extra ...nats.Option) *NATSPublisher {
	return &NATSPublisher{NATSClient: NewNATSClient(opts, extra...)}
}

func (p *NATSPublisher) Publish(ctx context.Context, channel string, payload any) {
	nc := p.connection()
	if nc == nil || !nc.IsConnected() {
		metrics.IncDrop("nats", metrics.ReasonDisconnected)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncDrop("nats", metrics.ReasonEncode)
		p.logger.Warn("dropping unencodable message", "channel", channel, "err", err)
		return
	}
	if err := nc.Publish(p.Subject(channel), data); err != nil {
		metrics.IncDrop("nats", metrics.ReasonTransport)
		p.logger.Warn("publish failed", "channel", channel, "err", err)
		return
	}
	metrics.PublishedTotal.WithLabelValues("nats").Inc()
}

// NATSSubscriber consumes one channel. Delivery is driven by the client's
// callback; once Disconnect is called no further listener is notified.
type NATSSubscriber struct {
	*NATSClient
	channel   string
	listeners listenerSet

	subMu   sync.Mutex
	sub     *nats.Subscription
	stopped atomic.Bool
}

func NewNATSSubscriber(channel string, opts Options, extra ...nats.Option) *NATSSubscriber {
	return &NATSSubscriber{NATSClient: NewNATSClient(opts, extra...), channel: channel}
}

func (s *NATSSubscriber) Channel() string { return s.channel }

func (s *NATSSubscriber) AddListener(l Listener) bool { return s.listeners.add(l) }

func (s *NATSSubscriber) RemoveListener(key ListenerKey) bool { return s.listeners.remove(key) }

func (s *NATSSubscriber) Listeners() []Listener { return s.listeners.snapshot() }

// Connect opens the connection and starts consuming the channel.
func (s *NATSSubscriber) Connect(ctx context.Context) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return nil
	}
	if err := validSubject(s.channel); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	if err := s.NATSClient.Connect(ctx); err != nil {
		return err
	}
	s.stopped.Store(false)

	nc := s.connection()
	subject := s.Subject(s.channel)
	handler := func(msg *nats.Msg) {
		if s.stopped.Load() {
			return
		}
		metrics.ReceivedTotal.WithLabelValues("nats").Inc()
		s.listeners.notify(msg.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.opts.QueueGroup != "" {
		sub, err = nc.QueueSubscribe(subject, s.opts.QueueGroup, handler)
	} else {
		sub, err = nc.Subscribe(subject, handler)
	}
	if err != nil {
		s.NATSClient.Disconnect()
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if nc.IsConnected() {
		if err := nc.FlushTimeout(flushTimeout(ctx)); err != nil {
			s.logger.Warn("subscription flush failed", "subject", subject, "err", err)
		}
	}
	s.sub = sub
	return nil
}

// Disconnect stops notification and closes the connection.
func (s *NATSSubscriber) Disconnect() {
	s.stopped.Store(true)
	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	s.NATSClient.Disconnect()
}

// validSubject rejects names that cannot be used as literal subject tokens.
func validSubject(name string) error {
	if name == "" {
		return fmt.Errorf("empty subject name")
	}
	if strings.ContainsAny(name, " \t\r\n*>") {
		return fmt.Errorf("invalid subject name %q", name)
	}
	for _, tok := range strings.Split(name, ".") {
		if tok == "" {
			return fmt.Errorf("invalid subject name %q", name)
		}
	}
	return nil
}

func flushTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < natsFlushTimeout {
			return d
		}
	}
	return natsFlushTimeout
}
