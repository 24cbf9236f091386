package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/beacon/internal/metrics"
)

// RedisClient is a channel-based connection. There is no broker-side
// teardown; Disconnect only releases the local socket pool. Connected
// reports whether a client exists, not whether the server is up.
type RedisClient struct {
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	rdb *redis.Client
}

func NewRedisClient(opts Options) *RedisClient {
	opts = opts.withDefaults(KindChannel)
	return &RedisClient{
		opts:   opts,
		logger: opts.Logger.With("backend", "redis"),
	}
}

// Addr is the host:port the client dials.
func (c *RedisClient) Addr() string {
	return net.JoinHostPort(c.opts.Host, fmt.Sprint(c.opts.Port))
}

// Connect creates the client and pings the server. A failed ping is
// returned but the client is kept: go-redis dials again on every command,
// so publishes resume once the server is reachable.
func (c *RedisClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	rdb := c.rdb
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     c.Addr(),
			Username: c.opts.Username,
			Password: c.opts.Password,
			DB:       c.opts.DB,
		})
		c.rdb = rdb
	}
	c.mu.Unlock()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", c.Addr(), err)
	}
	return nil
}

func (c *RedisClient) Disconnect() {
	c.mu.Lock()
	rdb := c.rdb
	c.rdb = nil
	c.mu.Unlock()
	if rdb != nil {
		_ = rdb.Close()
	}
}

func (c *RedisClient) Connected() bool { return c.client() != nil }

func (c *RedisClient) client() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

// RedisPublisher publishes JSON payloads with PUBLISH.
type RedisPublisher struct {
	*RedisClient
}

func NewRedisPublisher(opts Options) *RedisPublisher {
	return &RedisPublisher{RedisClient: NewRedisClient(opts)}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) {
	rdb := p.client()
	if rdb == nil {
		metrics.IncDrop("redis", metrics.ReasonDisconnected)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncDrop("redis", metrics.ReasonEncode)
		p.logger.Warn("dropping unencodable message", "channel", channel, "err", err)
		return
	}
	if err := rdb.Publish(ctx, channel, data).Err(); err != nil {
		metrics.IncDrop("redis", metrics.ReasonTransport)
		p.logger.Warn("publish failed", "channel", channel, "err", err)
		return
	}
	metrics.PublishedTotal.WithLabelValues("redis").Inc()
}

// RedisSubscriber consumes one channel with a polling loop. The loop waits
// at most PollInterval per receive, so it notices Disconnect within one
// interval; a notification already in progress is not interrupted.
type RedisSubscriber struct {
	*RedisClient
	channel   string
	listeners listenerSet

	loopMu  sync.Mutex
	ps      *redis.PubSub
	done    chan struct{}
	stopped atomic.Bool
}

func NewRedisSubscriber(channel string, opts Options) *RedisSubscriber {
	return &RedisSubscriber{RedisClient: NewRedisClient(opts), channel: channel}
}

func (s *RedisSubscriber) Channel() string { return s.channel }

func (s *RedisSubscriber) AddListener(l Listener) bool { return s.listeners.add(l) }

func (s *RedisSubscriber) RemoveListener(key ListenerKey) bool { return s.listeners.remove(key) }

func (s *RedisSubscriber) Listeners() []Listener { return s.listeners.snapshot() }

// Connect subscribes to the channel and starts the consume loop. A loop
// left over from an earlier Disconnect is waited for first.
func (s *RedisSubscriber) Connect(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.ps != nil {
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.RedisClient.Connect(ctx); err != nil {
		s.RedisClient.Disconnect()
		return err
	}
	ps := s.client().Subscribe(ctx, s.channel)
	// Wait for the subscription confirmation so publishes that follow
	// Connect are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		s.RedisClient.Disconnect()
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	s.stopped.Store(false)
	s.ps = ps
	s.done = make(chan struct{})
	go s.consume(context.WithoutCancel(ctx), ps, s.done)
	return nil
}

func (s *RedisSubscriber) consume(ctx context.Context, ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	defer ps.Close()
	for !s.stopped.Load() {
		msg, err := ps.ReceiveTimeout(ctx, s.opts.PollInterval)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Warn("receive failed", "channel", s.channel, "err", err)
			time.Sleep(s.opts.PollInterval)
			continue
		}
		if s.stopped.Load() {
			return
		}
		if m, ok := msg.(*redis.Message); ok {
			metrics.ReceivedTotal.WithLabelValues("redis").Inc()
			s.listeners.notify([]byte(m.Payload))
		}
	}
}

// Disconnect sets the stop flag; the consume loop exits on its next
// iteration and closes the subscription.
func (s *RedisSubscriber) Disconnect() {
	s.stopped.Store(true)
	s.loopMu.Lock()
	s.ps = nil
	s.loopMu.Unlock()
	s.RedisClient.Disconnect()
}

// Done is closed when the consume loop has exited. It is nil before the
// first Connect.
func (s *RedisSubscriber) Done() <-chan struct{} {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.done
}
