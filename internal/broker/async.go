package broker

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/alfredjeanlab/beacon/internal/metrics"
)

const laneBuffer = 256

// Dispatcher is a fixed pool of single-consumer lanes. A key always maps
// to the same lane, so work submitted for one key runs in submission order.
type Dispatcher struct {
	mu     sync.RWMutex
	lanes  []chan func()
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts n lanes (at least one).
func NewDispatcher(n int) *Dispatcher {
	if n < 1 {
		n = 1
	}
	d := &Dispatcher{lanes: make([]chan func(), n)}
	for i := range d.lanes {
		ch := make(chan func(), laneBuffer)
		d.lanes[i] = ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for fn := range ch {
				fn()
			}
		}()
	}
	return d
}

// Lanes returns the number of lanes.
func (d *Dispatcher) Lanes() int { return len(d.lanes) }

func (d *Dispatcher) lane(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

// Dispatch queues fn on the lane for key. It blocks while the lane is full
// and returns false once the dispatcher is closed.
func (d *Dispatcher) Dispatch(key string, fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.lanes[d.lane(key)] <- fn
	return true
}

// Close stops accepting work and waits for queued work to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.lanes {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// AsyncPublisher hands publishes to a Dispatcher keyed by channel, so the
// caller never waits on the broker while per-channel order is kept.
// Disconnect waits for this publisher's queued messages before closing the
// wrapped publisher.
type AsyncPublisher struct {
	Publisher
	d       *Dispatcher
	backend string
	pending sync.WaitGroup
}

func NewAsyncPublisher(p Publisher, d *Dispatcher) *AsyncPublisher {
	backend := "nats"
	if _, ok := p.(*RedisPublisher); ok {
		backend = "redis"
	}
	return &AsyncPublisher{Publisher: p, d: d, backend: backend}
}

func (a *AsyncPublisher) Publish(ctx context.Context, channel string, payload any) {
	if !a.Publisher.Connected() {
		metrics.IncDrop(a.backend, metrics.ReasonDisconnected)
		return
	}
	ctx = context.WithoutCancel(ctx)
	a.pending.Add(1)
	ok := a.d.Dispatch(channel, func() {
		defer a.pending.Done()
		a.Publisher.Publish(ctx, channel, payload)
	})
	if !ok {
		a.pending.Done()
		metrics.IncDrop(a.backend, metrics.ReasonClosed)
	}
}

func (a *AsyncPublisher) Disconnect() {
	a.pending.Wait()
	a.Publisher.Disconnect()
}
