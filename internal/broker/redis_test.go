package broker

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupMiniRedis(t *testing.T) Options {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("parsing miniredis addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return Options{Host: host, Port: port, Logger: testLogger()}
}

func TestRedis_PublishSubscribe(t *testing.T) {
	opts := setupMiniRedis(t)
	ctx := context.Background()

	sub := NewRedisSubscriber("report", opts)
	l := newRecordingListener("1", "")
	sub.AddListener(l)
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Disconnect()

	pub := NewRedisPublisher(opts)
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("publisher connect: %v", err)
	}
	defer pub.Disconnect()

	pub.Publish(ctx, "report", map[string]int{"n": 1})
	if got := l.wait(t); got != `{"n":1}` {
		t.Errorf("payload = %s, want {\"n\":1}", got)
	}

	pub.Publish(ctx, "other", "ignored")
	l.expectNothing(t, 50*time.Millisecond)
}

func TestRedis_PublisherRecoversAfterFailedConnect(t *testing.T) {
	// Reserve an address, then free it so the first ping is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	opts := Options{Host: host, Port: port, Logger: testLogger()}

	pub := NewRedisPublisher(opts)
	defer pub.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pub.Connect(ctx); err == nil {
		t.Fatal("expected connect error while redis is down")
	}
	if !pub.Connected() {
		t.Fatal("publisher dropped its client after a failed ping")
	}

	mr := miniredis.NewMiniRedis()
	if err := mr.StartAddr(addr); err != nil {
		t.Fatalf("starting miniredis on %s: %v", addr, err)
	}
	defer mr.Close()

	sub := NewRedisSubscriber("report", opts)
	l := newRecordingListener("1", "")
	sub.AddListener(l)
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Disconnect()

	pub.Publish(ctx, "report", "back")
	if got := l.wait(t); got != `"back"` {
		t.Errorf("payload = %s, want \"back\"", got)
	}
}

func TestRedis_DisconnectIsIdempotent(t *testing.T) {
	opts := setupMiniRedis(t)
	c := NewRedisClient(opts)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("expected connected")
	}
	c.Disconnect()
	c.Disconnect()
	if c.Connected() {
		t.Error("expected disconnected")
	}
}

func TestRedisSubscriber_StopsWithinPollInterval(t *testing.T) {
	opts := setupMiniRedis(t)
	opts.PollInterval = 20 * time.Millisecond
	sub := NewRedisSubscriber("report", opts)
	if err := sub.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	done := sub.Done()

	start := time.Now()
	sub.Disconnect()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume loop did not exit")
	}
	// Generous bound: one interval plus scheduling slack.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("loop exit took %v", elapsed)
	}
}

func TestRedisSubscriber_NoNotificationAfterDisconnect(t *testing.T) {
	opts := setupMiniRedis(t)
	ctx := context.Background()

	sub := NewRedisSubscriber("report", opts)
	l := newRecordingListener("1", "")
	sub.AddListener(l)
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	pub := NewRedisPublisher(opts)
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Disconnect()

	sub.Disconnect()
	<-sub.Done()
	pub.Publish(ctx, "report", "late")
	l.expectNothing(t, 100*time.Millisecond)
}

func TestRedisSubscriber_Reconnect(t *testing.T) {
	opts := setupMiniRedis(t)
	opts.PollInterval = 20 * time.Millisecond
	ctx := context.Background()

	sub := NewRedisSubscriber("report", opts)
	l := newRecordingListener("1", "")
	sub.AddListener(l)
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := sub.Done()
	sub.Disconnect()
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer sub.Disconnect()

	select {
	case <-first:
	default:
		t.Fatal("reconnect started before the previous loop exited")
	}

	pub := NewRedisPublisher(opts)
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Disconnect()
	pub.Publish(ctx, "report", 1)
	if got := l.wait(t); got != "1" {
		t.Errorf("payload = %s, want 1", got)
	}
	l.expectNothing(t, 100*time.Millisecond)
}

func TestRedisSubscriber_NotifiesInRegistrationOrder(t *testing.T) {
	opts := setupMiniRedis(t)
	ctx := context.Background()

	var order []string
	sub := NewRedisSubscriber("report", opts)
	for _, id := range []string{"a", "b", "c"} {
		sub.AddListener(&orderListener{id: id, order: &order})
	}
	done := newRecordingListener("z", "")
	sub.AddListener(done)
	if err := sub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Disconnect()

	pub := NewRedisPublisher(opts)
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Disconnect()
	pub.Publish(ctx, "report", "x")
	done.wait(t)

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("notification order = %v, want [a b c]", order)
	}
}

// orderListener appends its id when notified. Listeners of one subscriber
// run on the consume goroutine, so no locking is needed.
type orderListener struct {
	id    string
	order *[]string
}

func (l *orderListener) Key() ListenerKey { return ListenerKey{PrincipalID: l.id} }

func (l *orderListener) OnMessage([]byte) { *l.order = append(*l.order, l.id) }
