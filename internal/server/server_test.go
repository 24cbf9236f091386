package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/listener"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store/memstore"
	"github.com/alfredjeanlab/beacon/internal/taskqueue"
)

var (
	ada = &model.Principal{ID: "42", Username: "ada", Attrs: map[string]any{"team": "core"}}
	bob = &model.Principal{ID: "7", Username: "bob", Attrs: map[string]any{"team": "ops"}}
)

const (
	adaToken = "ada-token"
	bobToken = "bob-token"
)

type fixture struct {
	store   *memstore.Store
	backend *broker.Backend
	queue   *taskqueue.Queue
	manager *lifecycle.Manager
	runner  *lifecycle.Runner
	srv     *httptest.Server

	// release unblocks running "demo.wait" tasks.
	release chan struct{}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupBackend(t *testing.T) *broker.Backend {
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
	b, err := broker.NewBackend(broker.KindChannel, broker.Options{Host: host, Port: port, Logger: testLogger()}, 0)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	f := &fixture{
		store:   memstore.New(),
		backend: setupBackend(t),
		queue:   taskqueue.New(2, logger),
		release: make(chan struct{}),
	}
	for p, token := range map[*model.Principal]string{ada: adaToken, bob: bobToken} {
		if err := f.store.SavePrincipal(ctx, p); err != nil {
			t.Fatalf("SavePrincipal: %v", err)
		}
		if err := f.store.CreateSession(ctx, token, p.ID, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	f.manager = lifecycle.NewManager(lifecycle.Config{
		Store:      f.store,
		Publishers: f.backend,
		Tasks:      f.queue,
		Logger:     logger,
	})
	f.runner = lifecycle.NewRunner(f.manager, f.queue, f.store, logger)
	defineTasks(t, f)

	mapping, err := listener.NewMapping(map[string]string{"export": listener.KindSend, "import": listener.KindSend})
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}

	srv := New(Config{
		Store:          f.store,
		Manager:        f.manager,
		Runner:         f.runner,
		Subscribers:    f.backend,
		Mapping:        mapping,
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         logger,
	})
	f.srv = httptest.NewServer(srv.Handler())

	f.queue.Start()
	t.Cleanup(func() {
		f.srv.Close()
		close(f.release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.queue.Stop(ctx)
	})
	return f
}

func defineTasks(t *testing.T, f *fixture) {
	t.Helper()
	specs := []lifecycle.TaskSpec{
		{
			Name:      "demo.wait",
			EventType: "export",
			Run: func(ctx context.Context, _ *lifecycle.Event, _ *model.Request) (any, error) {
				select {
				case <-f.release:
					return "released", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
		{
			Name:      "demo.fail",
			EventType: "import",
			Run: func(context.Context, *lifecycle.Event, *model.Request) (any, error) {
				return nil, errors.New("source unreachable")
			},
		},
	}
	for _, spec := range specs {
		if err := f.runner.Define(spec); err != nil {
			t.Fatalf("Define %s: %v", spec.Name, err)
		}
	}
}

// seed stores an event directly.
func (f *fixture) seed(t *testing.T, e *model.Event) {
	t.Helper()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := f.store.SaveEvent(context.Background(), e); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
}

// waitEvent polls until the stored event satisfies cond.
func (f *fixture) waitEvent(t *testing.T, id string, cond func(*model.Event) bool) *model.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, err := f.store.GetEvent(context.Background(), id); err == nil && cond(e) {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s never reached the expected state", id)
	return nil
}

// do sends an authenticated request and decodes a JSON response into out.
func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
