package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/presence"
)

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, args ...string) {
	t.Helper()
	if err := conn.WriteJSON(Frame{Type: typ, Args: args}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]json.RawMessage
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// syncFrames round-trips an unmapped subscribe. Frames are handled in order, so
// once its error frame arrives every earlier frame has been applied.
func syncFrames(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrame(t, conn, FrameSubscribe, "unmapped")
	frame := readFrame(t, conn)
	if _, ok := frame["error"]; !ok {
		t.Fatalf("expected an error frame, got %v", frame)
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var frame map[string]json.RawMessage
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("unexpected frame %v", frame)
	}
}

func notificationOf(t *testing.T, frame map[string]json.RawMessage, eventID string) model.Notification {
	t.Helper()
	raw, ok := frame[eventID]
	if !ok {
		t.Fatalf("frame has no entry for %s: %v", eventID, frame)
	}
	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	return n
}

func TestWS_Delivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adaConn := f.dial(t, adaToken)
	bobConn := f.dial(t, bobToken)
	sendFrame(t, adaConn, FrameSubscribe, "export")
	sendFrame(t, bobConn, FrameSubscribe, "export")
	syncFrames(t, adaConn)
	syncFrames(t, bobConn)

	// Broadcast reaches everyone subscribed.
	broadcast, err := f.manager.Create(ctx, lifecycle.CreateParams{Type: "export", Principal: ada})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer broadcast.Close()
	if err := broadcast.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, conn := range []*websocket.Conn{adaConn, bobConn} {
		n := notificationOf(t, readFrame(t, conn), broadcast.ID())
		if n.Action != model.ActionStarted || n.Type != "export" {
			t.Errorf("unexpected notification %+v", n)
		}
	}

	// A per-user event reaches only its owner.
	private, err := f.manager.Create(ctx, lifecycle.CreateParams{Type: "export", Principal: bob, RoutingStrategy: "user.id"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := private.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := private.Complete(ctx, map[string]int{"rows": 3}, true); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if n := notificationOf(t, readFrame(t, bobConn), private.ID()); n.Action != model.ActionStarted {
		t.Errorf("bob: expected started, got %s", n.Action)
	}
	n := notificationOf(t, readFrame(t, bobConn), private.ID())
	if n.Action != model.ActionCompleted || n.Status != model.StatusSuccess {
		t.Errorf("bob: unexpected completion %+v", n)
	}
	expectNoFrame(t, adaConn)
}

func TestWS_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.dial(t, adaToken)
	sendFrame(t, conn, FrameSubscribe, "export")
	sendFrame(t, conn, FrameUnsubscribe, "export")
	syncFrames(t, conn)

	ev, err := f.manager.Create(ctx, lifecycle.CreateParams{Type: "export", Principal: ada})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ev.Close()
	_ = ev.Start(ctx)
	expectNoFrame(t, conn)
}

func TestWS_Frames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, adaToken)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if !strings.Contains(string(frame["error"]), "invalid frame") {
		t.Errorf("expected invalid frame error, got %v", frame)
	}

	// Unknown frame types are ignored; the next frame is still answered.
	sendFrame(t, conn, "ping")
	sendFrame(t, conn, FrameSubscribe, "unmapped")
	frame = readFrame(t, conn)
	if !strings.Contains(string(frame["error"]), "no listener") {
		t.Errorf("expected no listener error, got %v", frame)
	}
}

func TestWS_Rejected(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without session: err=%v resp=%v", err, resp)
	}

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+adaToken, header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin: err=%v resp=%v", err, resp)
	}

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+adaToken, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestConnections(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t, adaToken)
	sendFrame(t, conn, FrameSubscribe, "import", "export")
	syncFrames(t, conn)

	type roster struct {
		Connections []presence.Entry `json:"connections"`
	}
	var got roster
	if code := f.do(t, http.MethodGet, "/v1/connections", adaToken, nil, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(got.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %+v", got.Connections)
	}
	e := got.Connections[0]
	if e.Username != "ada" || strings.Join(e.Types, ",") != "export,import" || e.FrameCount != 2 {
		t.Errorf("unexpected entry %+v", e)
	}

	var other roster
	f.do(t, http.MethodGet, "/v1/connections", bobToken, nil, &other)
	if len(other.Connections) != 0 {
		t.Errorf("bob sees %d connections, want 0", len(other.Connections))
	}
}
