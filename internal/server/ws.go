package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/beacon/internal/listener"
	"github.com/alfredjeanlab/beacon/internal/metrics"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/presence"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound frame size in bytes.
	maxMessageSize = 4096
	// sendBuffer is how many outbound frames may queue before new ones are
	// dropped.
	sendBuffer = 256
)

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// Frame is a control message sent by a live client.
type Frame struct {
	Type string   `json:"type"`
	Args []string `json:"args"`
}

// wsConn is one live client connection.
type wsConn struct {
	id        string
	presence  *presence.Tracker
	conn      *websocket.Conn
	principal *model.Principal
	send      chan []byte
	done      chan struct{}
	logger    *slog.Logger
	registry  *listener.Registry
}

// handleWS handles GET /v1/ws.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	p := principal(r)
	c := &wsConn{
		id:        uuid.New().String(),
		presence:  s.presence,
		conn:      conn,
		principal: p,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	c.logger = s.logger.With("conn", c.id, "user", p.ID)
	c.registry = listener.NewRegistry(s.subscribers, s.mapping, p, c.enqueue, c.logger)

	metrics.Connections.Inc()
	defer metrics.Connections.Dec()
	s.presence.Connect(c.id, p)
	defer s.presence.Disconnect(c.id)
	c.logger.Info("live connection opened")

	go c.writePump()
	c.readPump()

	c.registry.Close()
	close(c.done)
	c.logger.Info("live connection closed")
}

// enqueue is the connection's listener.Sender. It never blocks: a full
// buffer or a closed connection drops the frame.
func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) sendError(err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	c.enqueue(data)
}

// readPump handles subscribe and unsubscribe frames until the peer goes
// away. It owns the registry.
func (c *wsConn) readPump() {
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.presence.Touch(c.id, false)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("live connection read error", "err", err)
			}
			return
		}
		c.presence.Touch(c.id, true)

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.sendError(inputError("invalid frame: " + err.Error()))
			continue
		}

		switch strings.ToLower(f.Type) {
		case FrameSubscribe:
			for _, t := range f.Args {
				if err := c.registry.Subscribe(ctx, t); err != nil {
					c.logger.Warn("subscribe failed", "type", t, "err", err)
					c.sendError(err)
				}
			}
		case FrameUnsubscribe:
			c.registry.Unsubscribe(f.Args...)
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
			continue
		}
		c.presence.SetTypes(c.id, c.registry.Subscribed())
	}
}

// writePump writes queued frames and keepalive pings until the read side
// finishes.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// checkOrigin validates the Origin header against the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header: same-origin request or non-browser client.
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
