// Package presence keeps a roster of live notification connections.
//
// The server records a connection when the WebSocket upgrade succeeds,
// touches it on every client frame and pong, and removes it when the read
// side ends. The roster is in memory and per process.
package presence

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
)

// Entry is a snapshot of one live connection.
type Entry struct {
	ConnID      string    `json:"conn_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Types       []string  `json:"types"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	IdleSecs    float64   `json:"idle_secs"`
	FrameCount  int64     `json:"frame_count"`
}

type connState struct {
	userID      string
	username    string
	types       []string
	connectedAt time.Time
	lastSeen    time.Time
	frameCount  int64
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	conns map[string]*connState
	now   func() time.Time
}

func New() *Tracker {
	return &Tracker{
		conns: make(map[string]*connState),
		now:   time.Now,
	}
}

// Connect records a new connection for p.
func (t *Tracker) Connect(connID string, p *model.Principal) {
	if connID == "" {
		return
	}
	now := t.now()
	st := &connState{connectedAt: now, lastSeen: now}
	if p != nil {
		st.userID = p.ID
		st.username = p.Username
	}
	t.mu.Lock()
	t.conns[connID] = st
	t.mu.Unlock()
}

// Touch marks activity on connID. A client frame counts toward FrameCount;
// keepalive pongs pass frame=false.
func (t *Tracker) Touch(connID string, frame bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.conns[connID]
	if !ok {
		return
	}
	st.lastSeen = t.now()
	if frame {
		st.frameCount++
	}
}

// SetTypes replaces the event types connID is subscribed to.
func (t *Tracker) SetTypes(connID string, types []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.conns[connID]; ok {
		st.types = slices.Clone(types)
	}
}

// Disconnect removes connID from the roster.
func (t *Tracker) Disconnect(connID string) {
	t.mu.Lock()
	delete(t.conns, connID)
	t.mu.Unlock()
}

// Count returns the number of live connections.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Roster returns the connections of userID, or all connections when userID
// is empty, most recently active first.
func (t *Tracker) Roster(userID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.conns))
	for id, st := range t.conns {
		if userID != "" && st.userID != userID {
			continue
		}
		types := slices.Clone(st.types)
		if types == nil {
			types = []string{}
		}
		entries = append(entries, Entry{
			ConnID:      id,
			UserID:      st.userID,
			Username:    st.username,
			Types:       types,
			ConnectedAt: st.connectedAt,
			LastSeen:    st.lastSeen,
			IdleSecs:    now.Sub(st.lastSeen).Seconds(),
			FrameCount:  st.frameCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].ConnID < entries[j].ConnID
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}
