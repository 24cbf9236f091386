// Package memstore is an in-memory store.Store. Nothing survives a restart.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
)

type session struct {
	userID    string
	expiresAt *time.Time
}

// Store implements store.Store in memory.
type Store struct {
	mu         sync.RWMutex
	events     map[string]*model.Event
	principals map[string]*model.Principal
	sessions   map[string]session
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		events:     make(map[string]*model.Event),
		principals: make(map[string]*model.Principal),
		sessions:   make(map[string]session),
		now:        time.Now,
	}
}

func (s *Store) SaveEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (s *Store) ListEvents(_ context.Context, filter model.EventFilter) ([]*model.Event, int, error) {
	s.mu.RLock()
	var matched []*model.Event
	for _, e := range s.events {
		if filter.Matches(e) {
			matched = append(matched, cloneEvent(e))
		}
	}
	s.mu.RUnlock()

	sortEvents(matched, filter.Sort)
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *Store) MarkViewed(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if e.UserID == userID && e.Completed && !e.Viewed {
			e.Viewed = true
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteEvents(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.events[id]; ok {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) SavePrincipal(_ context.Context, p *model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.Attrs = cloneAttrs(p.Attrs)
	s.principals[p.ID] = &cp
	return nil
}

func (s *Store) GetPrincipal(_ context.Context, id string) (*model.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	cp.Attrs = cloneAttrs(p.Attrs)
	return &cp, nil
}

func (s *Store) CreateSession(_ context.Context, token, userID string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[userID]; !ok {
		return store.ErrNotFound
	}
	s.sessions[token] = session{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *Store) ResolveSession(ctx context.Context, token string) (*model.Principal, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || (sess.expiresAt != nil && !sess.expiresAt.After(s.now())) {
		return nil, store.ErrNotFound
	}
	return s.GetPrincipal(ctx, sess.userID)
}

func (s *Store) Close() error { return nil }

func sortEvents(events []*model.Event, sortSpec string) {
	desc := sortSpec == "" || strings.HasPrefix(sortSpec, "-")
	col := strings.TrimPrefix(sortSpec, "-")
	key := func(e *model.Event) time.Time {
		switch col {
		case "completed_at":
			if e.CompletedAt != nil {
				return *e.CompletedAt
			}
			return time.Time{}
		case "started_at":
			if e.StartedAt != nil {
				return *e.StartedAt
			}
			return time.Time{}
		}
		return e.CreatedAt
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := key(events[i]), key(events[j])
		if a.Equal(b) {
			return events[i].ID < events[j].ID
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
}

func cloneEvent(e *model.Event) *model.Event {
	cp := *e
	cp.Request = cloneRaw(e.Request)
	cp.Result = cloneRaw(e.Result)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func cloneAttrs(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
