package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
	"github.com/alfredjeanlab/beacon/internal/taskqueue"
)

const defaultEventSort = "-completed_at"

// handleListEvents handles GET /v1/events. Only the caller's events are
// listed.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.UserID = principal(r).ID
	filter.Clamp()

	events, total, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseEventFilter(r *http.Request) (model.EventFilter, error) {
	q := r.URL.Query()
	filter := model.EventFilter{Sort: defaultEventSort}

	if v := q.Get("type"); v != "" {
		filter.Type = strings.Split(v, ",")
	}
	if v := firstNonEmpty(q.Get("sort"), q.Get("ordering")); v != "" {
		filter.Sort = v
	}

	var err error
	if filter.Completed, err = boolParam(q.Get("completed"), "completed"); err != nil {
		return filter, err
	}
	if filter.Viewed, err = boolParam(q.Get("viewed"), "viewed"); err != nil {
		return filter, err
	}
	switch v := q.Get("status"); v {
	case "":
	case model.StatusSuccess:
		filter.Successful = model.BoolPtr(true)
	case model.StatusError, "failure":
		filter.Successful = model.BoolPtr(false)
	default:
		return filter, inputError("invalid status " + strconv.Quote(v))
	}

	if v := firstNonEmpty(q.Get("limit"), q.Get("page_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, inputError("invalid limit " + strconv.Quote(v))
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, inputError("invalid offset " + strconv.Quote(v))
		}
		filter.Offset = n
	}
	return filter, nil
}

func boolParam(v, name string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, inputError("invalid " + name + " " + strconv.Quote(v))
	}
	return &b, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// handleGetEvent handles GET /v1/events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if !s.checkOwned(w, r, e, err) {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleCancelEvent handles POST /v1/events/{id}/cancel.
func (s *Server) handleCancelEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadOwned(w, r)
	if !ok {
		return
	}
	defer ev.Close()

	canceled, err := ev.Cancel(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !canceled {
		writeError(w, http.StatusForbidden, "event may not be canceled")
		return
	}
	writeJSON(w, http.StatusOK, ev.Record())
}

// handleRetryEvent handles POST /v1/events/{id}/retry.
func (s *Server) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadOwned(w, r)
	if !ok {
		return
	}
	defer ev.Close()

	newID, retried, err := ev.Retry(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !retried {
		writeError(w, http.StatusForbidden, "event may not be retried")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"retried_id": newID})
}

// handleViewEvent handles POST /v1/events/{id}/view.
func (s *Server) handleViewEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadOwned(w, r)
	if !ok {
		return
	}
	defer ev.Close()

	if err := ev.View(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev.Record())
}

// handleMarkAllViewed handles POST /v1/events/viewed.
func (s *Server) handleMarkAllViewed(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.MarkAllViewed(r.Context(), principal(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

type submitTaskInput struct {
	Data json.RawMessage `json:"data"`
	Args map[string]any  `json:"args"`
}

// handleSubmitTask handles POST /v1/tasks/{name}.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotFound, "no tasks are defined")
		return
	}
	var in submitTaskInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	eventID, taskID, err := s.runner.Submit(r.Context(), r.PathValue("name"), principal(r), in.Data, in.Args)
	switch {
	case errors.Is(err, taskqueue.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, taskqueue.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID, "task_id": taskID})
}

// loadOwned loads the event named by the path for a transition. It writes
// the error response and returns false when the event is missing or
// belongs to someone else.
func (s *Server) loadOwned(w http.ResponseWriter, r *http.Request) (*lifecycle.Event, bool) {
	ev, err := s.manager.Load(r.Context(), r.PathValue("id"))
	var rec *model.Event
	if ev != nil {
		e := ev.Record()
		rec = &e
	}
	if !s.checkOwned(w, r, rec, err) {
		if ev != nil {
			ev.Close()
		}
		return nil, false
	}
	return ev, true
}

func (s *Server) checkOwned(w http.ResponseWriter, r *http.Request, e *model.Event, err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
		return false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	case e.UserID != principal(r).ID:
		writeError(w, http.StatusForbidden, "event belongs to another user")
		return false
	}
	return true
}
