package model

import (
	"testing"
	"time"
)

func TestEvent_Predicates(t *testing.T) {
	for _, tc := range []struct {
		name        string
		ev          Event
		running     bool
		mayCancel   bool
		mayRetry    bool
		wantFailure bool
	}{
		{"new", Event{Status: true}, false, false, false, false},
		{"started", Event{Started: true, Status: true}, true, true, false, false},
		{"succeeded", Event{Started: true, Completed: true, Status: true}, false, false, false, false},
		{"failed", Event{Started: true, Completed: true}, false, false, true, true},
		{"canceled", Event{Started: true, Canceled: true, Status: true}, false, false, true, false},
		{"canceled and retried", Event{Started: true, Canceled: true, Retried: true, Status: true}, false, false, false, false},
		{"failed and retried", Event{Started: true, Completed: true, Retried: true}, false, false, false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.Running(); got != tc.running {
				t.Errorf("Running() = %v, want %v", got, tc.running)
			}
			if got := tc.ev.MayBeCanceled(); got != tc.mayCancel {
				t.Errorf("MayBeCanceled() = %v, want %v", got, tc.mayCancel)
			}
			if got := tc.ev.MayBeRetried(); got != tc.mayRetry {
				t.Errorf("MayBeRetried() = %v, want %v", got, tc.mayRetry)
			}
			if got := tc.ev.Failure(); got != tc.wantFailure {
				t.Errorf("Failure() = %v, want %v", got, tc.wantFailure)
			}
		})
	}
}

func TestPrincipal_Attribute(t *testing.T) {
	p := &Principal{
		ID:       "42",
		Username: "ada",
		Email:    "ada@example.com",
		Attrs:    map[string]any{"team": "core"},
	}
	for _, tc := range []struct {
		name   string
		want   any
		wantOK bool
	}{
		{"id", "42", true},
		{"ID", "42", true},
		{"pk", "42", true},
		{"username", "ada", true},
		{"email", "ada@example.com", true},
		{"team", "core", true},
		{"missing", nil, false},
	} {
		got, ok := p.Attribute(tc.name)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("Attribute(%q) = (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}

	var nilP *Principal
	if _, ok := nilP.Attribute("id"); ok {
		t.Error("nil principal should have no attributes")
	}
}

func TestEventFilter_Clamp(t *testing.T) {
	for _, tc := range []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{25, 25},
		{500, MaxListLimit},
	} {
		f := EventFilter{Limit: tc.in}
		f.Clamp()
		if f.Limit != tc.want {
			t.Errorf("Clamp(limit=%d) = %d, want %d", tc.in, f.Limit, tc.want)
		}
	}
}

func TestEventFilter_Matches(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	done := &Event{ID: "a", UserID: "u1", Type: "export", Started: true, Completed: true, Status: true, Viewed: true, CompletedAt: &old}
	failed := &Event{ID: "b", UserID: "u1", Type: "import", Started: true, Completed: true, CompletedAt: &now}
	running := &Event{ID: "c", UserID: "u2", Type: "export", Started: true, Status: true}

	cutoff := now.Add(-24 * time.Hour)
	for _, tc := range []struct {
		name   string
		filter EventFilter
		want   map[string]bool
	}{
		{"empty", EventFilter{}, map[string]bool{"a": true, "b": true, "c": true}},
		{"user", EventFilter{UserID: "u1"}, map[string]bool{"a": true, "b": true}},
		{"type", EventFilter{Type: []string{"export"}}, map[string]bool{"a": true, "c": true}},
		{"completed", EventFilter{Completed: BoolPtr(true)}, map[string]bool{"a": true, "b": true}},
		{"successful", EventFilter{Successful: BoolPtr(true)}, map[string]bool{"a": true}},
		{"failed", EventFilter{Successful: BoolPtr(false)}, map[string]bool{"b": true}},
		{"not viewed", EventFilter{Viewed: BoolPtr(false)}, map[string]bool{"b": true, "c": true}},
		{"completed before", EventFilter{CompletedBefore: &cutoff}, map[string]bool{"a": true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, e := range []*Event{done, failed, running} {
				if got := tc.filter.Matches(e); got != tc.want[e.ID] {
					t.Errorf("Matches(%s) = %v, want %v", e.ID, got, tc.want[e.ID])
				}
			}
		})
	}
}
