package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
)

func completedAt(minutesAgo int) *time.Time {
	t := time.Now().UTC().Add(-time.Duration(minutesAgo) * time.Minute)
	return &t
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	if code := f.do(t, http.MethodGet, "/v1/health", "", nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestHandleMetrics(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleTypes(t *testing.T) {
	f := newFixture(t)
	var body map[string][]string
	if code := f.do(t, http.MethodGet, "/v1/types", adaToken, nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got := strings.Join(body["types"], ","); got != "export,import" {
		t.Errorf("types = %q", got)
	}
}

func TestHandleListEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.Event{ID: "ev-1", UserID: ada.ID, Type: "export", Started: true, Completed: true, Status: true, CompletedAt: completedAt(30)})
	f.seed(t, &model.Event{ID: "ev-2", UserID: ada.ID, Type: "export", Started: true, Completed: true, Status: false, CompletedAt: completedAt(10)})
	f.seed(t, &model.Event{ID: "ev-3", UserID: ada.ID, Type: "import", Started: true, Status: true})
	f.seed(t, &model.Event{ID: "ev-4", UserID: bob.ID, Type: "export", Started: true, Completed: true, Status: true, CompletedAt: completedAt(5)})

	type listResp struct {
		Events []model.Event `json:"events"`
		Total  int           `json:"total"`
		Limit  int           `json:"limit"`
	}
	ids := func(r listResp) string {
		var out []string
		for _, e := range r.Events {
			out = append(out, e.ID)
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name  string
		query string
		want  string
		total int
	}{
		{"own events, latest completion first", "", "ev-2,ev-1,ev-3", 3},
		{"by type", "?type=import", "ev-3", 1},
		{"completed", "?completed=true", "ev-2,ev-1", 2},
		{"failed", "?status=error", "ev-2", 1},
		{"successful", "?status=success", "ev-1", 1},
		{"ascending order", "?completed=true&ordering=completed_at", "ev-1,ev-2", 2},
		{"paged", "?limit=1&offset=1", "ev-1", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body listResp
			if code := f.do(t, http.MethodGet, "/v1/events"+tt.query, adaToken, nil, &body); code != http.StatusOK {
				t.Fatalf("expected 200, got %d", code)
			}
			if got := ids(body); got != tt.want {
				t.Errorf("events = %q, want %q", got, tt.want)
			}
			if body.Total != tt.total {
				t.Errorf("total = %d, want %d", body.Total, tt.total)
			}
		})
	}

	t.Run("limit is clamped", func(t *testing.T) {
		var body listResp
		f.do(t, http.MethodGet, "/v1/events?page_size=500", adaToken, nil, &body)
		if body.Limit != model.MaxListLimit {
			t.Errorf("limit = %d, want %d", body.Limit, model.MaxListLimit)
		}
	})

	for _, q := range []string{"?completed=maybe", "?status=pending", "?limit=ten", "?offset=x"} {
		if code := f.do(t, http.MethodGet, "/v1/events"+q, adaToken, nil, nil); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestHandleGetEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.Event{ID: "ev-1", UserID: ada.ID, Type: "export"})

	var e model.Event
	if code := f.do(t, http.MethodGet, "/v1/events/ev-1", adaToken, nil, &e); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if e.ID != "ev-1" || e.Type != "export" {
		t.Errorf("unexpected event: %+v", e)
	}

	if code := f.do(t, http.MethodGet, "/v1/events/ev-1", bobToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("other user: expected 403, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/v1/events/ev-missing", adaToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", code)
	}
}

func TestHandleSubmitAndCancel(t *testing.T) {
	f := newFixture(t)

	var submitted map[string]string
	code := f.do(t, http.MethodPost, "/v1/tasks/demo.wait", adaToken, map[string]any{"data": map[string]int{"rows": 3}}, &submitted)
	if code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d", code)
	}
	id := submitted["event_id"]
	if !strings.HasPrefix(id, "ev-") || submitted["task_id"] == "" {
		t.Fatalf("unexpected submit response: %v", submitted)
	}
	e := f.waitEvent(t, id, func(e *model.Event) bool { return e.Started })
	if e.UserID != ada.ID || !strings.Contains(string(e.Request), `"rows":3`) {
		t.Errorf("unexpected stored event: %+v", e)
	}

	if code := f.do(t, http.MethodPost, "/v1/events/"+id+"/cancel", bobToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("cancel by other user: expected 403, got %d", code)
	}

	var canceled model.Event
	if code := f.do(t, http.MethodPost, "/v1/events/"+id+"/cancel", adaToken, nil, &canceled); code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", code)
	}
	if !canceled.Canceled || !canceled.Viewed {
		t.Errorf("event not canceled: %+v", canceled)
	}

	if code := f.do(t, http.MethodPost, "/v1/events/"+id+"/cancel", adaToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("second cancel: expected 403, got %d", code)
	}
	if code := f.do(t, http.MethodPost, "/v1/events/ev-missing/cancel", adaToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", code)
	}
}

func TestHandleSubmitErrors(t *testing.T) {
	f := newFixture(t)
	if code := f.do(t, http.MethodPost, "/v1/tasks/demo.nope", adaToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown task: expected 404, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/tasks/demo.wait", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+adaToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleRetry(t *testing.T) {
	f := newFixture(t)

	var submitted map[string]string
	if code := f.do(t, http.MethodPost, "/v1/tasks/demo.fail", adaToken, nil, &submitted); code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d", code)
	}
	id := submitted["event_id"]
	failed := f.waitEvent(t, id, func(e *model.Event) bool { return e.Completed })
	if failed.Status {
		t.Fatalf("expected a failed event: %+v", failed)
	}

	var retried map[string]string
	if code := f.do(t, http.MethodPost, "/v1/events/"+id+"/retry", adaToken, nil, &retried); code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", code)
	}
	newID := retried["retried_id"]
	if newID == "" || newID == id {
		t.Fatalf("unexpected retried_id %q", newID)
	}
	again := f.waitEvent(t, newID, func(e *model.Event) bool { return e.Completed })
	if again.UserID != ada.ID || again.Type != "import" {
		t.Errorf("unexpected retried event: %+v", again)
	}

	old := f.waitEvent(t, id, func(e *model.Event) bool { return true })
	if !old.Retried || !old.Viewed {
		t.Errorf("original not marked retried: %+v", old)
	}
	if code := f.do(t, http.MethodPost, "/v1/events/"+id+"/retry", adaToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("second retry: expected 403, got %d", code)
	}
}

func TestHandleView(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.Event{ID: "ev-1", UserID: ada.ID, Type: "export", Completed: true, Status: true, CompletedAt: completedAt(1)})
	f.seed(t, &model.Event{ID: "ev-2", UserID: ada.ID, Type: "export", Completed: true, Status: true, CompletedAt: completedAt(2)})
	f.seed(t, &model.Event{ID: "ev-3", UserID: ada.ID, Type: "export", Completed: true, Status: false, CompletedAt: completedAt(3)})
	f.seed(t, &model.Event{ID: "ev-4", UserID: bob.ID, Type: "export", Completed: true, Status: true, CompletedAt: completedAt(4)})

	var viewed model.Event
	if code := f.do(t, http.MethodPost, "/v1/events/ev-1/view", adaToken, nil, &viewed); code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", code)
	}
	if !viewed.Viewed {
		t.Error("event not viewed")
	}
	if code := f.do(t, http.MethodPost, "/v1/events/ev-4/view", adaToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("view other user's event: expected 403, got %d", code)
	}

	var body map[string]int64
	if code := f.do(t, http.MethodPost, "/v1/events/viewed", adaToken, nil, &body); code != http.StatusOK {
		t.Fatalf("viewed: expected 200, got %d", code)
	}
	if body["updated"] != 2 {
		t.Errorf("updated = %d, want 2", body["updated"])
	}
	bobs := f.waitEvent(t, "ev-4", func(*model.Event) bool { return true })
	if bobs.Viewed {
		t.Error("another user's event was marked viewed")
	}
}
