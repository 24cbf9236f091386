package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// eventRowColumns is the column list for scanEvent results.
var eventRowColumns = []string{
	"id", "user_id", "type", "task_id", "task_name", "request",
	"progress_throttle", "routing_strategy", "routing_key",
	"started", "completed", "canceled", "retried", "viewed", "status",
	"result", "created_at", "started_at", "completed_at",
}

// eventWithTotalColumns is the column list for queryListEvents results.
var eventWithTotalColumns = append([]string{"total_count"}, eventRowColumns...)

func TestParseSortClause(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", "created_at DESC, id DESC"},
		{"completed_at", "completed_at ASC NULLS FIRST, id ASC"},
		{"-completed_at", "completed_at DESC NULLS LAST, id DESC"},
		{"-started_at", "started_at DESC NULLS LAST, id DESC"},
		{"evil_column; DROP TABLE events", "created_at DESC, id DESC"},
		{"-type", "created_at DESC, id DESC"},
	} {
		if got := parseSortClause(tc.input); got != tc.want {
			t.Errorf("parseSortClause(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if jsonbBytes(json.RawMessage{}) != nil {
		t.Error("jsonbBytes({}) should be nil")
	}
	if b, err := jsonbMap(nil); b != nil || err != nil {
		t.Errorf("jsonbMap(nil) = (%s, %v)", b, err)
	}
	if b, _ := jsonbMap(map[string]any{"team": "core"}); string(b) != `{"team":"core"}` {
		t.Errorf("jsonbMap = %s", b)
	}
}

func TestQuerySaveEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := &model.Event{
		ID: "ev-1", UserID: "42", Type: "export", TaskID: "tk-1", TaskName: "export.run",
		Request: json.RawMessage(`{"event_id":"ev-1"}`), ProgressThrottle: 0.1,
		RoutingStrategy: "user.id", RoutingKey: "42", Started: true, Status: true,
		CreatedAt: now, StartedAt: &now,
	}
	mock.ExpectExec("INSERT INTO events .+ ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(
			"ev-1", "42", "export", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`{"event_id":"ev-1"}`),
			0.1, "user.id", "42",
			true, false, false, false, false, true,
			sqlmock.AnyArg(), now, sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := querySaveEvent(context.Background(), db, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns).AddRow(
		"ev-1", "42", "export", "tk-1", nil, []byte(`{"data":1}`),
		0.5, "user.id", "42",
		true, true, false, false, false, false,
		[]byte(`"boom"`), now, now, now,
	)
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev-1").WillReturnRows(rows)

	e, err := queryGetEvent(context.Background(), db, "ev-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.TaskID != "tk-1" || e.TaskName != "" || e.ProgressThrottle != 0.5 {
		t.Errorf("event = %+v", e)
	}
	if !e.Failure() || string(e.Result) != `"boom"` || e.CompletedAt == nil || e.StartedAt == nil {
		t.Errorf("terminal state not scanned: %+v", e)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	s := &PostgresStore{db: db}
	if _, err := s.GetEvent(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryListEvents_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	before := now.Add(-time.Hour)

	rows := sqlmock.NewRows(eventWithTotalColumns).AddRow(
		7,
		"ev-2", "42", "export", nil, nil, nil,
		0.1, "", "",
		true, true, false, false, true, true,
		nil, now, now, before,
	)
	mock.ExpectQuery(
		"SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM events "+
			"WHERE user_id = \\$1 AND type IN \\(\\$2, \\$3\\) AND completed = \\$4 AND viewed = \\$5 AND completed_at <= \\$6 "+
			"ORDER BY completed_at DESC NULLS LAST, id DESC LIMIT \\$7 OFFSET \\$8",
	).WithArgs("42", "export", "import", true, true, before, 10, 20).WillReturnRows(rows)

	events, total, err := queryListEvents(context.Background(), db, model.EventFilter{
		UserID:          "42",
		Type:            []string{"export", "import"},
		Completed:       model.BoolPtr(true),
		Viewed:          model.BoolPtr(true),
		CompletedBefore: &before,
		Sort:            "-completed_at",
		Limit:           10,
		Offset:          20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 || len(events) != 1 || events[0].ID != "ev-2" {
		t.Errorf("got total=%d events=%v", total, events)
	}
}

func TestQueryListEvents_Successful(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM events WHERE completed AND status = \\$1 ORDER BY created_at DESC, id DESC$").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(eventWithTotalColumns))

	events, total, err := queryListEvents(context.Background(), db, model.EventFilter{Successful: model.BoolPtr(false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(events) != 0 {
		t.Errorf("got total=%d events=%v", total, events)
	}
}

func TestQueryMarkViewed(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE events SET viewed = TRUE WHERE user_id = \\$1 AND completed AND NOT viewed").
		WithArgs("42").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := queryMarkViewed(context.Background(), db, "42")
	if err != nil || n != 3 {
		t.Fatalf("queryMarkViewed = (%d, %v), want 3", n, err)
	}
}

func TestQueryDeleteEvents(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM events WHERE id IN \\(\\$1, \\$2\\)").
		WithArgs("ev-1", "ev-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := queryDeleteEvents(context.Background(), db, []string{"ev-1", "ev-2"})
	if err != nil || n != 2 {
		t.Fatalf("queryDeleteEvents = (%d, %v), want 2", n, err)
	}
	// No ids, no statement.
	if n, err := queryDeleteEvents(context.Background(), db, nil); n != 0 || err != nil {
		t.Errorf("queryDeleteEvents(nil) = (%d, %v)", n, err)
	}
}

func TestQueryPrincipal(t *testing.T) {
	db, mock := newMockDB(t)
	p := &model.Principal{ID: "42", Username: "ada", Attrs: map[string]any{"team": "core"}}
	mock.ExpectExec("INSERT INTO principals .+ ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("42", "ada", sqlmock.AnyArg(), []byte(`{"team":"core"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := querySavePrincipal(context.Background(), db, p); err != nil {
		t.Fatalf("querySavePrincipal: %v", err)
	}

	mock.ExpectQuery("SELECT id, username, email, attrs FROM principals WHERE id = \\$1").WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "attrs"}).
			AddRow("42", "ada", nil, []byte(`{"team":"core"}`)))
	got, err := queryGetPrincipal(context.Background(), db, "42")
	if err != nil {
		t.Fatalf("queryGetPrincipal: %v", err)
	}
	if got.Username != "ada" || got.Email != "" || got.Attrs["team"] != "core" {
		t.Errorf("principal = %+v", got)
	}
}

func TestQueryCreateSession_UnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("tok", "nobody", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: foreignKeyViolation})

	if err := queryCreateSession(context.Background(), db, "tok", "nobody", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestResolveSession(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("FROM sessions s JOIN principals p ON p.id = s.user_id WHERE s.token = \\$1 AND \\(s.expires_at IS NULL OR s.expires_at > NOW\\(\\)\\)").
		WithArgs("good").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "attrs"}).AddRow("42", "ada", "ada@example.com", nil))
	p, err := s.ResolveSession(context.Background(), "good")
	if err != nil || p.ID != "42" || p.Email != "ada@example.com" {
		t.Fatalf("ResolveSession(good) = (%+v, %v)", p, err)
	}

	mock.ExpectQuery("FROM sessions s JOIN principals p").WithArgs("expired").WillReturnError(sql.ErrNoRows)
	if _, err := s.ResolveSession(context.Background(), "expired"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ResolveSession(expired) = %v, want store.ErrNotFound", err)
	}
}
