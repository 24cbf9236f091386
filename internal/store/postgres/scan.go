package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// eventScan holds the nullable columns of an events row.
type eventScan struct {
	taskID      sql.NullString
	taskName    sql.NullString
	request     []byte
	result      []byte
	startedAt   sql.NullTime
	completedAt sql.NullTime
}

func (s *eventScan) dest(e *model.Event) []any {
	return []any{
		&e.ID,
		&e.UserID,
		&e.Type,
		&s.taskID,
		&s.taskName,
		&s.request,
		&e.ProgressThrottle,
		&e.RoutingStrategy,
		&e.RoutingKey,
		&e.Started,
		&e.Completed,
		&e.Canceled,
		&e.Retried,
		&e.Viewed,
		&e.Status,
		&s.result,
		&e.CreatedAt,
		&s.startedAt,
		&s.completedAt,
	}
}

func (s *eventScan) apply(e *model.Event) {
	e.TaskID = s.taskID.String
	e.TaskName = s.taskName.String
	if len(s.request) > 0 {
		e.Request = json.RawMessage(s.request)
	}
	if len(s.result) > 0 {
		e.Result = json.RawMessage(s.result)
	}
	if s.startedAt.Valid {
		t := s.startedAt.Time
		e.StartedAt = &t
	}
	if s.completedAt.Valid {
		t := s.completedAt.Time
		e.CompletedAt = &t
	}
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var s eventScan
	if err := row.Scan(s.dest(&e)...); err != nil {
		return nil, err
	}
	s.apply(&e)
	return &e, nil
}

// scanEventWithTotal scans a row that has a leading total_count column
// followed by the standard event columns. Used by queryListEvents with
// COUNT(*) OVER().
func scanEventWithTotal(row scannable) (*model.Event, int, error) {
	var total int
	var e model.Event
	var s eventScan
	if err := row.Scan(append([]any{&total}, s.dest(&e)...)...); err != nil {
		return nil, 0, err
	}
	s.apply(&e)
	return &e, total, nil
}

func scanPrincipal(row scannable) (*model.Principal, error) {
	var p model.Principal
	var email sql.NullString
	var attrs []byte
	if err := row.Scan(&p.ID, &p.Username, &email, &attrs); err != nil {
		return nil, err
	}
	p.Email = email.String
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attrs); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts an empty string to sql.NullString{Valid: false}.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes returns nil for empty JSON so the column stores NULL.
func jsonbBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// jsonbMap encodes m for a JSONB column; an empty map stores NULL.
func jsonbMap(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
