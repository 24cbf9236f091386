package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, user_id, type, task_id, task_name, request,
	progress_throttle, routing_strategy, routing_key,
	started, completed, canceled, retried, viewed, status,
	result, created_at, started_at, completed_at`

const principalColumns = `id, username, email, attrs`

// foreignKeyViolation is the SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querySaveEvent(ctx context.Context, db executor, e *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (
			id, user_id, type, task_id, task_name, request,
			progress_throttle, routing_strategy, routing_key,
			started, completed, canceled, retried, viewed, status,
			result, created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19
		)
		ON CONFLICT (id) DO UPDATE SET
			started = EXCLUDED.started,
			completed = EXCLUDED.completed,
			canceled = EXCLUDED.canceled,
			retried = EXCLUDED.retried,
			viewed = EXCLUDED.viewed,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		e.ID,
		e.UserID,
		e.Type,
		nullString(e.TaskID),
		nullString(e.TaskName),
		jsonbBytes(e.Request),
		e.ProgressThrottle,
		e.RoutingStrategy,
		e.RoutingKey,
		e.Started,
		e.Completed,
		e.Canceled,
		e.Retried,
		e.Viewed,
		e.Status,
		jsonbBytes(e.Result),
		e.CreatedAt,
		nullTimePtr(e.StartedAt),
		nullTimePtr(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	return nil
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func queryListEvents(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.UserID != "" {
		whereClauses = append(whereClauses, "user_id = "+nextArg())
		args = append(args, filter.UserID)
	}

	if len(filter.Type) > 0 {
		placeholders := make([]string, len(filter.Type))
		for i, t := range filter.Type {
			placeholders[i] = nextArg()
			args = append(args, t)
		}
		whereClauses = append(whereClauses, "type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Completed != nil {
		whereClauses = append(whereClauses, "completed = "+nextArg())
		args = append(args, *filter.Completed)
	}

	if filter.Successful != nil {
		whereClauses = append(whereClauses, "completed AND status = "+nextArg())
		args = append(args, *filter.Successful)
	}

	if filter.Viewed != nil {
		whereClauses = append(whereClauses, "viewed = "+nextArg())
		args = append(args, *filter.Viewed)
	}

	if filter.CompletedBefore != nil {
		whereClauses = append(whereClauses, "completed_at <= "+nextArg())
		args = append(args, *filter.CompletedBefore)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + eventColumns + " FROM events" + whereSQL + " ORDER BY " + parseSortClause(filter.Sort)

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	var total int
	for rows.Next() {
		e, t, err := scanEventWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan events: %w", err)
		}
		total = t
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan events: %w", err)
	}

	return events, total, nil
}

func queryMarkViewed(ctx context.Context, db executor, userID string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE events SET viewed = TRUE
		WHERE user_id = $1 AND completed AND NOT viewed`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark viewed: %w", err)
	}
	return res.RowsAffected()
}

func queryDeleteEvents(ctx context.Context, db executor, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.RowsAffected()
}

func querySavePrincipal(ctx context.Context, db executor, p *model.Principal) error {
	attrs, err := jsonbMap(p.Attrs)
	if err != nil {
		return fmt.Errorf("encode attrs of %s: %w", p.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO principals (id, username, email, attrs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			attrs = EXCLUDED.attrs`,
		p.ID,
		p.Username,
		nullString(p.Email),
		attrs,
	)
	if err != nil {
		return fmt.Errorf("save principal %s: %w", p.ID, err)
	}
	return nil
}

func queryGetPrincipal(ctx context.Context, db executor, id string) (*model.Principal, error) {
	row := db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

func queryCreateSession(ctx context.Context, db executor, token, userID string, expiresAt *time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)`,
		token, userID, nullTimePtr(expiresAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func queryResolveSession(ctx context.Context, db executor, token string) (*model.Principal, error) {
	row := db.QueryRowContext(ctx, `
		SELECT p.id, p.username, p.email, p.attrs
		FROM sessions s JOIN principals p ON p.id = s.user_id
		WHERE s.token = $1 AND (s.expires_at IS NULL OR s.expires_at > NOW())`,
		token,
	)
	return scanPrincipal(row)
}

// parseSortClause maps a sort spec onto an allow-listed ORDER BY clause.
// id breaks ties so paging is stable.
func parseSortClause(sort string) string {
	if sort == "" {
		return "created_at DESC, id DESC"
	}
	desc := strings.HasPrefix(sort, "-")
	col := strings.TrimPrefix(sort, "-")
	allowed := map[string]bool{
		"created_at": true, "started_at": true, "completed_at": true,
	}
	if !allowed[col] {
		return "created_at DESC, id DESC"
	}
	if desc {
		return col + " DESC NULLS LAST, id DESC"
	}
	return col + " ASC NULLS FIRST, id ASC"
}
