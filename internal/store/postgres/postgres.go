// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool limits applied to every connection opened by New.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// PostgresStore keeps events, principals and sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL and brings the schema up to date. The
// connection is closed again if either step fails.
func New(ctx context.Context, databaseURL string) (s *PostgresStore, err error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err = migrateUp(db); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// migrateUp applies the embedded migrations that have not run yet.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "beacon_schema_migrations"})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return err
	}
	if err := m.Up(); !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) SaveEvent(ctx context.Context, e *model.Event) error {
	return querySaveEvent(ctx, s.db, e)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return notFound(queryGetEvent(ctx, s.db, id))
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, int, error) {
	return queryListEvents(ctx, s.db, filter)
}

func (s *PostgresStore) MarkViewed(ctx context.Context, userID string) (int64, error) {
	return queryMarkViewed(ctx, s.db, userID)
}

func (s *PostgresStore) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	return queryDeleteEvents(ctx, s.db, ids)
}

func (s *PostgresStore) SavePrincipal(ctx context.Context, p *model.Principal) error {
	return querySavePrincipal(ctx, s.db, p)
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	return notFound(queryGetPrincipal(ctx, s.db, id))
}

func (s *PostgresStore) CreateSession(ctx context.Context, token, userID string, expiresAt *time.Time) error {
	return queryCreateSession(ctx, s.db, token, userID, expiresAt)
}

func (s *PostgresStore) ResolveSession(ctx context.Context, token string) (*model.Principal, error) {
	return notFound(queryResolveSession(ctx, s.db, token))
}

// notFound maps sql.ErrNoRows to store.ErrNotFound.
func notFound[T any](v T, err error) (T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, store.ErrNotFound
	}
	return v, err
}
