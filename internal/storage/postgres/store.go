// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelis/jobfeed/internal/store"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.SessionRepository and store.AnalysisRepository
// against Postgres.
type Store struct {
	db DB
}

// NewStore connects a pgx pool for the given DSN.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewStoreWithDB wraps an existing pool or mock.
func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// GetSession loads one scraping session or returns store.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id int64) (store.Session, error) {
	query := `
		SELECT id, status, jobs_scraped, total_jobs, completed_at
		FROM scraping_sessions
		WHERE id = $1;
	`
	var sess store.Session
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.Status,
		&sess.JobsScraped,
		&sess.TotalJobs,
		&sess.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, fmt.Errorf("load session %d: %w", id, err)
	}
	return sess, nil
}

// GetAnalysis loads one analysis record or returns store.ErrNotFound.
func (s *Store) GetAnalysis(ctx context.Context, id int64) (store.Analysis, error) {
	query := `
		SELECT id, status, completed_at
		FROM analyses
		WHERE id = $1;
	`
	var a store.Analysis
	err := s.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.Status, &a.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Analysis{}, store.ErrNotFound
		}
		return store.Analysis{}, fmt.Errorf("load analysis %d: %w", id, err)
	}
	return a, nil
}
