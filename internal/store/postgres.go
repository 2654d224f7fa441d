package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"revista-press/internal/models"
)

// ErrNotFound is returned when a job id, token, or journal code does not resolve.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a requested status change would move a job
// backward through its lifecycle.
var ErrConflict = errors.New("status conflict")

// Store wraps pgxpool for Postgres persistence of users, jobs, and journal
// configuration.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetActiveJournal resolves the single active configuration for a code.
func (s *Store) GetActiveJournal(ctx context.Context, code string) (models.Journal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT code, active, name, full_name, compiler, volume, year, issue
		FROM journals WHERE code = $1 AND active = TRUE
	`, code)

	var j models.Journal
	if err := row.Scan(&j.Code, &j.Active, &j.Name, &j.FullName, &j.Compiler, &j.Volume, &j.Year, &j.Issue); err != nil {
		if isNoRows(err) {
			return models.Journal{}, ErrNotFound
		}
		return models.Journal{}, fmt.Errorf("scan journal: %w", err)
	}
	return j, nil
}

// AppendLog adds a processing log row. Best-effort callers ignore the error.
func (s *Store) AppendLog(ctx context.Context, jobID, level, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_logs (job_id, level, message, created_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, level, message)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
