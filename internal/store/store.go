// File: internal/store/store.go

// Package store persists finished runs to Postgres so pass rates and flaky
// cases can be queried across time. The store is optional; a run without it
// behaves identically.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes run history into the e2e schema.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and ensures the schema exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{
		pool: pool,
		log:  logger.Named("store"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS e2e;
CREATE TABLE IF NOT EXISTS e2e.runs (
    run_id        UUID PRIMARY KEY,
    profile       TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    total         INT NOT NULL,
    passed        INT NOT NULL,
    failed        INT NOT NULL,
    halted_module TEXT,
    git_commit    TEXT,
    git_branch    TEXT,
    git_dirty     BOOLEAN
);
CREATE TABLE IF NOT EXISTS e2e.results (
    run_id          UUID NOT NULL REFERENCES e2e.runs (run_id),
    step            INT NOT NULL,
    module          TEXT NOT NULL,
    test_name       TEXT NOT NULL,
    status          TEXT NOT NULL,
    recorded_at     TIMESTAMPTZ NOT NULL,
    details         JSONB NOT NULL,
    screenshot_path TEXT,
    PRIMARY KEY (run_id, step)
);`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure run-history schema: %w", err)
	}
	return nil
}

// SaveRun writes the run row and its results in one transaction. Results go
// in with CopyFrom; a long run records hundreds of cases.
func (s *Store) SaveRun(ctx context.Context, rec *schemas.RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var commit, branch any
	var dirty any
	if rec.Git != nil {
		commit, branch, dirty = rec.Git.Commit, rec.Git.Branch, rec.Git.Dirty
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO e2e.runs (run_id, profile, started_at, finished_at, total, passed, failed, halted_module, git_commit, git_branch, git_dirty)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11);`,
		rec.RunID, rec.Profile, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.Stats.Total, rec.Stats.Passed, rec.Stats.Failed,
		rec.HaltedModule, commit, branch, dirty,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(rec.Results) > 0 {
		if err := s.copyResults(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) copyResults(ctx context.Context, tx pgx.Tx, rec *schemas.RunRecord) error {
	rows := make([][]any, len(rec.Results))
	for i, res := range rec.Results {
		details, err := json.Marshal(res.Details)
		if err != nil || res.Details == nil {
			details = []byte("{}")
		}
		rows[i] = []any{
			rec.RunID, res.StepNumber, res.Module, res.TestName,
			string(res.Status), res.Timestamp.UTC(), details, res.ScreenshotPath,
		}
	}

	copied, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"e2e", "results"},
		[]string{"run_id", "step", "module", "test_name", "status", "recorded_at", "details", "screenshot_path"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(copied) != len(rec.Results) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rec.Results), copied)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
