// Package db persists research run history in PostgreSQL.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/metrics"
)

// ErrRunNotFound is returned when no run exists for a workflow id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS research_runs (
	id            UUID PRIMARY KEY,
	workflow_id   TEXT NOT NULL UNIQUE,
	session_id    TEXT NOT NULL DEFAULT '',
	path          TEXT NOT NULL,
	query         TEXT NOT NULL,
	status        TEXT NOT NULL,
	rounds        INTEGER NOT NULL DEFAULT 0,
	queries_run   INTEGER NOT NULL DEFAULT 0,
	sources_kept  INTEGER NOT NULL DEFAULT 0,
	answer        TEXT,
	error_message TEXT,
	metadata      JSONB,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertRun = `
INSERT INTO research_runs (
	id, workflow_id, session_id, path, query, status, rounds, queries_run,
	sources_kept, answer, error_message, metadata, started_at, completed_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
)
ON CONFLICT (workflow_id) DO UPDATE SET
	status = EXCLUDED.status,
	rounds = EXCLUDED.rounds,
	queries_run = EXCLUDED.queries_run,
	sources_kept = EXCLUDED.sources_kept,
	answer = EXCLUDED.answer,
	error_message = EXCLUDED.error_message,
	metadata = EXCLUDED.metadata,
	completed_at = EXCLUDED.completed_at`

const selectRun = `
SELECT id, workflow_id, session_id, path, query, status, rounds, queries_run,
	sources_kept, answer, error_message, metadata, started_at, completed_at, created_at
FROM research_runs WHERE workflow_id = $1`

// Client writes and reads run history through a circuit breaker
type Client struct {
	db      *sqlx.DB
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient opens a connection pool and verifies it with a ping
func NewClient(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Client, error) {
	dbx, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	dbx.SetMaxOpenConns(maxOpen)
	dbx.SetMaxIdleConns(maxOpen / 2)
	dbx.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewClientFromDB(dbx, logger), nil
}

// NewClientFromDB wraps an existing pool
func NewClientFromDB(dbx *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		db:      dbx,
		breaker: circuitbreaker.NewRegistered("postgresql", "database-client", circuitbreaker.GetDatabaseSettings(), logger),
		logger:  logger,
	}
}

// Migrate creates the run history table if it does not exist
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// SaveRun inserts or updates a run record, idempotent by workflow id
func (c *Client) SaveRun(ctx context.Context, run *ResearchRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	err := c.breaker.Execute(ctx, func() error {
		_, err := c.db.ExecContext(ctx, upsertRun,
			run.ID, run.WorkflowID, run.SessionID, run.Path, run.Query, run.Status,
			run.Rounds, run.QueriesRun, run.SourcesKept, run.Answer, run.ErrorMessage,
			run.Metadata, run.StartedAt, run.CompletedAt, run.CreatedAt,
		)
		return err
	})
	circuitbreaker.Default.Observe("database-client", "postgresql", err)
	if err != nil {
		metrics.RunsRecorded.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save run: %w", err)
	}

	metrics.RunsRecorded.WithLabelValues(run.Status).Inc()
	c.logger.Debug("Saved research run",
		zap.String("workflow_id", run.WorkflowID),
		zap.String("status", run.Status),
	)
	return nil
}

// GetRun loads the run recorded for a workflow id
func (c *Client) GetRun(ctx context.Context, workflowID string) (*ResearchRun, error) {
	var runs []ResearchRun
	if err := c.db.SelectContext(ctx, &runs, selectRun, workflowID); err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// Ping checks database connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// IsCircuitBreakerOpen reports whether writes are being short-circuited
func (c *Client) IsCircuitBreakerOpen() bool {
	return c.breaker.IsOpen()
}

// Close closes the pool
func (c *Client) Close() error {
	return c.db.Close()
}
