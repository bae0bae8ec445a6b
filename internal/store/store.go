package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS automation_runs (
            id          TEXT PRIMARY KEY,
            chat_id     BIGINT NOT NULL DEFAULT 0,
            task        TEXT NOT NULL,
            outcome     TEXT NOT NULL,
            error_code  TEXT NOT NULL DEFAULT '',
            message     TEXT NOT NULL,
            iterations  INTEGER NOT NULL,
            history     JSONB NOT NULL DEFAULT '[]',
            started_at  TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateRunsIndex = `
        CREATE INDEX IF NOT EXISTS automation_runs_chat_started_idx
            ON automation_runs (chat_id, started_at DESC);
    `
	sqlInsertRun = `
        INSERT INTO automation_runs (id, chat_id, task, outcome, error_code, message, iterations, history, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlRecentRuns = `
        SELECT id, chat_id, task, outcome, error_code, message, iterations, history, started_at, finished_at
        FROM automation_runs
        WHERE chat_id = $1
        ORDER BY started_at DESC
        LIMIT $2;
    `
)

// Run is a finished automation run as stored in automation_runs.
type Run struct {
	ID         string
	ChatID     int64
	Task       string
	Outcome    string
	Code       string
	Message    string
	Iterations int
	History    []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunFromResult converts a controller result into a storable row. chatID is zero for
// runs started outside the chat transport.
func RunFromResult(chatID int64, res agent.Result) Run {
	return Run{
		ID:         res.RunID,
		ChatID:     chatID,
		Task:       res.Task,
		Outcome:    string(res.Outcome),
		Code:       string(res.Code),
		Message:    res.Message,
		Iterations: res.Iterations,
		History:    res.History,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

// Store persists automation runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the runs table and its lookup index if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateRuns, sqlCreateRunsIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts a single run. Saving the same run ID twice is a no-op.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	args, err := insertArgs(run)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlInsertRun, args...); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRuns inserts a batch of runs in one transaction.
func (s *Store) SaveRuns(ctx context.Context, runs []Run) (err error) {
	if len(runs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, run := range runs {
		args, argErr := insertArgs(run)
		if argErr != nil {
			return argErr
		}
		if _, err = tx.Exec(ctx, sqlInsertRun, args...); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentRuns lists up to limit runs for a chat, newest first.
func (s *Store) RecentRuns(ctx context.Context, chatID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx, sqlRecentRuns, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var history []byte
		err := rows.Scan(
			&r.ID, &r.ChatID, &r.Task, &r.Outcome, &r.Code, &r.Message,
			&r.Iterations, &history, &r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &r.History); err != nil {
				return nil, fmt.Errorf("failed to decode history for run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func insertArgs(run Run) ([]any, error) {
	history := run.History
	if history == nil {
		history = []string{}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history for run %s: %w", run.ID, err)
	}
	return []any{
		run.ID, run.ChatID, run.Task, run.Outcome, run.Code, run.Message,
		run.Iterations, encoded, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	}, nil
}
