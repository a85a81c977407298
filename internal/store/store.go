package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when no transcript exists for a run ID.
var ErrRunNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunStatus is the outcome of a finished run.
type RunStatus string

const (
	StatusSuccess   RunStatus = "success"
	StatusError     RunStatus = "error"
	StatusCancelled RunStatus = "cancelled"
)

// Run is the transcript of one agent run.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Status     RunStatus `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Plan       []string  `json:"plan"`
	History    []string  `json:"history"`
	Notes      []string  `json:"notes"`
	Answer     string    `json:"answer,omitempty"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     RunStatus  `json:"status"`
	Steps      int        `json:"steps"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists run transcripts in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Open connects to url, verifies the connection and returns the store with
// the pool's close function.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
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

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        task TEXT NOT NULL,
        status TEXT NOT NULL,
        error_code TEXT NOT NULL DEFAULT '',
        error TEXT NOT NULL DEFAULT '',
        plan JSONB NOT NULL DEFAULT '[]',
        notes JSONB NOT NULL DEFAULT '[]',
        answer TEXT NOT NULL DEFAULT '',
        steps INTEGER NOT NULL DEFAULT 0,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ
    );`,
	`CREATE TABLE IF NOT EXISTS run_history (
        run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
        seq INTEGER NOT NULL,
        record TEXT NOT NULL,
        PRIMARY KEY (run_id, seq)
    );`,
	`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);`,
}

// EnsureSchema creates the transcript tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const sqlUpsertRun = `
        INSERT INTO runs (id, task, status, error_code, error, plan, notes, answer, steps, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            error_code = EXCLUDED.error_code,
            error = EXCLUDED.error,
            plan = EXCLUDED.plan,
            notes = EXCLUDED.notes,
            answer = EXCLUDED.answer,
            steps = EXCLUDED.steps,
            finished_at = EXCLUDED.finished_at;
    `

// SaveRun writes the transcript of run, replacing any earlier version of it.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	plan, err := encodeList(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	notes, err := encodeList(run.Notes)
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	var finishedAt *time.Time
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt.UTC()
		finishedAt = &t
	}
	if _, err := tx.Exec(ctx, sqlUpsertRun,
		run.ID, run.Task, string(run.Status), run.ErrorCode, run.Error,
		plan, notes, run.Answer, run.Steps,
		run.StartedAt.UTC(), finishedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", run.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_history WHERE run_id = $1;`, run.ID); err != nil {
		return fmt.Errorf("failed to clear history of run %s: %w", run.ID, err)
	}
	if len(run.History) > 0 {
		rows := make([][]interface{}, len(run.History))
		for i, record := range run.History {
			rows[i] = []interface{}{run.ID, i, record}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"run_history"}, []string{"run_id", "seq", "record"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy history of run %s: %w", run.ID, err)
		}
		if int(n) != len(run.History) {
			return fmt.Errorf("mismatch in copied history count: expected %d, got %d", len(run.History), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun loads the transcript of one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
        SELECT task, status, error_code, error, plan, notes, answer, steps, started_at, finished_at
        FROM runs
        WHERE id = $1;
    `
	run := &Run{ID: id}
	var (
		status      string
		plan, notes []byte
		finishedAt  *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.Task, &status, &run.ErrorCode, &run.Error,
		&plan, &notes, &run.Answer, &run.Steps,
		&run.StartedAt, &finishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	run.Status = RunStatus(status)
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	if run.Plan, err = decodeList(plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan of run %s: %w", id, err)
	}
	if run.Notes, err = decodeList(notes); err != nil {
		return nil, fmt.Errorf("failed to decode notes of run %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT record FROM run_history WHERE run_id = $1 ORDER BY seq ASC;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		run.History = append(run.History, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id, task, status, steps, started_at, finished_at
        FROM runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.ID, &r.Task, &status, &r.Steps, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	// Rollback after Commit returns ErrTxClosed, which is expected.
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func encodeList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func decodeList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
