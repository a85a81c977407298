package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var historyColumns = []string{"run_id", "seq", "record"}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleRun() *Run {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &Run{
		ID:         uuid.NewString(),
		Task:       "find the weather in Paris",
		Status:     StatusSuccess,
		Plan:       []string{"search", "read"},
		History:    []string{"Type : typed weather Paris into 2", "Click : clicked on 5"},
		Notes:      []string{"search box found", "forecast visible"},
		Answer:     "## Final Answer\nSunny",
		Steps:      14,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())

	mockPool.ExpectBegin()
	for _, stmt := range schema {
		mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full transcript without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(
				run.ID, run.Task, "success", "", "",
				[]byte(`["search","read"]`),
				[]byte(`["search box found","forecast visible"]`),
				run.Answer, 14,
				run.StartedAt, pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM run_history`).
			WithArgs(run.ID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_history"}, historyColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip the copy when there is no history", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()
		run.History = nil
		run.Plan = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(
				run.ID, run.Task, "success", "", "",
				[]byte(`[]`),
				pgxmock.AnyArg(),
				run.Answer, 14,
				run.StartedAt, pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM run_history`).
			WithArgs(run.ID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy count mismatches", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(anyArgs(11)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM run_history`).
			WithArgs(run.ID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_history"}, historyColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should convert timestamps to UTC before persisting", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		run := sampleRun()
		run.History = nil
		run.StartedAt = time.Date(2025, 11, 20, 10, 0, 0, 0, loc)
		run.FinishedAt = time.Time{}

		utcMatcher := pgxmock.AnyArg()
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(
				run.ID, run.Task, "success", "", "",
				utcMatcher, utcMatcher, run.Answer, 14,
				run.StartedAt.UTC(), (*time.Time)(nil),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM run_history`).
			WithArgs(run.ID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate begin failures", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.SaveRun(ctx, sampleRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()
	runColumns := []string{"task", "status", "error_code", "error", "plan", "notes", "answer", "steps", "started_at", "finished_at"}

	t.Run("should load the run and its ordered history", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		want := sampleRun()
		finished := want.FinishedAt

		mockPool.ExpectQuery(`SELECT task, status`).
			WithArgs(want.ID).
			WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
				want.Task, "success", "", "",
				[]byte(`["search","read"]`), []byte(`["search box found","forecast visible"]`),
				want.Answer, 14, want.StartedAt, &finished,
			))
		mockPool.ExpectQuery(`SELECT record FROM run_history`).
			WithArgs(want.ID).
			WillReturnRows(pgxmock.NewRows([]string{"record"}).
				AddRow(want.History[0]).
				AddRow(want.History[1]))

		got, err := s.GetRun(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing run", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(`SELECT task, status`).
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows(runColumns))

		_, err := s.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestListRuns(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mockPool.ExpectQuery(`SELECT id, task, status, steps, started_at, finished_at`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "task", "status", "steps", "started_at", "finished_at"}).
			AddRow("run-2", "second", "error", 3, started.Add(time.Hour), nil).
			AddRow("run-1", "first", "success", 9, started, &finished))

	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunSummary{ID: "run-2", Task: "second", Status: StatusError, Steps: 3, StartedAt: started.Add(time.Hour)}, runs[0])
	assert.Equal(t, &finished, runs[1].FinishedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
