// File: internal/service/runner.go
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/observability"
	"github.com/xkilldash9x/rover/internal/store"
	"github.com/xkilldash9x/rover/internal/stream"
)

const transcriptTimeout = 10 * time.Second

// ErrRunInProgress is returned by Start while another run holds the session.
var ErrRunInProgress = errors.New("a run is already in progress")

// PageProvider exposes the active browser session, if any.
type PageProvider interface {
	Page() (agent.Page, bool)
}

// Engine executes the agent graph.
type Engine interface {
	Run(ctx context.Context, s *agent.State, maxSteps int) iter.Seq2[agent.Step, error]
}

// TranscriptStore persists finished runs.
type TranscriptStore interface {
	SaveRun(ctx context.Context, run *store.Run) error
}

// Runner starts agent runs against the active session, one at a time.
type Runner struct {
	engine      Engine
	pages       PageProvider
	translator  *stream.Translator
	transcripts TranscriptStore
	maxSteps    int
	logger      *zap.Logger
	now         func() time.Time

	busy atomic.Bool
}

// NewRunner creates a runner. transcripts may be nil.
func NewRunner(engine Engine, pages PageProvider, translator *stream.Translator, transcripts TranscriptStore, maxSteps int, logger *zap.Logger) *Runner {
	return &Runner{
		engine:      engine,
		pages:       pages,
		translator:  translator,
		transcripts: transcripts,
		maxSteps:    maxSteps,
		logger:      logger.Named("runner"),
		now:         time.Now,
	}
}

// Run is an accepted run that holds the run lock until it is streamed.
type Run struct {
	ID      string
	runner  *Runner
	state   *agent.State
	started time.Time
	used    atomic.Bool
}

// Start checks the preconditions of a run and takes the run lock. It fails
// with *agent.PreconditionError when the query is empty or no browser
// session is active, and with ErrRunInProgress when the lock is taken. The
// engine does not start until Stream is called.
func (r *Runner) Start(ctx context.Context, query string) (*Run, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &agent.PreconditionError{Reason: "query must not be empty"}
	}
	page, ok := r.pages.Page()
	if !ok {
		return nil, &agent.PreconditionError{Reason: "Browser not initialized. Call /setup-browser first"}
	}
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return &Run{
		ID:      uuid.NewString(),
		runner:  r,
		state:   agent.NewState(query, page),
		started: r.now(),
	}, nil
}

// Exclusive runs fn while holding the run lock, so no run can start until fn
// returns. It fails with ErrRunInProgress without calling fn when the lock
// is taken. Session setup and cleanup go through it.
func (r *Runner) Exclusive(fn func() error) error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer r.busy.Store(false)
	return fn()
}

// Busy reports whether a run or an exclusive operation holds the lock.
func (r *Runner) Busy() bool { return r.busy.Load() }

// Execute starts a run and streams it to sink.
func (r *Runner) Execute(ctx context.Context, query string, sink stream.Sink) error {
	run, err := r.Start(ctx, query)
	if err != nil {
		return err
	}
	return run.Stream(ctx, sink)
}

// Stream executes the run and writes its progress frames to sink. It
// releases the run lock on return and can only be called once.
func (run *Run) Stream(ctx context.Context, sink stream.Sink) error {
	if !run.used.CompareAndSwap(false, true) {
		return fmt.Errorf("run %s was already streamed", run.ID)
	}
	r := run.runner
	defer r.busy.Store(false)
	defer observability.RunStarted()()

	logger := r.logger.With(zap.String("run_id", run.ID))
	logger.Info("Run started.", zap.String("task", run.state.Task))

	steps := 0
	seq := func(yield func(agent.Step, error) bool) {
		for step, err := range r.engine.Run(ctx, run.state, r.maxSteps) {
			if err == nil {
				steps++
			}
			if !yield(step, err) {
				return
			}
		}
	}
	err := r.translator.Run(ctx, seq, sink)

	status := outcome(err)
	observability.RecordRun(string(status))
	fields := []zap.Field{zap.String("status", string(status)), zap.Int("steps", steps), zap.Duration("duration", r.now().Sub(run.started))}
	if err != nil {
		fields = append(fields, zap.String("code", string(agent.Code(err))), zap.Error(err))
	}
	logger.Info("Run finished.", fields...)

	r.saveTranscript(ctx, run, status, steps, err)
	return err
}

func (r *Runner) saveTranscript(ctx context.Context, run *Run, status store.RunStatus, steps int, runErr error) {
	if r.transcripts == nil {
		return
	}
	s := run.state
	rec := &store.Run{
		ID:         run.ID,
		Task:       s.Task,
		Status:     status,
		Plan:       s.Plan,
		History:    s.History,
		Notes:      s.Notes,
		Answer:     s.Answer,
		Steps:      steps,
		StartedAt:  run.started,
		FinishedAt: r.now(),
	}
	if runErr != nil {
		rec.ErrorCode = string(agent.Code(runErr))
		rec.Error = runErr.Error()
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transcriptTimeout)
	defer cancel()
	if err := r.transcripts.SaveRun(saveCtx, rec); err != nil {
		r.logger.Error("Failed to save run transcript.", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func outcome(err error) store.RunStatus {
	switch {
	case err == nil:
		return store.StatusSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return store.StatusCancelled
	default:
		return store.StatusError
	}
}
