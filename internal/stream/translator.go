// File: internal/stream/translator.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/events"
	"github.com/xkilldash9x/rover/internal/observability"
)

// DefaultMaxLocalRetries bounds consecutive frame failures before the
// stream gives up.
const DefaultMaxLocalRetries = 3

const navigationStatusLoaded = "loaded"

// navigationPublishTimeout bounds how long a slow side-channel subscriber
// can hold up the progress stream.
const navigationPublishTimeout = time.Second

// ErrTooManyLocalFailures is returned when frame emission failed more often
// in a row than the translator tolerates.
var ErrTooManyLocalFailures = errors.New("too many consecutive stream failures")

// Publisher receives side-channel events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Options configures a Translator.
type Options struct {
	// MaxLocalRetries is the number of consecutive local failures that are
	// answered with a retry frame. Zero means DefaultMaxLocalRetries.
	MaxLocalRetries int
	// NavigationEvents enables publishing to the side channel.
	NavigationEvents bool
	// PublishTimeout bounds one side-channel publish. Zero means one second.
	PublishTimeout time.Duration
}

// Translator turns the engine's step sequence into progress frames.
type Translator struct {
	logger    *zap.Logger
	publisher Publisher
	opts      Options
	now       func() time.Time
}

// NewTranslator creates a translator. publisher may be nil.
func NewTranslator(publisher Publisher, opts Options, logger *zap.Logger) *Translator {
	if opts.MaxLocalRetries <= 0 {
		opts.MaxLocalRetries = DefaultMaxLocalRetries
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = navigationPublishTimeout
	}
	return &Translator{
		logger:    logger.Named("stream"),
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Run consumes steps and writes frames to sink until the sequence ends,
// an engine error arrives, local failures exceed the bound or ctx is done.
// An end frame is written exactly once on every path. The returned error is
// the engine error, the escalated local failure or the context error.
func (t *Translator) Run(ctx context.Context, steps iter.Seq2[agent.Step, error], sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", agent.ErrCodeExecutorPanic, r)
			t.logger.Error("Step sequence panicked", zap.Any("panic", r))
			t.emit(sink, Error(err.Error()))
		}
		t.emit(sink, End())
	}()

	failures := 0
	for step, stepErr := range steps {
		if stepErr != nil {
			if ctx.Err() != nil && errors.Is(stepErr, ctx.Err()) {
				t.logger.Info("Run cancelled; closing stream", zap.String("node", step.Node))
				return stepErr
			}
			t.logger.Error("Run failed",
				zap.String("node", step.Node),
				zap.String("code", string(agent.Code(stepErr))),
				zap.Error(stepErr))
			t.emit(sink, Error(stepErr.Error()))
			return stepErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if herr := t.handle(ctx, step, sink); herr != nil {
			failures++
			t.logger.Warn("Failed to process step",
				zap.String("node", step.Node),
				zap.Int("consecutive_failures", failures),
				zap.Error(herr))
			if failures > t.opts.MaxLocalRetries {
				err = fmt.Errorf("%w: %w", ErrTooManyLocalFailures, herr)
				t.emit(sink, Error(herr.Error()))
				return err
			}
			observability.RecordRetry("stream")
			t.emit(sink, Retry())
			continue
		}
		failures = 0
	}
	return ctx.Err()
}

// handle emits the frames of one step. Panics are reported as errors so
// the caller can count them against the retry bound.
func (t *Translator) handle(ctx context.Context, step agent.Step, sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", step.Node, r)
		}
	}()

	if err := t.send(sink, Keepalive(t.now())); err != nil {
		return err
	}

	switch step.Node {
	case agent.NodeParse:
		if n := len(step.Update.Notes); n > 0 {
			if err := t.send(sink, Thought(step.Update.Notes[n-1])); err != nil {
				return err
			}
		}
		tool, ok := step.Update.Action.(agent.Tool)
		if !ok {
			return nil
		}
		return t.send(sink, Action(tool))
	case agent.NodeAnswer:
		if step.Update.Answer == nil {
			return fmt.Errorf("answer step carried no answer")
		}
		return t.send(sink, FinalAnswer(*step.Update.Answer))
	}
	if step.Update.Navigated != nil {
		t.publishNavigation(ctx, step.Node, *step.Update.Navigated)
	}
	return nil
}

// publishNavigation announces a completed navigation on the side channel.
// A publish failure or timeout does not affect the progress stream.
func (t *Translator) publishNavigation(ctx context.Context, node, url string) {
	if !t.opts.NavigationEvents || t.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, t.opts.PublishTimeout)
	defer cancel()
	if err := t.publisher.Publish(pubCtx, events.NewNavigation(url, navigationStatusLoaded)); err != nil {
		t.logger.Warn("Failed to publish navigation event",
			zap.String("node", node),
			zap.String("url", url),
			zap.Error(err))
	}
}

func (t *Translator) send(sink Sink, f Frame) error {
	if err := sink.Send(f); err != nil {
		return fmt.Errorf("send %s frame: %w", f.Type, err)
	}
	observability.RecordFrame(string(f.Type))
	return nil
}

// emit sends a frame whose failure cannot be acted on.
func (t *Translator) emit(sink Sink, f Frame) {
	if err := t.send(sink, f); err != nil {
		t.logger.Warn("Failed to emit frame", zap.String("type", string(f.Type)), zap.Error(err))
	}
}
