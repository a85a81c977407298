package stream

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	// fail decides whether a frame is rejected; it may panic.
	fail func(f Frame) error
}

func (s *recordingSink) Send(f Frame) error {
	if s.fail != nil {
		if err := s.fail(f); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) types() []FrameType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FrameType, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// stalledPublisher never delivers; it only gives up when ctx is done.
type stalledPublisher struct{ calls int }

func (p *stalledPublisher) Publish(ctx context.Context, _ events.Event) error {
	p.calls++
	<-ctx.Done()
	return ctx.Err()
}

type item struct {
	step agent.Step
	err  error
}

func steps(items ...item) iter.Seq2[agent.Step, error] {
	return func(yield func(agent.Step, error) bool) {
		for _, it := range items {
			if !yield(it.step, it.err) {
				return
			}
		}
	}
}

func node(name string) item { return item{step: agent.Step{Node: name}} }

func parsed(text string) item {
	return item{step: agent.Step{Node: agent.NodeParse, Update: agent.Parse(text)}}
}

func navigated(name, url string) item {
	return item{step: agent.Step{Node: name, Update: agent.Update{Navigated: &url}}}
}

func answered(answer string) item {
	return item{step: agent.Step{Node: agent.NodeAnswer, Update: agent.Update{Answer: &answer}}}
}

func newTestTranslator(t *testing.T, pub Publisher, opts Options) *Translator {
	t.Helper()
	tr := NewTranslator(pub, opts, zaptest.NewLogger(t))
	tr.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }
	return tr
}

// -- Tests --

func TestTranslatorNominalRun(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTranslator(t, nil, Options{})

	err := tr.Run(context.Background(), steps(
		node(agent.NodePlan),
		node(agent.NodeObserve),
		node(agent.NodeDecide),
		parsed("Thought: the search box is empty\nAction: Type [2]; weather today"),
		node(agent.NodeType),
		node(agent.NodeObserve),
		node(agent.NodeDecide),
		parsed("Thought: the forecast is visible\nAction: Respond"),
		answered("## Final Answer\nSunny"),
	), sink)
	require.NoError(t, err)

	args := "weather today"
	want := []Frame{
		Keepalive(tr.now()), Keepalive(tr.now()), Keepalive(tr.now()),
		Keepalive(tr.now()),
		Thought("the search box is empty"),
		{Type: FrameAction, Content: ActionContent{Verb: "Type [2]", Args: &args}},
		Keepalive(tr.now()), Keepalive(tr.now()), Keepalive(tr.now()),
		Keepalive(tr.now()),
		Thought("the forecast is visible"),
		{Type: FrameAction, Content: ActionContent{Verb: "Respond"}},
		Keepalive(tr.now()),
		FinalAnswer("## Final Answer\nSunny"),
		End(),
	}
	if diff := cmp.Diff(want, sink.frames); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslatorRetryActionHasNoActionFrame(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTranslator(t, nil, Options{})

	require.NoError(t, tr.Run(context.Background(), steps(
		parsed("Thought: unsure\nAction: Click [x]"),
		parsed("no marker at all"),
	), sink))

	assert.Equal(t, []FrameType{
		FrameKeepalive, FrameThought,
		FrameKeepalive,
		FrameEnd,
	}, sink.types())
}

func TestTranslatorEngineError(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTranslator(t, nil, Options{})
	engineErr := &agent.UndefinedTransitionError{From: agent.NodeParse, Token: "Hover"}

	err := tr.Run(context.Background(), steps(
		node(agent.NodePlan),
		item{step: agent.Step{Node: agent.NodeParse}, err: engineErr},
		node(agent.NodeObserve),
	), sink)

	require.ErrorIs(t, err, agent.ErrUndefinedTransition)
	assert.Equal(t, []FrameType{FrameKeepalive, FrameError, FrameEnd}, sink.types())
	assert.Equal(t, engineErr.Error(), sink.frames[1].Content)
}

func TestTranslatorLocalFailuresEscalate(t *testing.T) {
	sink := &recordingSink{fail: func(f Frame) error {
		if f.Type == FrameKeepalive {
			return errors.New("client buffer full")
		}
		return nil
	}}
	tr := newTestTranslator(t, nil, Options{})

	err := tr.Run(context.Background(), steps(
		node(agent.NodePlan), node(agent.NodeObserve), node(agent.NodeDecide),
		node(agent.NodeObserve), node(agent.NodeDecide), node(agent.NodeObserve),
	), sink)

	require.ErrorIs(t, err, ErrTooManyLocalFailures)
	assert.Equal(t, []FrameType{FrameRetry, FrameRetry, FrameRetry, FrameError, FrameEnd}, sink.types())
	assert.Equal(t, retryMessage, sink.frames[0].Content)
	assert.Contains(t, sink.frames[3].Content, "client buffer full")
}

func TestTranslatorFailureCountResetsOnSuccess(t *testing.T) {
	calls := 0
	sink := &recordingSink{fail: func(f Frame) error {
		if f.Type != FrameKeepalive {
			return nil
		}
		calls++
		// Every fourth keepalive goes through.
		if calls%4 != 0 {
			return errors.New("transient")
		}
		return nil
	}}
	tr := newTestTranslator(t, nil, Options{})

	var items []item
	for i := 0; i < 12; i++ {
		items = append(items, node(agent.NodeObserve))
	}
	require.NoError(t, tr.Run(context.Background(), steps(items...), sink))

	types := sink.types()
	assert.Equal(t, FrameEnd, types[len(types)-1])
	assert.NotContains(t, types, FrameError)
	assert.Len(t, types, 12+1)
}

func TestTranslatorPanicIsLocalFailure(t *testing.T) {
	panicked := false
	sink := &recordingSink{fail: func(f Frame) error {
		if f.Type == FrameThought && !panicked {
			panicked = true
			panic("encoder exploded")
		}
		return nil
	}}
	tr := newTestTranslator(t, nil, Options{})

	err := tr.Run(context.Background(), steps(
		parsed("Thought: first\nAction: Wait"),
		node(agent.NodeWait),
	), sink)
	require.NoError(t, err)

	assert.Equal(t, []FrameType{FrameKeepalive, FrameRetry, FrameKeepalive, FrameEnd}, sink.types())
}

func TestTranslatorMaxLocalRetriesOption(t *testing.T) {
	sink := &recordingSink{fail: func(f Frame) error {
		if f.Type == FrameKeepalive {
			return errors.New("down")
		}
		return nil
	}}
	tr := newTestTranslator(t, nil, Options{MaxLocalRetries: 1})

	err := tr.Run(context.Background(), steps(node(agent.NodePlan), node(agent.NodeObserve), node(agent.NodeDecide)), sink)
	require.ErrorIs(t, err, ErrTooManyLocalFailures)
	assert.Equal(t, []FrameType{FrameRetry, FrameError, FrameEnd}, sink.types())
}

func TestTranslatorEndIsAlwaysLast(t *testing.T) {
	tests := []struct {
		name  string
		items []item
	}{
		{"empty", nil},
		{"success", []item{answered("done")}},
		{"engine error", []item{{step: agent.Step{Node: agent.NodeDecide}, err: errors.New("decide: quota")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			tr := newTestTranslator(t, nil, Options{})
			_ = tr.Run(context.Background(), steps(tt.items...), sink)

			types := sink.types()
			require.NotEmpty(t, types)
			assert.Equal(t, FrameEnd, types[len(types)-1])
			ends := 0
			for _, ft := range types {
				if ft == FrameEnd {
					ends++
				}
			}
			assert.Equal(t, 1, ends)
		})
	}
}

func TestTranslatorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	tr := newTestTranslator(t, nil, Options{})

	seq := func(yield func(agent.Step, error) bool) {
		if !yield(agent.Step{Node: agent.NodePlan}, nil) {
			return
		}
		cancel()
		yield(agent.Step{Node: agent.NodeObserve}, ctx.Err())
	}

	err := tr.Run(ctx, seq, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []FrameType{FrameKeepalive, FrameEnd}, sink.types())
}

func TestTranslatorPublishesNavigation(t *testing.T) {
	pub := &recordingPublisher{}
	sink := &recordingSink{}
	tr := newTestTranslator(t, pub, Options{NavigationEvents: true})

	require.NoError(t, tr.Run(context.Background(), steps(
		parsed("Thought: start over\nAction: Google"),
		navigated(agent.NodeGoogle, "https://www.google.com"),
		parsed("Thought: wrong page\nAction: GoBack"),
		navigated(agent.NodeGoBack, "https://example.com/results"),
		parsed("Thought: click it\nAction: Click [1]"),
		node(agent.NodeClick),
	), sink))

	require.Len(t, pub.events, 2, "parse steps announce nothing")
	for _, ev := range pub.events {
		assert.Equal(t, events.TypeNavigation, ev.Type)
	}
	assert.Equal(t, events.NavigationData{URL: "https://www.google.com", Status: "loaded"}, pub.events[0].Data)
	assert.Equal(t, events.NavigationData{URL: "https://example.com/results", Status: "loaded"}, pub.events[1].Data)
}

func TestTranslatorStalledSubscriber(t *testing.T) {
	pub := &stalledPublisher{}
	sink := &recordingSink{}
	tr := newTestTranslator(t, pub, Options{NavigationEvents: true, PublishTimeout: 20 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(context.Background(), steps(
			navigated(agent.NodeGoogle, "https://www.google.com"),
			navigated(agent.NodeGoBack, "https://example.com"),
			answered("## Final Answer\n42"),
		), sink)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("a stalled subscriber blocked the progress stream")
	}
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, []FrameType{FrameKeepalive, FrameKeepalive, FrameKeepalive, FrameFinalAnswer, FrameEnd}, sink.types())
}

func TestTranslatorNavigationEventsDisabled(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTestTranslator(t, pub, Options{NavigationEvents: false})

	require.NoError(t, tr.Run(context.Background(), steps(navigated(agent.NodeGoogle, "https://www.google.com")), &recordingSink{}))
	assert.Empty(t, pub.events)
}
