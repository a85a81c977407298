// File: internal/agent/nodes.go
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/observability"
	"go.uber.org/zap"
)

// Timings are the fixed pauses tool nodes take around browser interactions
// so slow pages can react.
type Timings struct {
	ClickBefore   time.Duration
	ClickAfter    time.Duration
	TypeSelect    time.Duration
	TypeClear     time.Duration
	TypeDelete    time.Duration
	TypeEntered   time.Duration
	TypeSubmitted time.Duration
	Scroll        time.Duration
	PDFFocus      time.Duration
	Wait          time.Duration
}

// NewTimings converts the configured pauses.
func NewTimings(cfg config.TimingsConfig) Timings {
	return Timings{
		ClickBefore:   cfg.ClickBefore,
		ClickAfter:    cfg.ClickAfter,
		TypeSelect:    cfg.TypeSelect,
		TypeClear:     cfg.TypeClear,
		TypeDelete:    cfg.TypeDelete,
		TypeEntered:   cfg.TypeEntered,
		TypeSubmitted: cfg.TypeSubmitted,
		Scroll:        cfg.Scroll,
		PDFFocus:      cfg.PDFFocus,
		Wait:          cfg.Wait,
	}
}

// Options configures the browsing graph.
type Options struct {
	Reasoner Reasoner
	Timings  Timings
	// SearchURL is where the Google tool navigates.
	SearchURL string
	// SelectAllModifier is held with "a" to select a field before typing.
	SelectAllModifier string
	// HistoryWindow limits the history records passed to Decide; 0 means all.
	HistoryWindow int
	Logger        *zap.Logger
}

type nodes struct {
	opts   Options
	logger *zap.Logger
}

// NewGraph builds the perceive-decide-act graph:
//
//	plan -> observe -> decide -> parse -> route(action)
//	route: retry -> observe, Respond -> answer, tool verb -> tool node
//	tool nodes -> observe
//	answer is terminal
func NewGraph(opts Options) (*Graph, error) {
	if opts.Reasoner == nil {
		return nil, fmt.Errorf("%s: reasoner is required", ErrCodeInvalidParameters)
	}
	if opts.SearchURL == "" {
		opts.SearchURL = "https://www.google.com"
	}
	if opts.SelectAllModifier == "" {
		opts.SelectAllModifier = "Control"
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	n := &nodes{opts: opts, logger: logger.Named("agent")}

	b := NewGraphBuilder().
		AddNode(NodePlan, n.plan).
		AddNode(NodeObserve, n.observe).
		AddNode(NodeDecide, n.decide).
		AddNode(NodeParse, n.parse).
		AddNode(NodeClick, n.click).
		AddNode(NodeType, n.typeText).
		AddNode(NodeScroll, n.scroll).
		AddNode(NodeWait, n.wait).
		AddNode(NodeGoBack, n.goBack).
		AddNode(NodeGoogle, n.google).
		AddNode(NodeAnswer, n.answer).
		SetEntry(NodePlan).
		AddEdge(NodePlan, NodeObserve).
		AddEdge(NodeObserve, NodeDecide).
		AddEdge(NodeDecide, NodeParse).
		AddConditionalEdge(NodeParse, routeState).
		SetTerminal(NodeAnswer)
	for _, tool := range toolNodes {
		b.AddEdge(tool, NodeObserve)
	}
	return b.Compile(logger)
}

func (n *nodes) plan(ctx context.Context, s *State) (Update, error) {
	obs, err := s.Page.Observe(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("observe for planning: %w", err)
	}
	start := time.Now()
	plan, err := n.opts.Reasoner.Plan(ctx, s.Task, obs.Image)
	observability.ObserveLLM("plan", time.Since(start))
	if err != nil {
		return Update{}, fmt.Errorf("plan: %w", err)
	}
	if plan == nil {
		plan = []string{}
	}
	n.logger.Info("Plan created", zap.Int("steps", len(plan)))
	return Update{Plan: plan}, nil
}

func (n *nodes) observe(ctx context.Context, s *State) (Update, error) {
	obs, err := s.Page.Observe(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("observe: %w", err)
	}
	if len(obs.Image) == 0 {
		n.logger.Warn("Observation has no screenshot; continuing without one")
	}
	return Update{Observation: &obs}, nil
}

func (n *nodes) decide(ctx context.Context, s *State) (Update, error) {
	start := time.Now()
	text, err := n.opts.Reasoner.Decide(ctx, DecideInput{
		Task:        s.Task,
		Observation: s.Observation,
		Plan:        s.Plan,
		History:     s.RecentHistory(n.opts.HistoryWindow),
	})
	observability.ObserveLLM("decide", time.Since(start))
	if err != nil {
		return Update{}, fmt.Errorf("decide: %w", err)
	}
	return Update{Decision: &text}, nil
}

func (n *nodes) parse(_ context.Context, s *State) (Update, error) {
	u := Parse(s.Decision)
	if r, ok := u.Action.(Retry); ok {
		n.logger.Warn("Reasoner output did not parse; retrying", zap.String("reason", r.Reason))
		observability.RecordRetry("loop")
	}
	return u, nil
}

// Parse turns raw reasoner text into an action update. It never fails:
// text that does not follow the grammar becomes a Retry whose reason embeds
// the offending input.
func Parse(text string) Update {
	thought, block, err := ParseDecision(text)
	if err != nil {
		return Update{Action: Retry{Reason: err.Error()}}
	}
	u := Update{Notes: []string{thought}}
	tool, err := ParseAction(block)
	if err != nil {
		u.Action = Retry{Reason: err.Error()}
		return u
	}
	u.Action = tool
	return u
}

func (n *nodes) answer(ctx context.Context, s *State) (Update, error) {
	start := time.Now()
	answer, err := n.opts.Reasoner.Answer(ctx, s.Task, s.Notes)
	observability.ObserveLLM("answer", time.Since(start))
	if err != nil {
		return Update{}, fmt.Errorf("answer: %w", err)
	}
	return Update{Answer: &answer}, nil
}
