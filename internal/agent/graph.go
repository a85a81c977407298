// File: internal/agent/graph.go
package agent

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/xkilldash9x/rover/internal/observability"
	"go.uber.org/zap"
)

// DefaultMaxSteps bounds a run when the caller passes no limit.
const DefaultMaxSteps = 400

// NodeFunc executes one step against the current state and returns the
// partial update to merge. Expected failures should be expressed in the
// update; a returned error ends the run.
type NodeFunc func(ctx context.Context, s *State) (Update, error)

// RouterFunc picks the successor of a node from the merged state.
type RouterFunc func(s *State) (string, error)

// Step is one completed node execution.
type Step struct {
	Node   string
	Update Update
}

// GraphBuilder assembles a Graph. Errors are collected and reported by Compile.
type GraphBuilder struct {
	nodes     map[string]NodeFunc
	edges     map[string]string
	routers   map[string]RouterFunc
	terminals map[string]bool
	entry     string
	errs      []error
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:     make(map[string]NodeFunc),
		edges:     make(map[string]string),
		routers:   make(map[string]RouterFunc),
		terminals: make(map[string]bool),
	}
}

// AddNode registers a node under name.
func (b *GraphBuilder) AddNode(name string, fn NodeFunc) *GraphBuilder {
	if _, dup := b.nodes[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node: %s", name))
	}
	b.nodes[name] = fn
	return b
}

// AddEdge sets a fixed successor for from.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	b.edges[from] = to
	return b
}

// AddConditionalEdge sets a router deciding the successor of from.
func (b *GraphBuilder) AddConditionalEdge(from string, router RouterFunc) *GraphBuilder {
	b.routers[from] = router
	return b
}

// SetEntry sets the first node of every run.
func (b *GraphBuilder) SetEntry(name string) *GraphBuilder {
	b.entry = name
	return b
}

// SetTerminal marks nodes after which a run ends.
func (b *GraphBuilder) SetTerminal(names ...string) *GraphBuilder {
	for _, n := range names {
		b.terminals[n] = true
	}
	return b
}

// Compile validates the topology and returns a runnable graph.
func (b *GraphBuilder) Compile(logger *zap.Logger) (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("graph validation failed: %w", b.errs[0])
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	g := &Graph{
		nodes:     b.nodes,
		edges:     b.edges,
		routers:   b.routers,
		terminals: b.terminals,
		entry:     b.entry,
		logger:    logger.Named("graph"),
	}
	g.logger.Debug("Graph compiled", zap.Int("nodes", len(g.nodes)), zap.String("entry", g.entry))
	return g, nil
}

func (b *GraphBuilder) validate() error {
	if len(b.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if b.entry == "" {
		return fmt.Errorf("entry node not set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return fmt.Errorf("entry node does not exist: %s", b.entry)
	}
	if len(b.terminals) == 0 {
		return fmt.Errorf("graph has no terminal node")
	}
	for name := range b.terminals {
		if _, ok := b.nodes[name]; !ok {
			return fmt.Errorf("terminal node does not exist: %s", name)
		}
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return fmt.Errorf("edge references non-existent source node: %s", from)
		}
		if _, ok := b.nodes[to]; !ok {
			return fmt.Errorf("edge references non-existent target node: %s", to)
		}
		if _, both := b.routers[from]; both {
			return fmt.Errorf("node %s has both a fixed and a conditional edge", from)
		}
	}
	for from := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return fmt.Errorf("conditional edge references non-existent source node: %s", from)
		}
	}
	for name := range b.nodes {
		_, fixed := b.edges[name]
		_, routed := b.routers[name]
		switch {
		case b.terminals[name] && (fixed || routed):
			return fmt.Errorf("terminal node %s has an outgoing edge", name)
		case !b.terminals[name] && !fixed && !routed:
			return fmt.Errorf("node %s has no successor", name)
		}
	}
	return nil
}

// Graph is a compiled, immutable execution graph. It is safe to run
// concurrently with distinct states.
type Graph struct {
	nodes     map[string]NodeFunc
	edges     map[string]string
	routers   map[string]RouterFunc
	terminals map[string]bool
	entry     string
	logger    *zap.Logger
}

// Successor returns the fixed successor of a node, or "" when the node is
// routed or terminal.
func (g *Graph) Successor(node string) string { return g.edges[node] }

// IsRouted reports whether the node's successor is decided by a router.
func (g *Graph) IsRouted(node string) bool {
	_, ok := g.routers[node]
	return ok
}

// Run executes the graph from its entry node, yielding each completed step
// after its update has been merged into s. The sequence is lazy: nothing
// runs until it is ranged over, and stopping the range stops the run.
//
// The sequence ends after the terminal node, or with ErrStepLimitExceeded
// when the next node would exceed maxSteps (<= 0 means DefaultMaxSteps), or
// with the error of a failed node, router or cancelled ctx. Nodes run on a
// context that keeps ctx's values but not its cancellation, so cancelling
// ctx stops the run between nodes rather than in the middle of one.
func (g *Graph) Run(ctx context.Context, s *State, maxSteps int) iter.Seq2[Step, error] {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return func(yield func(Step, error) bool) {
		nodeCtx := context.WithoutCancel(ctx)
		current := g.entry
		for steps := 0; ; steps++ {
			if err := ctx.Err(); err != nil {
				yield(Step{Node: current}, err)
				return
			}
			if steps >= maxSteps {
				yield(Step{Node: current}, fmt.Errorf("%w: %d steps taken without reaching a terminal node (next: %s)",
					ErrStepLimitExceeded, maxSteps, current))
				return
			}

			update, err := g.execute(nodeCtx, current, s)
			if err != nil {
				yield(Step{Node: current}, err)
				return
			}
			if err := s.Apply(update); err != nil {
				yield(Step{Node: current}, &NodeError{Node: current, Err: err})
				return
			}
			observability.RecordStep(current)
			if !yield(Step{Node: current, Update: update}, nil) {
				return
			}
			if g.terminals[current] {
				return
			}

			next, err := g.next(current, s)
			if err != nil {
				yield(Step{Node: current}, err)
				return
			}
			current = next
		}
	}
}

func (g *Graph) execute(ctx context.Context, name string, s *State) (update Update, err error) {
	fn, ok := g.nodes[name]
	if !ok {
		return Update{}, &UndefinedTransitionError{From: name, Token: name}
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Node panicked", zap.String("node", name), zap.Any("panic", r))
			err = &NodeError{Node: name, Err: fmt.Errorf("%s: %v", ErrCodeExecutorPanic, r)}
		}
	}()

	start := time.Now()
	update, err = fn(ctx, s)
	g.logger.Debug("Node executed", zap.String("node", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
	if err != nil {
		return Update{}, &NodeError{Node: name, Err: err}
	}
	return update, nil
}

func (g *Graph) next(current string, s *State) (string, error) {
	if to, ok := g.edges[current]; ok {
		return to, nil
	}
	router := g.routers[current]
	to, err := router(s)
	if err != nil {
		return "", err
	}
	if _, ok := g.nodes[to]; !ok {
		return "", &UndefinedTransitionError{From: current, Token: to}
	}
	return to, nil
}
