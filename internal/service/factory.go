// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/browser"
	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/events"
	"github.com/xkilldash9x/rover/internal/stream"
)

const eventBufferSize = 16

// ComponentFactory creates the set of components a command needs. Commands
// depend on it so their wiring can be replaced in tests.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the reasoner, graph, browser manager, event bus, optional
// transcript store and runner. Partially created components are shut down
// when a later step fails.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			c.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	reasoner, err := InitializeReasoner(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.Reasoner = reasoner

	graph, err := agent.NewGraph(GraphOptions(cfg, reasoner, logger))
	if err != nil {
		initializationErr = fmt.Errorf("failed to build agent graph: %w", err)
		return nil, initializationErr
	}
	c.Graph = graph
	logger.Debug("Agent graph compiled.")

	c.Browser = browser.NewManager(cfg.Browser(), logger)
	c.Bus = events.NewBus(logger, eventBufferSize, cfg.Server().EventBacklog)

	st, closeDB, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.Store, c.closeDB = st, closeDB

	translator := stream.NewTranslator(c.Bus, TranslatorOptions(cfg), logger)
	var transcripts TranscriptStore
	if st != nil {
		transcripts = st
	}
	c.Runner = NewRunner(graph, c.Browser, translator, transcripts, cfg.Agent().MaxSteps, logger)
	logger.Debug("Runner initialized.")
	return c, nil
}

// GraphOptions translates the application config into graph options.
func GraphOptions(cfg config.Interface, reasoner agent.Reasoner, logger *zap.Logger) agent.Options {
	return agent.Options{
		Reasoner:          reasoner,
		Timings:           agent.NewTimings(cfg.Agent().Timings),
		SearchURL:         cfg.Browser().SearchURL,
		SelectAllModifier: cfg.Browser().SelectAll(runtime.GOOS),
		HistoryWindow:     cfg.Agent().HistoryWindow,
		Logger:            logger,
	}
}

// TranslatorOptions translates the application config into stream options.
func TranslatorOptions(cfg config.Interface) stream.Options {
	return stream.Options{
		MaxLocalRetries:  cfg.Agent().MaxLocalRetries,
		NavigationEvents: cfg.Agent().NavigationEvents,
	}
}
