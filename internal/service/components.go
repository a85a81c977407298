// File: internal/service/components.go
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/browser"
	"github.com/xkilldash9x/rover/internal/events"
	"github.com/xkilldash9x/rover/internal/store"
)

// Components holds every long-lived service of the process and manages
// their shutdown order.
type Components struct {
	Browser  *browser.Manager
	Reasoner agent.Reasoner
	Graph    *agent.Graph
	Bus      *events.Bus
	Store    *store.Store
	Runner   *Runner

	logger  *zap.Logger
	closeDB func()
}

// Shutdown releases the components in reverse dependency order: the event
// bus first so subscribers unblock, then the browser session, then the
// database pool.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Bus != nil {
		c.Bus.Shutdown()
		logger.Debug("Event bus shut down.")
	}

	if c.Browser != nil {
		if err := c.Browser.Cleanup(ctx); err != nil {
			logger.Warn("Error during browser cleanup.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.closeDB != nil {
		c.closeDB()
		c.closeDB = nil
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
