// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/llmclient"
	"github.com/xkilldash9x/rover/internal/store"
)

// InitializeStore connects the transcript store when persistence is
// enabled. It returns a nil store and a nil cleanup when it is not.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Run transcripts are disabled.")
		return nil, nil, nil
	}
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (hint: check ROVER_DATABASE_URL)")
	}

	s, closeDB, err := store.Open(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	logger.Info("Run transcripts will be stored in PostgreSQL.")
	return s, closeDB, nil
}

// InitializeReasoner creates the reasoning model client from config.
func InitializeReasoner(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (agent.Reasoner, error) {
	reasoner, err := llmclient.NewReasoner(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return reasoner, nil
}
