// File: internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/config"
)

// NewReasoner creates the reasoner for the configured provider.
func NewReasoner(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (agent.Reasoner, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
