package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// NewClient creates an LLMClient for a single model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// NewRouterFromConfig builds the primary/fallback router. A model without an API key is
// skipped; if only the fallback is usable it is promoted to primary.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*LLMRouter, error) {
	var clients []schemas.LLMClient
	for _, m := range []config.LLMModelConfig{cfg.Primary, cfg.Fallback} {
		if !m.Enabled() {
			continue
		}
		client, err := NewClient(ctx, m, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client for model %s: %w", m.Provider, m.Model, err)
		}
		clients = append(clients, client)
	}

	switch len(clients) {
	case 0:
		return nil, fmt.Errorf("no LLM is configured (hint: set BROWSERPILOT_LLM_PRIMARY_API_KEY)")
	case 1:
		return NewLLMRouter(logger, clients[0], nil)
	default:
		return NewLLMRouter(logger, clients[0], clients[1])
	}
}
