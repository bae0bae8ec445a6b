package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
)

// LLMRouter implements schemas.LLMClient by trying the primary client first and
// falling back to the secondary one when the primary fails.
type LLMRouter struct {
	logger   *zap.Logger
	primary  schemas.LLMClient
	fallback schemas.LLMClient
}

// NewLLMRouter creates a router. fallback may be nil.
func NewLLMRouter(logger *zap.Logger, primary, fallback schemas.LLMClient) (*LLMRouter, error) {
	if primary == nil {
		return nil, fmt.Errorf("a primary LLM client must be provided")
	}
	return &LLMRouter{
		logger:   logger.Named("llm_router"),
		primary:  primary,
		fallback: fallback,
	}, nil
}

// Generate satisfies schemas.LLMClient.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	out, err := r.primary.Generate(ctx, req)
	if err == nil {
		return out, nil
	}
	if r.fallback == nil || ctx.Err() != nil {
		return "", err
	}

	r.logger.Warn("Primary model failed, trying fallback.", zap.Error(err), zap.Bool("vision", req.HasImages()))
	out, fbErr := r.fallback.Generate(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("primary and fallback models failed: %w", errors.Join(err, fbErr))
	}
	return out, nil
}

// Close closes both underlying clients.
func (r *LLMRouter) Close() error {
	var errs []error
	if err := r.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
