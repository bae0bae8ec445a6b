// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// contentGenerator is the subset of *genai.Models used by the client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the Gemini API. It accepts inline
// images, so it serves both the decision oracle and text-only prompts.
type GeminiClient struct {
	models contentGenerator
	cfg    config.LLMModelConfig
	logger *zap.Logger
}

// NewGeminiClient builds a client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models: models,
		cfg:    cfg,
		logger: logger.Named("llm_client.gemini"),
	}
}

// Generate sends the prompt, plus any attached images, and returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(c.buildParts(req), genai.RoleUser)}
	genCfg := c.buildConfig(req)

	var text string
	err := retry(ctx, func() error {
		attemptCtx, cancel := attemptContext(ctx, c.cfg.APITimeout)
		defer cancel()

		start := time.Now()
		resp, err := c.models.GenerateContent(attemptCtx, c.cfg.Model, contents, genCfg)
		if err != nil {
			c.logger.Warn("Gemini request failed.", zap.Error(err))
			return fmt.Errorf("gemini request failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return backoff.Permanent(fmt.Errorf("gemini blocked the prompt (reason: %s)", resp.PromptFeedback.BlockReason))
			}
			return fmt.Errorf("gemini returned no candidates")
		}

		out := strings.TrimSpace(resp.Text())
		if out == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini blocked the response (reason: %s)", reason))
			}
			return fmt.Errorf("gemini returned empty content (reason: %s)", reason)
		}

		c.logger.Debug("Gemini generation complete.",
			zap.String("model", c.cfg.Model),
			zap.Int("images", len(req.Images)),
			zap.Duration("duration", time.Since(start)),
		)
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) buildParts(req schemas.GenerationRequest) []*genai.Part {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	return parts
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return genCfg
}

// Close is a no-op; the genai client holds no resources that need releasing.
func (c *GeminiClient) Close() error {
	return nil
}
