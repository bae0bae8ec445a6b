// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// OpenAIClient implements schemas.LLMClient for any OpenAI-compatible chat completions
// endpoint, including hosted vision models such as NVIDIA's.
type OpenAIClient struct {
	client openai.Client
	cfg    config.LLMModelConfig
	logger *zap.Logger
}

// NewOpenAIClient creates a client. cfg.Endpoint overrides the API base URL.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai-compatible API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are driven by the package backoff policy.
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger.Named("llm_client.openai"),
	}, nil
}

// Generate sends a chat completion request and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var text string
	err := retry(ctx, func() error {
		attemptCtx, cancel := attemptContext(ctx, c.cfg.APITimeout)
		defer cancel()

		start := time.Now()
		completion, err := c.client.Chat.Completions.New(attemptCtx, params)
		if err != nil {
			c.logger.Warn("Chat completion request failed.", zap.Error(err))
			return fmt.Errorf("chat completion request failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}

		out := strings.TrimSpace(completion.Choices[0].Message.Content)
		if out == "" {
			return fmt.Errorf("chat completion returned empty content (finish reason: %s)", completion.Choices[0].FinishReason)
		}

		c.logger.Debug("Chat completion complete.",
			zap.String("model", c.cfg.Model),
			zap.Int64("total_tokens", completion.Usage.TotalTokens),
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

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	if req.HasImages() {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.UserPrompt)}
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(img),
			}))
		}
		messages = append(messages, openai.UserMessage(parts))
	} else {
		messages = append(messages, openai.UserMessage(req.UserPrompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.Model),
		Messages: messages,
	}

	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	params.Temperature = openai.Float(float64(temperature))

	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	return params
}

func dataURL(img schemas.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Close is a no-op.
func (c *OpenAIClient) Close() error {
	return nil
}
