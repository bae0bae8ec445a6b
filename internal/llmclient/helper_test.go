package llmclient

import (
	"context"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// noBackoff removes retry sleeps for the duration of a test.
func noBackoff(t *testing.T) {
	t.Helper()
	orig := newBackOff
	newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	t.Cleanup(func() { newBackOff = orig })
}

func validModelConfig(provider string) config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    provider,
		Model:       "test-model",
		APIKey:      "test-api-key",
		Temperature: 0.2,
		MaxTokens:   256,
	}
}

func visionRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You control a browser.",
		UserPrompt:   "What next?",
		Images:       []schemas.Image{{MIMEType: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}}},
	}
}
