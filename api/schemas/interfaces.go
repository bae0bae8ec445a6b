// File: api/schemas/interfaces.go
package schemas

import (
	"context"
)

// -- LLM Schemas & Interface --

// Image is an inline image attached to a generation request.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // Asks the provider for a JSON-only response.
	MaxTokens       int     `json:"max_tokens"`        // Zero means the client's configured default.
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []Image           `json:"images,omitempty"`
	Options      GenerationOptions `json:"options"`
}

// HasImages reports whether the request needs a vision-capable model.
func (r GenerationRequest) HasImages() bool {
	return len(r.Images) > 0
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
