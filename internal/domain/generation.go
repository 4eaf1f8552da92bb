package domain

import (
	"context"
	"strings"
)

// GenerationRequest is the vendor-neutral text generation request.
// Optional fields are pointers; defaults are applied when the vendor payload is built.
type GenerationRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	ModelID     string   `json:"model_id,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// Validate checks the request is well-formed.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return NewDomainError("GenerationRequest.Validate", ErrRequest, "max_tokens must be > 0")
	}
	if r.Temperature != nil && *r.Temperature < 0 {
		return NewDomainError("GenerationRequest.Validate", ErrRequest, "temperature must be >= 0")
	}
	return nil
}

// GenerationResponse is the vendor-neutral generation result.
type GenerationResponse struct {
	Text            string `json:"text"`
	Model           string `json:"model"`
	TokensGenerated int    `json:"tokens_generated"`
	TokensPrompt    int    `json:"tokens_prompt"`
	FinishReason    string `json:"finish_reason,omitempty"`
}

// TextGenerator produces text for a prompt, either in one piece or as a chunk stream.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
	GenerateStream(ctx context.Context, req GenerationRequest) (*ChunkStream, error)
}

// Ptr returns a pointer to v. Handy for optional request fields.
func Ptr[T any](v T) *T { return &v }
