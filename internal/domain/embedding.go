package domain

import "context"

// EmbeddingRequest asks for the embedding of one text.
type EmbeddingRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// EmbeddingResponse holds a non-empty vector and the model that produced it.
type EmbeddingResponse struct {
	Embedding   []float32 `json:"embedding"`
	Model       string    `json:"model"`
	InputTokens int       `json:"input_tokens,omitempty"`
}

// Embedder generates a single embedding, optionally with a per-call model override.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
}

// EmbeddingProvider is the batch-oriented embedding interface used by callers
// that do not care about model selection.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors, 0 if unknown.
	Dimensions() int
	// Name returns the provider's identifier.
	Name() string
}
