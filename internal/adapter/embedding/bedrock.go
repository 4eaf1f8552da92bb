package embedding

import (
	"context"
	"log/slog"
	"sync/atomic"

	"rgen/internal/adapter/llm"
	"rgen/internal/domain"
)

// Model is the embedding surface shared by the Bedrock embedder and its cache.
type Model interface {
	domain.Embedder
	domain.EmbeddingProvider
}

// Known output sizes; other models report their size after the first call.
var knownDimensions = map[string]int{
	"amazon.titan-embed-text-v1":   1536,
	"amazon.titan-embed-text-v2:0": 1024,
	"cohere.embed-english-v3":      1024,
	"cohere.embed-multilingual-v3": 1024,
}

// BedrockEmbedder generates embeddings through the model runtime.
type BedrockEmbedder struct {
	dispatcher   *llm.Dispatcher
	builder      *llm.Builder
	defaultModel string
	dims         atomic.Int64
	logger       *slog.Logger
}

// NewBedrockEmbedder creates a BedrockEmbedder. defaultModel is used when a request names none.
func NewBedrockEmbedder(dispatcher *llm.Dispatcher, builder *llm.Builder, defaultModel string, logger *slog.Logger) *BedrockEmbedder {
	if defaultModel == "" {
		defaultModel = llm.DefaultEmbeddingModel
	}
	e := &BedrockEmbedder{
		dispatcher:   dispatcher,
		builder:      builder,
		defaultModel: defaultModel,
		logger:       logger,
	}
	e.dims.Store(int64(knownDimensions[defaultModel]))
	return e
}

// GenerateEmbedding implements domain.Embedder.
func (e *BedrockEmbedder) GenerateEmbedding(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = e.defaultModel
	}

	reg := e.builder.Registry()
	d, err := reg.Resolve(modelID, domain.CategoryEmbedding)
	if err != nil {
		return nil, domain.WrapOp("BedrockEmbedder.GenerateEmbedding", err)
	}
	if !reg.IsSupported(modelID) {
		e.logger.Warn("model not in catalog, proceeding", "model", modelID, "family", d.Family.String())
	}

	payload, err := e.builder.BuildEmbedding(req, d)
	if err != nil {
		return nil, domain.WrapOp("BedrockEmbedder.GenerateEmbedding", err)
	}
	body, err := e.builder.Marshal(payload, d)
	if err != nil {
		return nil, domain.WrapOp("BedrockEmbedder.GenerateEmbedding", err)
	}

	raw, err := e.dispatcher.Invoke(ctx, modelID, body)
	if err != nil {
		return nil, domain.WrapOp("BedrockEmbedder.GenerateEmbedding", err)
	}

	resp, err := llm.ParseEmbedding(raw, d, modelID)
	if err != nil {
		return nil, domain.WrapOp("BedrockEmbedder.GenerateEmbedding", err)
	}
	if modelID == e.defaultModel {
		e.dims.Store(int64(len(resp.Embedding)))
	}
	return resp, nil
}

// Embed implements domain.EmbeddingProvider with the default model, one call per text.
func (e *BedrockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		resp, err := e.GenerateEmbedding(ctx, domain.EmbeddingRequest{Text: t})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider. Zero until known.
func (e *BedrockEmbedder) Dimensions() int { return int(e.dims.Load()) }

// Name implements domain.EmbeddingProvider.
func (e *BedrockEmbedder) Name() string { return "bedrock:" + e.defaultModel }

var _ Model = (*BedrockEmbedder)(nil)
