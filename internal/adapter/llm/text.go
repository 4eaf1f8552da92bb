package llm

import (
	"context"
	"fmt"
	"log/slog"

	"rgen/internal/domain"
)

// TextClient generates text through the model runtime for any supported family.
type TextClient struct {
	dispatcher   *Dispatcher
	builder      *Builder
	defaultModel string
	logger       *slog.Logger
}

// NewTextClient creates a TextClient. defaultModel is used when a request names none.
func NewTextClient(dispatcher *Dispatcher, builder *Builder, defaultModel string, logger *slog.Logger) *TextClient {
	if defaultModel == "" {
		defaultModel = DefaultTextModel
	}
	return &TextClient{
		dispatcher:   dispatcher,
		builder:      builder,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Generate implements domain.TextGenerator.
func (c *TextClient) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	modelID, d, body, err := c.prepare(req)
	if err != nil {
		return nil, domain.WrapOp("TextClient.Generate", err)
	}

	raw, err := c.dispatcher.Invoke(ctx, modelID, body)
	if err != nil {
		return nil, domain.WrapOp("TextClient.Generate", err)
	}

	resp, err := ParseText(raw, d, modelID)
	if err != nil {
		c.logger.Debug("unparseable model response", "model", modelID, "body", string(raw))
		return nil, domain.WrapOp("TextClient.Generate", err)
	}
	return resp, nil
}

// GenerateStream implements domain.TextGenerator. Families without a streaming
// shape are rejected before anything is sent.
func (c *TextClient) GenerateStream(ctx context.Context, req domain.GenerationRequest) (*domain.ChunkStream, error) {
	modelID, d, body, err := c.prepare(req)
	if err != nil {
		return nil, domain.WrapOp("TextClient.GenerateStream", err)
	}
	if !d.Streams() {
		return nil, domain.NewDomainError("TextClient.GenerateStream", domain.ErrRequest,
			fmt.Sprintf("streaming is not supported for %s models", d.Family))
	}

	stream, err := c.dispatcher.InvokeStream(ctx, modelID, body, d)
	if err != nil {
		return nil, domain.WrapOp("TextClient.GenerateStream", err)
	}
	return stream, nil
}

// Models lists the catalogued text models.
func (c *TextClient) Models() []domain.ModelInfo {
	return c.builder.Registry().Models(domain.CategoryText)
}

func (c *TextClient) prepare(req domain.GenerationRequest) (string, *Descriptor, []byte, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}

	d, err := c.builder.Registry().Resolve(modelID, domain.CategoryText)
	if err != nil {
		return "", nil, nil, err
	}
	if !c.builder.Registry().IsSupported(modelID) {
		c.logger.Warn("model not in catalog, proceeding", "model", modelID, "family", d.Family.String())
	}

	payload, err := c.builder.BuildText(req, d)
	if err != nil {
		return "", nil, nil, err
	}
	body, err := c.builder.Marshal(payload, d)
	if err != nil {
		return "", nil, nil, err
	}
	c.logger.Debug("text payload built", "model", modelID, "family", d.Family.String(), "body", string(body))
	return modelID, d, body, nil
}

var _ domain.TextGenerator = (*TextClient)(nil)
