package llm

import (
	"context"
	"log/slog"

	"rgen/internal/domain"
)

// ImageClient generates images through the model runtime.
type ImageClient struct {
	dispatcher   *Dispatcher
	builder      *Builder
	defaultModel string
	logger       *slog.Logger
}

// NewImageClient creates an ImageClient. defaultModel is used when a request names none.
func NewImageClient(dispatcher *Dispatcher, builder *Builder, defaultModel string, logger *slog.Logger) *ImageClient {
	if defaultModel == "" {
		defaultModel = DefaultImageModel
	}
	return &ImageClient{
		dispatcher:   dispatcher,
		builder:      builder,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// GenerateImage implements domain.ImageGenerator.
func (c *ImageClient) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.defaultModel
	}

	reg := c.builder.Registry()
	d, err := reg.Resolve(modelID, domain.CategoryImage)
	if err != nil {
		return nil, domain.WrapOp("ImageClient.GenerateImage", err)
	}
	if !reg.IsSupported(modelID) {
		c.logger.Warn("model not in catalog, proceeding", "model", modelID, "family", d.Family.String())
	}

	payload, err := c.builder.BuildImage(req, d)
	if err != nil {
		return nil, domain.WrapOp("ImageClient.GenerateImage", err)
	}
	body, err := c.builder.Marshal(payload, d)
	if err != nil {
		return nil, domain.WrapOp("ImageClient.GenerateImage", err)
	}

	raw, err := c.dispatcher.Invoke(ctx, modelID, body)
	if err != nil {
		return nil, domain.WrapOp("ImageClient.GenerateImage", err)
	}

	resp, err := ParseImages(raw, d, modelID)
	if err != nil {
		return nil, domain.WrapOp("ImageClient.GenerateImage", err)
	}
	c.logger.Info("images generated", "model", modelID, "count", len(resp.Images))
	return resp, nil
}

// Models lists the catalogued image models.
func (c *ImageClient) Models() []domain.ModelInfo {
	return c.builder.Registry().Models(domain.CategoryImage)
}

var _ domain.ImageGenerator = (*ImageClient)(nil)
