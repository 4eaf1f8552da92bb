package domain

import "context"

// ImageRequest is the vendor-neutral image generation request.
type ImageRequest struct {
	Prompt         string   `json:"prompt"`
	ModelID        string   `json:"model_id,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	NumberOfImages *int     `json:"num_images,omitempty"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"`
	Seed           *int     `json:"seed,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	Quality        string   `json:"quality,omitempty"`
}

// ImageResponse carries base64-encoded images.
type ImageResponse struct {
	Images []string `json:"images"`
	Model  string   `json:"model"`
}

// ImageGenerator produces images from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}
