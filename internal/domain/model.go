package domain

// ModelCategory groups models by what they produce.
type ModelCategory string

const (
	CategoryText      ModelCategory = "text"
	CategoryImage     ModelCategory = "image"
	CategoryEmbedding ModelCategory = "embedding"
)

// ModelInfo describes a model in the supported catalog.
type ModelInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Provider string        `json:"provider"`
	Category ModelCategory `json:"category"`
}
