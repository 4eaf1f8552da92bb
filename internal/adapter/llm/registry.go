package llm

import (
	"fmt"
	"strings"

	"rgen/internal/domain"
)

// Family identifies the payload, response and stream shape shared by a group of models.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyTitan
	FamilyLlama
	FamilyMistral
	FamilyAnthropic
	FamilyAI21
	FamilyCohere
	FamilyTitanEmbed
	FamilyCohereEmbed
	FamilyTitanImage
	FamilyStability
)

var familyNames = map[Family]string{
	FamilyUnknown:     "unknown",
	FamilyTitan:       "titan",
	FamilyLlama:       "llama",
	FamilyMistral:     "mistral",
	FamilyAnthropic:   "anthropic",
	FamilyAI21:        "ai21",
	FamilyCohere:      "cohere",
	FamilyTitanEmbed:  "titan-embed",
	FamilyCohereEmbed: "cohere-embed",
	FamilyTitanImage:  "titan-image",
	FamilyStability:   "stability",
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Descriptor binds a family to its model-id prefixes and its codec functions.
// A nil codec means the family does not support that operation.
type Descriptor struct {
	Family   Family
	Category domain.ModelCategory
	Provider string
	Prefixes []string

	buildText      func(req domain.GenerationRequest) any
	parseText      func(raw []byte) (*domain.GenerationResponse, error)
	parseChunk     func(raw []byte) (domain.StreamChunk, error)
	buildEmbedding func(req domain.EmbeddingRequest) any
	parseEmbedding func(raw []byte) (*domain.EmbeddingResponse, error)
	buildImage     func(req domain.ImageRequest) any
	parseImage     func(raw []byte) ([]string, error)
	schema         string
}

// Streams reports whether the family has a streaming chunk shape.
func (d *Descriptor) Streams() bool { return d.parseChunk != nil }

// Cross-region inference profiles prefix the model id with a geography.
var inferenceProfilePrefixes = []string{"us.", "us-gov.", "eu.", "apac.", "global."}

// Registry resolves model ids to family descriptors.
type Registry struct {
	descriptors []*Descriptor
	catalog     []domain.ModelInfo
}

// NewRegistry returns the registry of every supported family and the model catalog.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: defaultDescriptors(),
		catalog:     defaultCatalog,
	}
}

func defaultDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Family:     FamilyTitan,
			Category:   domain.CategoryText,
			Provider:   "Amazon",
			Prefixes:   []string{"amazon.titan"},
			buildText:  titanTextPayload,
			parseText:  parseTitanText,
			parseChunk: titanChunk,
			schema:     titanTextSchema,
		},
		{
			Family:     FamilyLlama,
			Category:   domain.CategoryText,
			Provider:   "Meta",
			Prefixes:   []string{"meta.llama"},
			buildText:  llamaPayload,
			parseText:  parseLlamaText,
			parseChunk: llamaChunk,
			schema:     llamaSchema,
		},
		{
			Family:     FamilyMistral,
			Category:   domain.CategoryText,
			Provider:   "Mistral",
			Prefixes:   []string{"mistral."},
			buildText:  mistralPayload,
			parseText:  parseLlamaText,
			parseChunk: mistralChunk,
			schema:     mistralSchema,
		},
		{
			Family:     FamilyAnthropic,
			Category:   domain.CategoryText,
			Provider:   "Anthropic",
			Prefixes:   []string{"anthropic.claude"},
			buildText:  anthropicPayload,
			parseText:  parseAnthropicText,
			parseChunk: anthropicChunk,
			schema:     anthropicSchema,
		},
		{
			Family:    FamilyAI21,
			Category:  domain.CategoryText,
			Provider:  "AI21",
			Prefixes:  []string{"ai21."},
			buildText: ai21Payload,
			parseText: parseAI21Text,
			schema:    ai21Schema,
		},
		{
			Family:    FamilyCohere,
			Category:  domain.CategoryText,
			Provider:  "Cohere",
			Prefixes:  []string{"cohere.command"},
			buildText: coherePayload,
			parseText: parseCohereText,
			schema:    cohereSchema,
		},
		{
			Family:         FamilyTitanEmbed,
			Category:       domain.CategoryEmbedding,
			Provider:       "Amazon",
			Prefixes:       []string{"amazon.titan-embed"},
			buildEmbedding: titanEmbedPayload,
			parseEmbedding: parseTitanEmbedding,
			schema:         titanEmbedSchema,
		},
		{
			Family:         FamilyCohereEmbed,
			Category:       domain.CategoryEmbedding,
			Provider:       "Cohere",
			Prefixes:       []string{"cohere.embed"},
			buildEmbedding: cohereEmbedPayload,
			parseEmbedding: parseCohereEmbedding,
			schema:         cohereEmbedSchema,
		},
		{
			Family:     FamilyTitanImage,
			Category:   domain.CategoryImage,
			Provider:   "Amazon",
			Prefixes:   []string{"amazon.titan-image"},
			buildImage: titanImagePayload,
			parseImage: parseTitanImages,
			schema:     titanImageSchema,
		},
		{
			Family:     FamilyStability,
			Category:   domain.CategoryImage,
			Provider:   "Stability AI",
			Prefixes:   []string{"stability."},
			buildImage: stabilityPayload,
			parseImage: parseStabilityImages,
			schema:     stabilitySchema,
		},
	}
}

// Resolve returns the descriptor for modelID. The longest matching prefix wins,
// so "amazon.titan-embed-text-v1" never resolves to the Titan text family.
// A model that resolves to a different category is rejected.
func (r *Registry) Resolve(modelID string, category domain.ModelCategory) (*Descriptor, error) {
	id := stripInferenceProfile(modelID)

	var best *Descriptor
	bestLen := 0
	for _, d := range r.descriptors {
		for _, p := range d.Prefixes {
			if strings.HasPrefix(id, p) && len(p) > bestLen {
				best, bestLen = d, len(p)
			}
		}
	}
	if best == nil {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrUnsupportedModel,
			fmt.Sprintf("no provider family for model %q", modelID))
	}
	if best.Category != category {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrUnsupportedModel,
			fmt.Sprintf("model %q is a %s model, not %s", modelID, best.Category, category))
	}
	return best, nil
}

// Models returns the catalog entries for category, or every entry when category is empty.
func (r *Registry) Models(category domain.ModelCategory) []domain.ModelInfo {
	var out []domain.ModelInfo
	for _, m := range r.catalog {
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

// IsSupported reports whether modelID is listed in the catalog.
func (r *Registry) IsSupported(modelID string) bool {
	id := stripInferenceProfile(modelID)
	for _, m := range r.catalog {
		if m.ID == id {
			return true
		}
	}
	return false
}

func stripInferenceProfile(modelID string) string {
	for _, p := range inferenceProfilePrefixes {
		if strings.HasPrefix(modelID, p) {
			return strings.TrimPrefix(modelID, p)
		}
	}
	return modelID
}
