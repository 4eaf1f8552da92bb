package llm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"rgen/internal/domain"
)

// Generation defaults applied at build time.
const (
	DefaultMaxTokens       = 512
	DefaultTemperature     = 0.7
	DefaultTopP            = 0.9
	AnthropicVersion       = "bedrock-2023-05-31"
	cohereEmbedInputType   = "search_document"
	defaultImageSize       = 1024
	defaultImageCount      = 1
	defaultImageQuality    = "standard"
	defaultTitanCfgScale   = 8.0
	defaultStabilityCfg    = 10.0
	defaultStabilitySteps  = 50
	defaultStabilityWeight = 1.0
)

// Builder turns canonical requests into vendor payloads and validates the
// serialized result against the family's required-key schema.
type Builder struct {
	registry *Registry

	mu      sync.Mutex
	schemas map[Family]*jsonschema.Schema
}

// NewBuilder creates a Builder backed by registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry, schemas: make(map[Family]*jsonschema.Schema)}
}

// Registry returns the registry the builder resolves against.
func (b *Builder) Registry() *Registry { return b.registry }

// BuildText returns the vendor payload for req under d.
func (b *Builder) BuildText(req domain.GenerationRequest, d *Descriptor) (any, error) {
	if d == nil || d.buildText == nil {
		return nil, unsupportedFamily("Builder.BuildText", d)
	}
	if err := req.Validate(); err != nil {
		return nil, domain.WrapOp("Builder.BuildText", err)
	}
	return d.buildText(req), nil
}

// BuildEmbedding returns the vendor payload for req under d.
func (b *Builder) BuildEmbedding(req domain.EmbeddingRequest, d *Descriptor) (any, error) {
	if d == nil || d.buildEmbedding == nil {
		return nil, unsupportedFamily("Builder.BuildEmbedding", d)
	}
	if req.Text == "" {
		return nil, domain.NewDomainError("Builder.BuildEmbedding", domain.ErrRequest, "text must not be empty")
	}
	return d.buildEmbedding(req), nil
}

// BuildImage returns the vendor payload for req under d.
func (b *Builder) BuildImage(req domain.ImageRequest, d *Descriptor) (any, error) {
	if d == nil || d.buildImage == nil {
		return nil, unsupportedFamily("Builder.BuildImage", d)
	}
	if req.Prompt == "" {
		return nil, domain.ErrEmptyPrompt
	}
	return d.buildImage(req), nil
}

// Marshal serializes payload and checks it carries every key d requires.
func (b *Builder) Marshal(payload any, d *Descriptor) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewDomainError("Builder.Marshal", domain.ErrSerialization, err.Error())
	}
	if d == nil || d.schema == "" {
		return body, nil
	}

	schema, err := b.schemaFor(d)
	if err != nil {
		return nil, domain.NewDomainError("Builder.Marshal", domain.ErrSerialization, err.Error())
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.NewDomainError("Builder.Marshal", domain.ErrSerialization, err.Error())
	}
	result := schema.Validate(doc)
	if !result.IsValid() {
		return nil, domain.NewDomainError("Builder.Marshal", domain.ErrSerialization,
			fmt.Sprintf("%s payload: %s", d.Family, result.Error()))
	}
	return body, nil
}

func (b *Builder) schemaFor(d *Descriptor) (*jsonschema.Schema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.schemas[d.Family]; ok {
		return s, nil
	}
	s, err := jsonschema.NewCompiler().Compile([]byte(d.schema))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", d.Family, err)
	}
	b.schemas[d.Family] = s
	return s, nil
}

func unsupportedFamily(op string, d *Descriptor) error {
	name := FamilyUnknown.String()
	if d != nil {
		name = d.Family.String()
	}
	return domain.NewDomainError(op, domain.ErrUnsupportedModel, "family "+name+" does not support this operation")
}

func maxTokensOr(req domain.GenerationRequest) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return DefaultMaxTokens
}

func temperatureOr(req domain.GenerationRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return DefaultTemperature
}

func topPOr(req domain.GenerationRequest) float64 {
	if req.TopP != nil {
		return *req.TopP
	}
	return DefaultTopP
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// --- Text payloads ---

type titanTextRequest struct {
	InputText            string          `json:"inputText"`
	TextGenerationConfig titanTextConfig `json:"textGenerationConfig"`
}

type titanTextConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"topP"`
}

func titanTextPayload(req domain.GenerationRequest) any {
	return titanTextRequest{
		InputText: req.Prompt,
		TextGenerationConfig: titanTextConfig{
			MaxTokenCount: maxTokensOr(req),
			Temperature:   temperatureOr(req),
			TopP:          topPOr(req),
		},
	}
}

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

func llamaPayload(req domain.GenerationRequest) any {
	return llamaRequest{
		Prompt:      req.Prompt,
		MaxGenLen:   maxTokensOr(req),
		Temperature: temperatureOr(req),
		TopP:        topPOr(req),
	}
}

type mistralRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

func mistralPayload(req domain.GenerationRequest) any {
	return mistralRequest{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokensOr(req),
		Temperature: temperatureOr(req),
		TopP:        topPOr(req),
	}
}

type anthropicRequest struct {
	Messages         []anthropicMessage `json:"messages"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	TopP             float64            `json:"top_p"`
	AnthropicVersion string             `json:"anthropic_version"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func anthropicPayload(req domain.GenerationRequest) any {
	return anthropicRequest{
		Messages:         []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:        maxTokensOr(req),
		Temperature:      temperatureOr(req),
		TopP:             topPOr(req),
		AnthropicVersion: AnthropicVersion,
	}
}

type ai21Request struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

func ai21Payload(req domain.GenerationRequest) any {
	return ai21Request{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokensOr(req),
		Temperature: temperatureOr(req),
		TopP:        topPOr(req),
	}
}

type cohereRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	P           float64 `json:"p"`
}

func coherePayload(req domain.GenerationRequest) any {
	return cohereRequest{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokensOr(req),
		Temperature: temperatureOr(req),
		P:           topPOr(req),
	}
}

// --- Embedding payloads ---

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

func titanEmbedPayload(req domain.EmbeddingRequest) any {
	return titanEmbedRequest{InputText: req.Text}
}

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

func cohereEmbedPayload(req domain.EmbeddingRequest) any {
	return cohereEmbedRequest{Texts: []string{req.Text}, InputType: cohereEmbedInputType}
}

// --- Image payloads ---

type titanImageRequest struct {
	TaskType              string                `json:"taskType"`
	TextToImageParams     titanTextToImage      `json:"textToImageParams"`
	ImageGenerationConfig titanImageGenerateCfg `json:"imageGenerationConfig"`
}

type titanTextToImage struct {
	Text   string `json:"text"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type titanImageGenerateCfg struct {
	NumberOfImages int     `json:"numberOfImages"`
	Quality        string  `json:"quality"`
	CfgScale       float64 `json:"cfgScale"`
	Seed           *int    `json:"seed,omitempty"`
}

func titanImagePayload(req domain.ImageRequest) any {
	quality := req.Quality
	if quality == "" {
		quality = defaultImageQuality
	}
	return titanImageRequest{
		TaskType: "TEXT_IMAGE",
		TextToImageParams: titanTextToImage{
			Text:   req.Prompt,
			Width:  intOr(req.Width, defaultImageSize),
			Height: intOr(req.Height, defaultImageSize),
		},
		ImageGenerationConfig: titanImageGenerateCfg{
			NumberOfImages: intOr(req.NumberOfImages, defaultImageCount),
			Quality:        quality,
			CfgScale:       floatOr(req.CfgScale, defaultTitanCfgScale),
			Seed:           req.Seed,
		},
	}
}

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	CfgScale    float64           `json:"cfg_scale"`
	Seed        int               `json:"seed"`
	Steps       int               `json:"steps"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Samples     int               `json:"samples"`
}

type stabilityPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

func stabilityPayload(req domain.ImageRequest) any {
	return stabilityRequest{
		TextPrompts: []stabilityPrompt{{Text: req.Prompt, Weight: defaultStabilityWeight}},
		CfgScale:    floatOr(req.CfgScale, defaultStabilityCfg),
		Seed:        intOr(req.Seed, 0),
		Steps:       intOr(req.Steps, defaultStabilitySteps),
		Width:       intOr(req.Width, defaultImageSize),
		Height:      intOr(req.Height, defaultImageSize),
		Samples:     intOr(req.NumberOfImages, defaultImageCount),
	}
}

// --- Required-key schemas ---

const titanTextSchema = `{
  "type": "object",
  "required": ["inputText", "textGenerationConfig"],
  "properties": {
    "inputText": {"type": "string"},
    "textGenerationConfig": {
      "type": "object",
      "required": ["maxTokenCount", "temperature", "topP"]
    }
  }
}`

const llamaSchema = `{
  "type": "object",
  "required": ["prompt", "max_gen_len", "temperature", "top_p"]
}`

const mistralSchema = `{
  "type": "object",
  "required": ["prompt", "max_tokens", "temperature", "top_p"]
}`

const anthropicSchema = `{
  "type": "object",
  "required": ["messages", "max_tokens", "temperature", "top_p", "anthropic_version"],
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "object", "required": ["role", "content"]}
    }
  }
}`

const ai21Schema = `{
  "type": "object",
  "required": ["prompt", "maxTokens", "temperature", "topP"]
}`

const cohereSchema = `{
  "type": "object",
  "required": ["prompt", "max_tokens", "temperature", "p"]
}`

const titanEmbedSchema = `{
  "type": "object",
  "required": ["inputText"]
}`

const cohereEmbedSchema = `{
  "type": "object",
  "required": ["texts", "input_type"],
  "properties": {"texts": {"type": "array", "minItems": 1}}
}`

const titanImageSchema = `{
  "type": "object",
  "required": ["taskType", "textToImageParams", "imageGenerationConfig"],
  "properties": {
    "textToImageParams": {"type": "object", "required": ["text", "width", "height"]},
    "imageGenerationConfig": {"type": "object", "required": ["numberOfImages", "quality", "cfgScale"]}
  }
}`

const stabilitySchema = `{
  "type": "object",
  "required": ["text_prompts", "cfg_scale", "seed", "steps", "width", "height", "samples"],
  "properties": {
    "text_prompts": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "object", "required": ["text", "weight"]}
    }
  }
}`
