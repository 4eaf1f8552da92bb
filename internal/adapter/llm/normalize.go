package llm

import (
	"encoding/json"
	"fmt"

	"rgen/internal/domain"
)

// ParseText normalizes a unary text response for d. modelID is echoed into the result.
func ParseText(raw []byte, d *Descriptor, modelID string) (*domain.GenerationResponse, error) {
	if d == nil || d.parseText == nil {
		return nil, unknownFamilyAt("ParseText", d)
	}
	resp, err := d.parseText(raw)
	if err != nil {
		return nil, err
	}
	resp.Model = modelID
	return resp, nil
}

// ParseEmbedding normalizes an embedding response for d.
func ParseEmbedding(raw []byte, d *Descriptor, modelID string) (*domain.EmbeddingResponse, error) {
	if d == nil || d.parseEmbedding == nil {
		return nil, unknownFamilyAt("ParseEmbedding", d)
	}
	resp, err := d.parseEmbedding(raw)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, responseErr("ParseEmbedding", "empty embedding")
	}
	resp.Model = modelID
	return resp, nil
}

// ParseImages normalizes an image response for d into base64 strings.
func ParseImages(raw []byte, d *Descriptor, modelID string) (*domain.ImageResponse, error) {
	if d == nil || d.parseImage == nil {
		return nil, unknownFamilyAt("ParseImages", d)
	}
	images, err := d.parseImage(raw)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, responseErr("ParseImages", "no images in response")
	}
	return &domain.ImageResponse{Images: images, Model: modelID}, nil
}

func unknownFamilyAt(op string, d *Descriptor) error {
	name := FamilyUnknown.String()
	if d != nil {
		name = d.Family.String()
	}
	return domain.NewDomainError(op, domain.ErrResponse, "no parser for family "+name)
}

func responseErr(op, detail string) error {
	return domain.NewDomainError(op, domain.ErrResponse, detail)
}

func decode(op string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewDomainError(op, domain.ErrResponse, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// estimateTokens approximates a token count as one token per four bytes, rounded up.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// --- Titan ---

type titanTextResult struct {
	OutputText       *string `json:"outputText"`
	CompletionReason *string `json:"completionReason"`
}

type titanTextResponse struct {
	titanTextResult
	Results []titanTextResult `json:"results"`
}

// Titan answers either with a results array or with the fields at top level.
func parseTitanText(raw []byte) (*domain.GenerationResponse, error) {
	var r titanTextResponse
	if err := decode("parseTitanText", raw, &r); err != nil {
		return nil, err
	}
	res := r.titanTextResult
	if res.OutputText == nil && len(r.Results) > 0 {
		res = r.Results[0]
	}
	if res.OutputText == nil {
		return nil, responseErr("parseTitanText", "missing outputText")
	}
	return &domain.GenerationResponse{
		Text:            *res.OutputText,
		TokensGenerated: estimateTokens(*res.OutputText),
		FinishReason:    deref(res.CompletionReason),
	}, nil
}

// --- Llama / Mistral ---

type llamaResponse struct {
	Generation           *string         `json:"generation"`
	GenerationTokenCount int             `json:"generation_token_count"`
	PromptTokenCount     int             `json:"prompt_token_count"`
	StopReason           *string         `json:"stop_reason"`
	Outputs              []mistralOutput `json:"outputs"`
}

type mistralOutput struct {
	Text       *string `json:"text"`
	StopReason *string `json:"stop_reason"`
}

func parseLlamaText(raw []byte) (*domain.GenerationResponse, error) {
	var r llamaResponse
	if err := decode("parseLlamaText", raw, &r); err != nil {
		return nil, err
	}
	if r.Generation != nil {
		return &domain.GenerationResponse{
			Text:            *r.Generation,
			TokensGenerated: r.GenerationTokenCount,
			TokensPrompt:    r.PromptTokenCount,
			FinishReason:    deref(r.StopReason),
		}, nil
	}
	if len(r.Outputs) > 0 && r.Outputs[0].Text != nil {
		return &domain.GenerationResponse{
			Text:         *r.Outputs[0].Text,
			FinishReason: deref(r.Outputs[0].StopReason),
		}, nil
	}
	return nil, responseErr("parseLlamaText", "missing generation")
}

// --- Anthropic ---

type anthropicResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
	StopReason *string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicText(raw []byte) (*domain.GenerationResponse, error) {
	var r anthropicResponse
	if err := decode("parseAnthropicText", raw, &r); err != nil {
		return nil, err
	}
	if len(r.Content) == 0 {
		return nil, responseErr("parseAnthropicText", "empty content")
	}
	if r.Content[0].Text == nil {
		return nil, responseErr("parseAnthropicText", "missing content[0].text")
	}
	return &domain.GenerationResponse{
		Text:            *r.Content[0].Text,
		TokensGenerated: r.Usage.OutputTokens,
		TokensPrompt:    r.Usage.InputTokens,
		FinishReason:    deref(r.StopReason),
	}, nil
}

// --- AI21 ---

type ai21Response struct {
	Prompt struct {
		Tokens []json.RawMessage `json:"tokens"`
	} `json:"prompt"`
	Completions []struct {
		Data struct {
			Text *string `json:"text"`
		} `json:"data"`
		FinishReason struct {
			Reason *string `json:"reason"`
		} `json:"finishReason"`
	} `json:"completions"`
}

func parseAI21Text(raw []byte) (*domain.GenerationResponse, error) {
	var r ai21Response
	if err := decode("parseAI21Text", raw, &r); err != nil {
		return nil, err
	}
	if len(r.Completions) == 0 {
		return nil, responseErr("parseAI21Text", "empty completions")
	}
	c := r.Completions[0]
	if c.Data.Text == nil {
		return nil, responseErr("parseAI21Text", "missing completions[0].data.text")
	}
	return &domain.GenerationResponse{
		Text:            *c.Data.Text,
		TokensGenerated: len(r.Prompt.Tokens),
		FinishReason:    deref(c.FinishReason.Reason),
	}, nil
}

// --- Cohere ---

type cohereResponse struct {
	Generations []struct {
		Text         *string `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"generations"`
}

func parseCohereText(raw []byte) (*domain.GenerationResponse, error) {
	var r cohereResponse
	if err := decode("parseCohereText", raw, &r); err != nil {
		return nil, err
	}
	if len(r.Generations) == 0 {
		return nil, responseErr("parseCohereText", "empty generations")
	}
	g := r.Generations[0]
	if g.Text == nil {
		return nil, responseErr("parseCohereText", "missing generations[0].text")
	}
	return &domain.GenerationResponse{
		Text:         *g.Text,
		FinishReason: deref(g.FinishReason),
	}, nil
}

// --- Embeddings ---

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func parseTitanEmbedding(raw []byte) (*domain.EmbeddingResponse, error) {
	var r titanEmbedResponse
	if err := decode("parseTitanEmbedding", raw, &r); err != nil {
		return nil, err
	}
	return &domain.EmbeddingResponse{Embedding: r.Embedding, InputTokens: r.InputTextTokenCount}, nil
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func parseCohereEmbedding(raw []byte) (*domain.EmbeddingResponse, error) {
	var r cohereEmbedResponse
	if err := decode("parseCohereEmbedding", raw, &r); err != nil {
		return nil, err
	}
	if len(r.Embeddings) == 0 {
		return nil, responseErr("parseCohereEmbedding", "empty embeddings")
	}
	return &domain.EmbeddingResponse{Embedding: r.Embeddings[0]}, nil
}

// --- Images ---

type titanImageResponse struct {
	Images []string `json:"images"`
	Error  *string  `json:"error"`
}

func parseTitanImages(raw []byte) ([]string, error) {
	var r titanImageResponse
	if err := decode("parseTitanImages", raw, &r); err != nil {
		return nil, err
	}
	if r.Error != nil && *r.Error != "" {
		return nil, responseErr("parseTitanImages", *r.Error)
	}
	return r.Images, nil
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func parseStabilityImages(raw []byte) ([]string, error) {
	var r stabilityResponse
	if err := decode("parseStabilityImages", raw, &r); err != nil {
		return nil, err
	}
	images := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		if a.Base64 != "" {
			images = append(images, a.Base64)
		}
	}
	return images, nil
}
