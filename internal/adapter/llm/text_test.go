package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgen/internal/domain"
)

func newTestTextClient(rt RuntimeAPI, model string) (*TextClient, *Dispatcher) {
	d := NewDispatcher(rt, testLogger())
	return NewTextClient(d, NewBuilder(NewRegistry()), model, testLogger()), d
}

func TestTextClientGenerate(t *testing.T) {
	var sent map[string]any
	var modelID string
	rt := &mockRuntime{
		invokeFunc: func(_ context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			modelID = aws.ToString(in.ModelId)
			require.NoError(t, json.Unmarshal(in.Body, &sent))
			return &bedrockruntime.InvokeModelOutput{
				Body: []byte(`{"content":[{"type":"text","text":"Paris"}],"stop_reason":"end_turn","usage":{"input_tokens":7,"output_tokens":1}}`),
			}, nil
		},
	}
	c, _ := newTestTextClient(rt, "")

	resp, err := c.Generate(context.Background(), domain.GenerationRequest{
		Prompt:  "Capital of France?",
		ModelID: "anthropic.claude-3-haiku-20240307-v1:0",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Text)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", resp.Model)
	assert.Equal(t, 7, resp.TokensPrompt)
	assert.Equal(t, "end_turn", resp.FinishReason)

	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", modelID)
	assert.Equal(t, AnthropicVersion, sent["anthropic_version"])
}

func TestTextClientDefaultModel(t *testing.T) {
	var modelID string
	rt := &mockRuntime{
		invokeFunc: func(_ context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			modelID = aws.ToString(in.ModelId)
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"outputText":"hi"}`)}, nil
		},
	}
	c, _ := newTestTextClient(rt, "")

	resp, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTextModel, modelID)
	assert.Equal(t, DefaultTextModel, resp.Model)
}

func TestTextClientUnsupportedModel(t *testing.T) {
	rt := &mockRuntime{}
	c, _ := newTestTextClient(rt, "")

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "x", ModelID: "openai.gpt-4o"})
	require.ErrorIs(t, err, domain.ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "openai.gpt-4o")
	assert.Zero(t, rt.calls.Load(), "nothing is sent for an unresolved model")
}

func TestTextClientResponseError(t *testing.T) {
	c, _ := newTestTextClient(respondWith(`{"generations":[]}`), "cohere.command-text-v14")

	_, err := c.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrResponse)
}

func TestTextClientGenerateStream(t *testing.T) {
	src := newFakeSource(
		`{"type":"content_block_delta","delta":{"text":"Hel"}}`,
		`{"type":"content_block_delta","delta":{"text":"lo"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`{"type":"message_stop"}`,
	)
	c, d := newTestTextClient(&mockRuntime{}, "anthropic.claude-3-haiku-20240307-v1:0")
	withSource(d, src)

	stream, err := c.GenerateStream(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)

	text, reason, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, "end_turn", reason)
}

func TestTextClientStreamUnsupportedFamily(t *testing.T) {
	rt := &mockRuntime{}
	c, _ := newTestTextClient(rt, "")

	_, err := c.GenerateStream(context.Background(), domain.GenerationRequest{Prompt: "x", ModelID: "ai21.j2-mid-v1"})
	require.ErrorIs(t, err, domain.ErrRequest)
	assert.Contains(t, err.Error(), "ai21")
	assert.Zero(t, rt.calls.Load())
}

func TestTextClientModels(t *testing.T) {
	c, _ := newTestTextClient(&mockRuntime{}, "")
	models := c.Models()
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, domain.CategoryText, m.Category)
	}
}

func TestImageClientGenerate(t *testing.T) {
	var sent map[string]any
	rt := &mockRuntime{
		invokeFunc: func(_ context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			require.NoError(t, json.Unmarshal(in.Body, &sent))
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"artifacts":[{"base64":"aW1n","finishReason":"SUCCESS"}]}`)}, nil
		},
	}
	c := NewImageClient(NewDispatcher(rt, testLogger()), NewBuilder(NewRegistry()), "", testLogger())

	resp, err := c.GenerateImage(context.Background(), domain.ImageRequest{
		Prompt:  "lighthouse",
		ModelID: "stability.stable-diffusion-xl-v1",
		Steps:   domain.Ptr(30),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aW1n"}, resp.Images)
	assert.Equal(t, "stability.stable-diffusion-xl-v1", resp.Model)
	assert.EqualValues(t, 30, sent["steps"])
}

func TestImageClientRejectsTextModel(t *testing.T) {
	rt := &mockRuntime{}
	c := NewImageClient(NewDispatcher(rt, testLogger()), NewBuilder(NewRegistry()), "", testLogger())

	_, err := c.GenerateImage(context.Background(), domain.ImageRequest{Prompt: "x", ModelID: "amazon.titan-text-express-v1"})
	require.ErrorIs(t, err, domain.ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "amazon.titan-text-express-v1")
	assert.Zero(t, rt.calls.Load())

	assert.NotEmpty(t, c.Models())
}
