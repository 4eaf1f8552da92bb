package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"rgen/internal/adapter/llm"
	"rgen/internal/domain"
)

type fakeRuntime struct {
	invoke func(in *bedrockruntime.InvokeModelInput) ([]byte, error)
	calls  int
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	body, err := f.invoke(in)
	if err != nil {
		return nil, err
	}
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func (f *fakeRuntime) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, fmt.Errorf("not implemented")
}

func newTestEmbedder(rt *fakeRuntime, model string) *BedrockEmbedder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBedrockEmbedder(llm.NewDispatcher(rt, logger), llm.NewBuilder(llm.NewRegistry()), model, logger)
}

func TestBedrockEmbedderTitan(t *testing.T) {
	var sent map[string]any
	var modelID string
	rt := &fakeRuntime{invoke: func(in *bedrockruntime.InvokeModelInput) ([]byte, error) {
		modelID = aws.ToString(in.ModelId)
		if err := json.Unmarshal(in.Body, &sent); err != nil {
			return nil, err
		}
		return []byte(`{"embedding":[0.1,0.2,0.3],"inputTextTokenCount":2}`), nil
	}}
	e := newTestEmbedder(rt, "")

	resp, err := e.GenerateEmbedding(context.Background(), domain.EmbeddingRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if modelID != llm.DefaultEmbeddingModel {
		t.Errorf("model = %q, want %q", modelID, llm.DefaultEmbeddingModel)
	}
	if sent["inputText"] != "hello" {
		t.Errorf("inputText = %v, want hello", sent["inputText"])
	}
	if len(resp.Embedding) != 3 {
		t.Errorf("len = %d, want 3", len(resp.Embedding))
	}
	if resp.Model != llm.DefaultEmbeddingModel {
		t.Errorf("resp.Model = %q", resp.Model)
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions = %d, want 3 after first call", e.Dimensions())
	}
}

func TestBedrockEmbedderCohereOverride(t *testing.T) {
	var sent map[string]any
	rt := &fakeRuntime{invoke: func(in *bedrockruntime.InvokeModelInput) ([]byte, error) {
		if err := json.Unmarshal(in.Body, &sent); err != nil {
			return nil, err
		}
		return []byte(`{"embeddings":[[1,2,3,4]]}`), nil
	}}
	e := newTestEmbedder(rt, "")

	resp, err := e.GenerateEmbedding(context.Background(), domain.EmbeddingRequest{
		Text:    "doc",
		ModelID: "cohere.embed-english-v3",
	})
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if sent["input_type"] != "search_document" {
		t.Errorf("input_type = %v", sent["input_type"])
	}
	if resp.Model != "cohere.embed-english-v3" {
		t.Errorf("resp.Model = %q", resp.Model)
	}
	// An override must not change the default model's reported size.
	if e.Dimensions() != 1536 {
		t.Errorf("Dimensions = %d, want 1536", e.Dimensions())
	}
}

func TestBedrockEmbedderUnsupportedModel(t *testing.T) {
	rt := &fakeRuntime{invoke: func(*bedrockruntime.InvokeModelInput) ([]byte, error) {
		return nil, errors.New("should not be called")
	}}
	e := newTestEmbedder(rt, "")

	_, err := e.GenerateEmbedding(context.Background(), domain.EmbeddingRequest{
		Text:    "x",
		ModelID: "amazon.titan-text-express-v1",
	})
	if !errors.Is(err, domain.ErrUnsupportedModel) {
		t.Fatalf("err = %v, want ErrUnsupportedModel", err)
	}
	if rt.calls != 0 {
		t.Errorf("calls = %d, want 0", rt.calls)
	}
}

func TestBedrockEmbedderEmptyVector(t *testing.T) {
	rt := &fakeRuntime{invoke: func(*bedrockruntime.InvokeModelInput) ([]byte, error) {
		return []byte(`{"embedding":[]}`), nil
	}}
	e := newTestEmbedder(rt, "")

	_, err := e.GenerateEmbedding(context.Background(), domain.EmbeddingRequest{Text: "x"})
	if !errors.Is(err, domain.ErrResponse) {
		t.Fatalf("err = %v, want ErrResponse", err)
	}
}

func TestBedrockEmbedderEmbedBatch(t *testing.T) {
	rt := &fakeRuntime{invoke: func(*bedrockruntime.InvokeModelInput) ([]byte, error) {
		return []byte(`{"embedding":[1,1]}`), nil
	}}
	e := newTestEmbedder(rt, "amazon.titan-embed-text-v2:0")

	out, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 3 || rt.calls != 3 {
		t.Errorf("len = %d calls = %d, want 3 and 3", len(out), rt.calls)
	}
	if e.Name() != "bedrock:amazon.titan-embed-text-v2:0" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestBedrockEmbedderKnownDimensions(t *testing.T) {
	rt := &fakeRuntime{}
	if d := newTestEmbedder(rt, "amazon.titan-embed-text-v2:0").Dimensions(); d != 1024 {
		t.Errorf("titan v2 dims = %d, want 1024", d)
	}
	if d := newTestEmbedder(rt, "cohere.embed-future").Dimensions(); d != 0 {
		t.Errorf("unknown model dims = %d, want 0", d)
	}
}
