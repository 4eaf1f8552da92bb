package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgen/internal/domain"
)

func TestTranslateChunk(t *testing.T) {
	tests := []struct {
		name  string
		model string
		raw   string
		want  domain.StreamChunk
	}{
		{"anthropic stop", "anthropic.claude-3-haiku-20240307-v1:0", `{"type":"message_stop"}`,
			domain.StreamChunk{Done: true}},
		{"anthropic delta", "anthropic.claude-3-haiku-20240307-v1:0", `{"delta":{"text":"ab"}}`,
			domain.StreamChunk{Text: "ab"}},
		{"anthropic stop reason", "anthropic.claude-3-haiku-20240307-v1:0", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
			domain.StreamChunk{FinishReason: "end_turn"}},
		{"titan partial", "amazon.titan-text-express-v1", `{"outputText":"He","index":0}`,
			domain.StreamChunk{Text: "He"}},
		{"titan final", "amazon.titan-text-express-v1", `{"outputText":"llo","completionReason":"FINISH"}`,
			domain.StreamChunk{Text: "llo", Done: true, FinishReason: "FINISH"}},
		{"llama partial", "meta.llama3-8b-instruct-v1:0", `{"generation":"a","stop_reason":null}`,
			domain.StreamChunk{Text: "a"}},
		{"llama final", "meta.llama3-8b-instruct-v1:0", `{"generation":"","stop_reason":"stop"}`,
			domain.StreamChunk{Done: true, FinishReason: "stop"}},
		{"mistral partial", "mistral.mistral-7b-instruct-v0:2", `{"outputs":[{"text":"x","stop_reason":null}]}`,
			domain.StreamChunk{Text: "x"}},
		{"mistral final", "mistral.mistral-7b-instruct-v0:2", `{"outputs":[{"text":"y","stop_reason":"length"}]}`,
			domain.StreamChunk{Text: "y", Done: true, FinishReason: "length"}},
		{"mistral empty outputs", "mistral.mistral-7b-instruct-v0:2", `{"outputs":[]}`,
			domain.StreamChunk{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustResolve(t, tt.model, domain.CategoryText)
			got, err := TranslateChunk([]byte(tt.raw), d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateChunkErrors(t *testing.T) {
	_, err := TranslateChunk([]byte(`{}`), nil)
	require.ErrorIs(t, err, domain.ErrResponse)

	cohere := mustResolve(t, "cohere.command-text-v14", domain.CategoryText)
	_, err = TranslateChunk([]byte(`{}`), cohere)
	require.ErrorIs(t, err, domain.ErrResponse)
	assert.Contains(t, err.Error(), "cohere")

	titan := mustResolve(t, "amazon.titan-text-express-v1", domain.CategoryText)
	_, err = TranslateChunk([]byte(`not json`), titan)
	require.ErrorIs(t, err, domain.ErrResponse)
}

func TestTranslateEventNonChunk(t *testing.T) {
	d := mustResolve(t, "amazon.titan-text-express-v1", domain.CategoryText)
	got, err := translateEvent(&types.UnknownUnionMember{Tag: "metadata"}, d)
	require.NoError(t, err)
	assert.True(t, got.Done)
	assert.Equal(t, FinishComplete, got.FinishReason)

	for _, payload := range [][]byte{nil, {}} {
		got, err = translateEvent(&types.ResponseStreamMemberChunk{Value: types.PayloadPart{Bytes: payload}}, d)
		require.NoError(t, err)
		assert.Equal(t, domain.StreamChunk{}, got)
	}
}

func TestStreamWorkerForwardsInOrder(t *testing.T) {
	src := newFakeSource(
		`{"outputText":"a"}`,
		`{"outputText":"b"}`,
		`{"outputText":"c","completionReason":"FINISH"}`,
	)
	d := NewDispatcher(&mockRuntime{}, testLogger(), WithStreamBuffer(1))
	withSource(d, src)

	stream, err := d.InvokeStream(context.Background(), "amazon.titan-text-express-v1", []byte(`{}`),
		mustResolve(t, "amazon.titan-text-express-v1", domain.CategoryText))
	require.NoError(t, err)

	var texts []string
	var last domain.StreamChunk
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		texts = append(texts, chunk.Text)
		last = chunk
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts)
	assert.True(t, last.Done)
	assert.Equal(t, "FINISH", last.FinishReason)
	assert.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond)
}

func TestStreamWorkerTranslationErrorEndsStream(t *testing.T) {
	src := newFakeSource(`{"outputText":"ok"}`, `{broken`, `{"outputText":"never"}`)
	d := withSource(NewDispatcher(&mockRuntime{}, testLogger()), src)

	stream, err := d.InvokeStream(context.Background(), "amazon.titan-text-express-v1", []byte(`{}`),
		mustResolve(t, "amazon.titan-text-express-v1", domain.CategoryText))
	require.NoError(t, err)

	text, _, err := stream.Collect()
	require.ErrorIs(t, err, domain.ErrResponse)
	assert.Equal(t, "ok", text)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamWorkerSourceErrorIsDelivered(t *testing.T) {
	src := newFakeSource(`{"generation":"partial"}`)
	src.err = &mockAPIError{code: "ModelStreamErrorException", message: "stream broke"}
	d := withSource(NewDispatcher(&mockRuntime{}, testLogger()), src)

	stream, err := d.InvokeStream(context.Background(), "meta.llama3-8b-instruct-v1:0", []byte(`{}`),
		mustResolve(t, "meta.llama3-8b-instruct-v1:0", domain.CategoryText))
	require.NoError(t, err)

	text, _, err := stream.Collect()
	require.ErrorIs(t, err, domain.ErrService)
	assert.Contains(t, err.Error(), "stream broke")
	assert.Equal(t, "partial", text)
}

func TestStreamWorkerStopsWhenConsumerLeaves(t *testing.T) {
	src := newEndlessSource(`{"delta":{"text":"tick"}}`)
	d := withSource(NewDispatcher(&mockRuntime{}, testLogger(), WithStreamBuffer(1)), src)

	stream, err := d.InvokeStream(context.Background(), "anthropic.claude-3-haiku-20240307-v1:0", []byte(`{}`),
		mustResolve(t, "anthropic.claude-3-haiku-20240307-v1:0", domain.CategoryText))
	require.NoError(t, err)

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "tick", chunk.Text)

	stream.Close()

	assert.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond,
		"worker must release the source after the consumer leaves")

	// Whatever is left in the queue drains to EOF without an error item.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, err := stream.Next()
			if err != nil {
				assert.ErrorIs(t, err, io.EOF)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after Close")
	}
}

func TestStreamWorkerStopsOnContextCancel(t *testing.T) {
	src := newEndlessSource(`{"generation":"x"}`)
	d := withSource(NewDispatcher(&mockRuntime{}, testLogger(), WithStreamBuffer(1)), src)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := d.InvokeStream(ctx, "meta.llama3-8b-instruct-v1:0", []byte(`{}`),
		mustResolve(t, "meta.llama3-8b-instruct-v1:0", domain.CategoryText))
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	assert.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond)
}

func TestStreamBreakFromIterClosesSource(t *testing.T) {
	src := newEndlessSource(`{"outputText":"t"}`)
	d := withSource(NewDispatcher(&mockRuntime{}, testLogger(), WithStreamBuffer(2)), src)

	stream, err := d.InvokeStream(context.Background(), "amazon.titan-text-express-v1", []byte(`{}`),
		mustResolve(t, "amazon.titan-text-express-v1", domain.CategoryText))
	require.NoError(t, err)

	n := 0
	for _, err := range stream.Iter() {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond)
}
