package llm

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"rgen/internal/domain"
)

// FinishComplete marks a stream that ended on a non-chunk event.
const FinishComplete = "complete"

// DefaultStreamBuffer is the chunk queue capacity between worker and consumer.
const DefaultStreamBuffer = 100

// EventSource is the raw event sequence of one streaming invocation.
// *bedrockruntime.InvokeModelWithResponseStreamEventStream satisfies it.
type EventSource interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// TranslateChunk parses one raw streaming payload for d.
func TranslateChunk(raw []byte, d *Descriptor) (domain.StreamChunk, error) {
	if d == nil || d.parseChunk == nil {
		name := FamilyUnknown.String()
		if d != nil {
			name = d.Family.String()
		}
		return domain.StreamChunk{}, domain.NewDomainError("TranslateChunk", domain.ErrResponse,
			"no stream parser for family "+name)
	}
	return d.parseChunk(raw)
}

func translateEvent(ev types.ResponseStream, d *Descriptor) (domain.StreamChunk, error) {
	switch v := ev.(type) {
	case *types.ResponseStreamMemberChunk:
		if len(v.Value.Bytes) == 0 {
			return domain.StreamChunk{}, nil
		}
		return TranslateChunk(v.Value.Bytes, d)
	default:
		return domain.StreamChunk{Done: true, FinishReason: FinishComplete}, nil
	}
}

// runStreamWorker owns src until it ends, the consumer leaves, or ctx is done.
// Translation and transport failures are delivered as the last item.
func runStreamWorker(ctx context.Context, src EventSource, d *Descriptor, sink *domain.ChunkSink, logger *slog.Logger) {
	defer sink.Finish()
	defer src.Close()

	events := src.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := src.Err(); err != nil {
					sink.Fail(ctx, classifyError("InvokeStream", err))
				}
				return
			}
			chunk, err := translateEvent(ev, d)
			if err != nil {
				sink.Fail(ctx, err)
				return
			}
			if !sink.Send(ctx, chunk) {
				logger.DebugContext(ctx, "stream consumer went away", "family", d.Family.String())
				return
			}
		case <-sink.Done():
			logger.DebugContext(ctx, "stream consumer went away", "family", d.Family.String())
			return
		case <-ctx.Done():
			return
		}
	}
}

// --- Per-family chunk parsers ---

type titanChunkPayload struct {
	OutputText       string  `json:"outputText"`
	CompletionReason *string `json:"completionReason"`
}

func titanChunk(raw []byte) (domain.StreamChunk, error) {
	var c titanChunkPayload
	if err := decode("titanChunk", raw, &c); err != nil {
		return domain.StreamChunk{}, err
	}
	return domain.StreamChunk{
		Text:         c.OutputText,
		Done:         c.CompletionReason != nil,
		FinishReason: deref(c.CompletionReason),
	}, nil
}

type llamaChunkPayload struct {
	Generation string  `json:"generation"`
	StopReason *string `json:"stop_reason"`
}

func llamaChunk(raw []byte) (domain.StreamChunk, error) {
	var c llamaChunkPayload
	if err := decode("llamaChunk", raw, &c); err != nil {
		return domain.StreamChunk{}, err
	}
	return domain.StreamChunk{
		Text:         c.Generation,
		Done:         c.StopReason != nil,
		FinishReason: deref(c.StopReason),
	}, nil
}

type mistralChunkPayload struct {
	Outputs []mistralOutput `json:"outputs"`
}

func mistralChunk(raw []byte) (domain.StreamChunk, error) {
	var c mistralChunkPayload
	if err := decode("mistralChunk", raw, &c); err != nil {
		return domain.StreamChunk{}, err
	}
	if len(c.Outputs) == 0 {
		return domain.StreamChunk{}, nil
	}
	out := c.Outputs[0]
	return domain.StreamChunk{
		Text:         deref(out.Text),
		Done:         out.StopReason != nil,
		FinishReason: deref(out.StopReason),
	}, nil
}

const anthropicStopEvent = "message_stop"

type anthropicChunkPayload struct {
	Type  string `json:"type"`
	Delta *struct {
		Text       string  `json:"text"`
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`
}

func anthropicChunk(raw []byte) (domain.StreamChunk, error) {
	var c anthropicChunkPayload
	if err := decode("anthropicChunk", raw, &c); err != nil {
		return domain.StreamChunk{}, err
	}
	chunk := domain.StreamChunk{Done: c.Type == anthropicStopEvent}
	if c.Delta != nil {
		chunk.Text = c.Delta.Text
		chunk.FinishReason = deref(c.Delta.StopReason)
	}
	return chunk, nil
}
