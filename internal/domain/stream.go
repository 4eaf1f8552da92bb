package domain

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"
)

// StreamChunk is one increment of a streamed generation.
// A chunk with Done set is terminal; later chunks may or may not arrive.
type StreamChunk struct {
	Text         string `json:"chunk"`
	Done         bool   `json:"done"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type streamItem struct {
	chunk StreamChunk
	err   error
}

// ChunkStream is a forward-only, single-consumption sequence of chunks fed by
// exactly one producer. Consumers read with Next or Iter and call Close when
// they stop early; the producer notices on its next push and exits.
type ChunkStream struct {
	items     <-chan streamItem
	done      chan struct{}
	closeOnce sync.Once
}

// ChunkSink is the producer side of a ChunkStream.
type ChunkSink struct {
	items chan streamItem
	done  <-chan struct{}
}

// NewChunkStream returns a connected stream/sink pair with a bounded buffer.
func NewChunkStream(capacity int) (*ChunkStream, *ChunkSink) {
	if capacity <= 0 {
		capacity = 1
	}
	items := make(chan streamItem, capacity)
	done := make(chan struct{})
	return &ChunkStream{items: items, done: done}, &ChunkSink{items: items, done: done}
}

// Next returns the next chunk. It returns io.EOF once the producer has finished.
// A consumer that stops calling Next before io.EOF or an error must call Close;
// otherwise the producer stays blocked on a full buffer and keeps its source open.
func (s *ChunkStream) Next() (StreamChunk, error) {
	item, ok := <-s.items
	if !ok {
		return StreamChunk{}, io.EOF
	}
	return item.chunk, item.err
}

// Iter ranges over the stream. Breaking out of the loop closes the stream.
// An error item is yielded once and ends the iteration.
func (s *ChunkStream) Iter() iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		defer s.Close()
		for item := range s.items {
			if !yield(item.chunk, item.err) || item.err != nil {
				return
			}
		}
	}
}

// Collect drains the stream and concatenates the text of every chunk.
// The last non-empty finish reason seen is returned alongside.
func (s *ChunkStream) Collect() (text, finishReason string, err error) {
	var b strings.Builder
	for chunk, cerr := range s.Iter() {
		if cerr != nil {
			return b.String(), finishReason, cerr
		}
		b.WriteString(chunk.Text)
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	return b.String(), finishReason, nil
}

// Close tells the producer the consumer is gone. Safe to call more than once.
func (s *ChunkStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Send pushes a chunk. It reports false when the consumer has gone away or
// ctx is done, in which case the producer should stop.
func (s *ChunkSink) Send(ctx context.Context, chunk StreamChunk) bool {
	return s.push(ctx, streamItem{chunk: chunk})
}

// Fail pushes a terminal error item.
func (s *ChunkSink) Fail(ctx context.Context, err error) bool {
	return s.push(ctx, streamItem{err: err})
}

// Done is closed when the consumer calls Close.
func (s *ChunkSink) Done() <-chan struct{} { return s.done }

// Finish closes the producer side. Call exactly once.
func (s *ChunkSink) Finish() { close(s.items) }

func (s *ChunkSink) push(ctx context.Context, item streamItem) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	// Fast path: room in the buffer.
	select {
	case s.items <- item:
		return true
	default:
	}

	// Buffer full: wait for the consumer to drain or leave.
	select {
	case s.items <- item:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
