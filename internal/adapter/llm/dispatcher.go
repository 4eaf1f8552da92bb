package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
	"rgen/internal/infra/logger"
	"rgen/internal/infra/resilience"
	"rgen/internal/infra/tracer"
)

const contentTypeJSON = "application/json"

// RuntimeAPI is the subset of *bedrockruntime.Client the dispatcher needs.
type RuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type streamOpener func(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (EventSource, error)

// Dispatcher sends serialized payloads to the model runtime, unary or streaming.
// It is safe for concurrent use.
type Dispatcher struct {
	client     RuntimeAPI
	openStream streamOpener
	limiter    *rate.Limiter
	breaker    *resilience.Breaker[[]byte]
	buffer     int
	logger     *slog.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimit caps invocations at rps per second with the given burst.
func WithRateLimit(rps float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker makes the dispatcher fail fast while the runtime keeps failing.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) DispatcherOption {
	return func(d *Dispatcher) {
		if cfg.Enabled {
			d.breaker = resilience.NewBreaker[[]byte]("bedrock", cfg, d.logger)
		}
	}
}

// WithStreamBuffer sets the chunk queue capacity of streaming calls.
func WithStreamBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// NewDispatcher wraps a runtime client, usually one from NewRuntimeClient.
func NewDispatcher(client RuntimeAPI, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	t := time.Now()
	d := &Dispatcher{
		client:  client,
		buffer:  DefaultStreamBuffer,
		logger:  logger.Component(log, "bedrock.dispatcher"),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}
	d.openStream = d.openRuntimeStream
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) openRuntimeStream(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (EventSource, error) {
	out, err := d.client.InvokeModelWithResponseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// Invoke sends body to modelID and returns the raw response bytes.
func (d *Dispatcher) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	id := d.newInvocationID()
	ctx = logger.WithInvocation(ctx, id, modelID)
	ctx, span := tracer.StartSpan(ctx, "bedrock.invoke",
		trace.WithAttributes(
			tracer.StringAttr("bedrock.model", modelID),
			tracer.StringAttr("bedrock.invocation_id", id),
		),
	)
	defer span.End()

	if err := d.wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	raw, err := d.guard(func() ([]byte, error) {
		out, err := d.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(modelID),
			Body:        body,
			ContentType: aws.String(contentTypeJSON),
			Accept:      aws.String(contentTypeJSON),
		})
		if err != nil {
			return nil, classifyError("Invoke", err)
		}
		return out.Body, nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		d.logger.WarnContext(ctx, "model invocation failed", "error", err)
		return nil, err
	}

	tracer.SetOK(span)
	d.logger.InfoContext(ctx, "model invoked",
		"bytes", len(raw),
		"duration", time.Since(start),
	)
	return raw, nil
}

// InvokeStream opens a streaming invocation and returns a stream of chunks
// translated for desc. Chunks arrive in source order. The worker stops when the
// source ends, the consumer closes the stream, or ctx is done; the source is
// always released.
//
// Callers reading with Next must call Close on the stream if they stop before
// io.EOF or an error, or cancel ctx. Ranging over Iter closes it on break.
func (d *Dispatcher) InvokeStream(ctx context.Context, modelID string, body []byte, desc *Descriptor) (*domain.ChunkStream, error) {
	id := d.newInvocationID()
	ctx = logger.WithInvocation(ctx, id, modelID)
	spanCtx, span := tracer.StartSpan(ctx, "bedrock.invoke_stream",
		trace.WithAttributes(
			tracer.StringAttr("bedrock.model", modelID),
			tracer.StringAttr("bedrock.family", desc.Family.String()),
			tracer.StringAttr("bedrock.invocation_id", id),
		),
	)
	defer span.End()

	if err := d.wait(spanCtx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var src EventSource
	_, err := d.guard(func() ([]byte, error) {
		s, err := d.openStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(modelID),
			Body:        body,
			ContentType: aws.String(contentTypeJSON),
			Accept:      aws.String(contentTypeJSON),
		})
		if err != nil {
			return nil, classifyError("InvokeStream", err)
		}
		src = s
		return nil, nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		d.logger.WarnContext(spanCtx, "model stream failed to open", "error", err)
		return nil, err
	}

	stream, sink := domain.NewChunkStream(d.buffer)
	go runStreamWorker(ctx, src, desc, sink, d.logger)

	tracer.SetOK(span)
	d.logger.InfoContext(spanCtx, "model stream opened", "family", desc.Family.String())
	return stream, nil
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", domain.ErrTransport, err)
	}
	return nil
}

func (d *Dispatcher) guard(fn func() ([]byte, error)) ([]byte, error) {
	if d.breaker == nil {
		return fn()
	}
	return d.breaker.Execute(fn)
}

func (d *Dispatcher) newInvocationID() string {
	d.idMu.Lock()
	defer d.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), d.entropy).String()
}

// classifyError maps runtime client failures onto the domain taxonomy: errors the
// service answered with become *domain.ServiceError, everything else is transport.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		se := &domain.ServiceError{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
		}
		var status interface{ HTTPStatusCode() int }
		if errors.As(err, &status) {
			se.StatusCode = status.HTTPStatusCode()
		}
		return domain.WrapOp(op, se)
	}

	return domain.WrapOp(op, fmt.Errorf("%w: %w", domain.ErrTransport, err))
}
