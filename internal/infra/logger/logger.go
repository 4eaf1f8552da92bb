package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"rgen/internal/infra/config"
)

// New builds the process logger from cfg. Records carry app=rgen, credential
// attributes are masked, and invocation and trace ids found in the record's
// context are attached. The returned closer releases the log file, if any.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return slog.New(newHandler(writer, cfg)).With("app", "rgen"), closer, nil
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: redact,
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return &contextHandler{Handler: h}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component scopes log to one subsystem, e.g. "dispatcher" or "vectorstore.sqlite".
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}

// ParseLevel maps a config level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type invocationKey struct{}

type invocation struct {
	id    string
	model string
}

// WithInvocation tags ctx with a model invocation. Records logged with that
// ctx (InfoContext and friends) carry invocation_id and model.
func WithInvocation(ctx context.Context, id, model string) context.Context {
	return context.WithValue(ctx, invocationKey{}, invocation{id: id, model: model})
}

// InvocationID returns the id set by WithInvocation, or "".
func InvocationID(ctx context.Context) string {
	inv, _ := ctx.Value(invocationKey{}).(invocation)
	return inv.id
}

// contextHandler copies request-scoped values from the record's context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if inv, ok := ctx.Value(invocationKey{}).(invocation); ok {
		r.AddAttrs(slog.String("invocation_id", inv.id))
		if inv.model != "" {
			r.AddAttrs(slog.String("model", inv.model))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

const redacted = "[REDACTED]"

// secretKeys are attribute names whose values never reach the log.
var secretKeys = map[string]bool{
	"api_key":           true,
	"apikey":            true,
	"token":             true,
	"authorization":     true,
	"password":          true,
	"secret_access_key": true,
	"session_token":     true,
	"dsn":               true,
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.String() != "" {
		return slog.String(a.Key, redacted)
	}
	return a
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
