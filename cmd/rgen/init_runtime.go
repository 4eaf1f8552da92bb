package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"rgen/internal/adapter/embedding"
	"rgen/internal/adapter/llm"
	"rgen/internal/adapter/vectorstore"
	"rgen/internal/domain"
	"rgen/internal/infra/config"
	"rgen/internal/infra/logger"
	"rgen/internal/infra/tracer"
	"rgen/internal/usecase"
)

// newRuntimeAPI is swapped out in tests.
var newRuntimeAPI = func(ctx context.Context, cfg config.BedrockConfig) (llm.RuntimeAPI, error) {
	return llm.NewRuntimeClient(ctx, cfg)
}

// app holds everything a command may need. Storage is nil unless requested
// and configured.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *llm.Registry
	text     *llm.TextClient
	images   *llm.ImageClient
	embedder embedding.Model
	storage  domain.VectorStorage
	rag      *usecase.RAG

	closers []func() error
}

// setup loads config and wires the clients. withStorage opens the configured
// vector backend as well.
func setup(c *cli.Context, withStorage bool) (*app, error) {
	ctx := c.Context
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []func() error{closeLog}}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	if err := a.initLLM(ctx); err != nil {
		a.close()
		return nil, err
	}

	if withStorage {
		storage, err := vectorstore.Open(ctx, cfg.Storage, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		if storage != nil {
			a.storage = storage
			a.closers = append(a.closers, storage.Close)
		}
	}

	a.rag = usecase.NewRAG(a.embedder, a.text, a.storage, logger.Component(log, "rag"),
		usecase.WithDefaultNamespace(cfg.RAG.Namespace),
		usecase.WithContextLimit(cfg.RAG.TopK),
	)
	return a, nil
}

func (a *app) initLLM(ctx context.Context) error {
	b := a.cfg.Bedrock
	client, err := newRuntimeAPI(ctx, b)
	if err != nil {
		return err
	}

	dispatcher := llm.NewDispatcher(client, a.log,
		llm.WithRateLimit(b.RequestsPerSecond, b.Burst),
		llm.WithCircuitBreaker(b.CircuitBreaker),
		llm.WithStreamBuffer(b.StreamBuffer),
	)
	a.registry = llm.NewRegistry()
	builder := llm.NewBuilder(a.registry)

	a.text = llm.NewTextClient(dispatcher, builder, b.TextModel, a.log)
	a.images = llm.NewImageClient(dispatcher, builder, b.ImageModel, a.log)

	var emb embedding.Model = embedding.NewBedrockEmbedder(dispatcher, builder, a.cfg.Embedding.Model, a.log)
	if a.cfg.Embedding.CacheSize > 0 {
		emb = embedding.NewCachedEmbedder(emb, a.cfg.Embedding.CacheSize)
	}
	a.embedder = emb

	if b.CircuitBreaker.Enabled {
		a.log.Debug("bedrock circuit breaker enabled",
			"max_failures", b.CircuitBreaker.MaxFailures,
			"timeout", b.CircuitBreaker.Timeout,
		)
	}
	return nil
}

// close runs the closers in reverse order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp runs fn against a freshly wired app and releases it afterwards.
func withApp(withStorage bool, fn func(c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := setup(c, withStorage)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(c, a)
	}
}
