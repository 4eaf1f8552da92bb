package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"rgen/internal/domain"
	"rgen/internal/infra/tracer"
)

const defaultContextLimit = 5

const (
	contextPromptTemplate = "Context:\n%s\n\nQuestion: %s\n\nAnswer based on the provided context:"
	bareQuestionTemplate  = "Question: %s\n\nAnswer:"
)

// RAGOptions tunes one GenerateWithContext call. Zero values take the
// orchestrator's defaults.
type RAGOptions struct {
	Namespace      string
	ContextLimit   int
	Filter         domain.Metadata
	ModelID        string // generation model
	EmbeddingModel string
	MaxTokens      *int
	Temperature    *float64
}

// StoreOptions describes the record written by EmbedAndStore.
type StoreOptions struct {
	ID             string
	Namespace      string
	Metadata       domain.Metadata
	EmbeddingModel string
}

// SearchOptions tunes SemanticSearch.
type SearchOptions struct {
	Namespace      string
	Limit          int
	Filter         domain.Metadata
	EmbeddingModel string
	IncludeVectors bool
}

// RAGResult is the generated answer together with the context it was grounded on.
type RAGResult struct {
	*domain.GenerationResponse
	Sources []domain.VectorSearchResult `json:"sources"`
	Prompt  string                      `json:"-"`
}

// RAGOption configures a RAG orchestrator.
type RAGOption func(*RAG)

// WithDefaultNamespace sets the namespace used when a call leaves it empty.
func WithDefaultNamespace(ns string) RAGOption {
	return func(r *RAG) { r.namespace = ns }
}

// WithContextLimit sets how many records are retrieved by default.
func WithContextLimit(n int) RAGOption {
	return func(r *RAG) {
		if n > 0 {
			r.contextLimit = n
		}
	}
}

// RAG wires an embedder, a vector store and a text generator into
// retrieval-augmented generation. The store may be nil, in which case every
// storage-backed operation fails with domain.ErrNoStorage.
type RAG struct {
	embedder     domain.Embedder
	generator    domain.TextGenerator
	storage      domain.VectorStorage
	logger       *slog.Logger
	namespace    string
	contextLimit int
}

// NewRAG creates a RAG orchestrator.
func NewRAG(embedder domain.Embedder, generator domain.TextGenerator, storage domain.VectorStorage, logger *slog.Logger, opts ...RAGOption) *RAG {
	r := &RAG{
		embedder:     embedder,
		generator:    generator,
		storage:      storage,
		logger:       logger,
		contextLimit: defaultContextLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasStorage reports whether a vector backend is configured.
func (r *RAG) HasStorage() bool { return r.storage != nil }

// GenerateWithContext embeds query, retrieves the closest stored content and
// asks the generator to answer from it. When nothing is retrieved the bare
// question is sent instead.
func (r *RAG) GenerateWithContext(ctx context.Context, query string, opts RAGOptions) (res *RAGResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "rag.generate",
		trace.WithAttributes(tracer.StringAttr("rag.namespace", r.namespaceOr(opts.Namespace))),
	)
	defer func() { tracer.End(span, err) }()

	if r.storage == nil {
		return nil, domain.WrapOp("RAG.GenerateWithContext", domain.ErrNoStorage)
	}

	limit := opts.ContextLimit
	if limit <= 0 {
		limit = r.contextLimit
	}
	found, err := r.search(ctx, query, opts.EmbeddingModel, domain.VectorSearch{
		Limit:           limit,
		Namespace:       r.namespaceOr(opts.Namespace),
		Filter:          opts.Filter,
		IncludeMetadata: true,
		IncludeContent:  true,
	})
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, hit := range found.Results {
		if hit.Content != "" {
			parts = append(parts, hit.Content)
		}
	}
	span.SetAttributes(tracer.IntAttr("rag.context_docs", len(parts)))

	prompt := buildRAGPrompt(query, strings.Join(parts, "\n\n"))
	if len(parts) == 0 {
		r.logger.Warn("No relevant context found for query", "query", query)
	}

	resp, err := r.generator.Generate(ctx, domain.GenerationRequest{
		Prompt:      prompt,
		ModelID:     opts.ModelID,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("rag answer generated",
		"model", resp.Model,
		"context_docs", len(parts),
		"tokens_generated", resp.TokensGenerated,
	)
	return &RAGResult{GenerationResponse: resp, Sources: found.Results, Prompt: prompt}, nil
}

// EmbedAndStore embeds text and stores it, with the text as the record's content.
func (r *RAG) EmbedAndStore(ctx context.Context, text string, opts StoreOptions) (*domain.InsertResult, error) {
	if r.storage == nil {
		return nil, domain.WrapOp("RAG.EmbedAndStore", domain.ErrNoStorage)
	}
	emb, err := r.embedder.GenerateEmbedding(ctx, domain.EmbeddingRequest{Text: text, ModelID: opts.EmbeddingModel})
	if err != nil {
		return nil, err
	}
	return r.storage.Insert(ctx, domain.VectorInsert{
		ID:        opts.ID,
		Vector:    emb.Embedding,
		Metadata:  opts.Metadata,
		Content:   text,
		Namespace: r.namespaceOr(opts.Namespace),
	})
}

// SemanticSearch embeds query and returns the closest stored records with
// metadata and content.
func (r *RAG) SemanticSearch(ctx context.Context, query string, opts SearchOptions) (*domain.VectorSearchResponse, error) {
	if r.storage == nil {
		return nil, domain.WrapOp("RAG.SemanticSearch", domain.ErrNoStorage)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.contextLimit
	}
	return r.search(ctx, query, opts.EmbeddingModel, domain.VectorSearch{
		Limit:           limit,
		Namespace:       r.namespaceOr(opts.Namespace),
		Filter:          opts.Filter,
		IncludeMetadata: true,
		IncludeContent:  true,
		IncludeVectors:  opts.IncludeVectors,
	})
}

func (r *RAG) search(ctx context.Context, query, model string, q domain.VectorSearch) (*domain.VectorSearchResponse, error) {
	emb, err := r.embedder.GenerateEmbedding(ctx, domain.EmbeddingRequest{Text: query, ModelID: model})
	if err != nil {
		return nil, err
	}
	q.Vector = emb.Embedding
	return r.storage.Search(ctx, q)
}

func (r *RAG) namespaceOr(ns string) string {
	if ns != "" {
		return ns
	}
	return r.namespace
}

func buildRAGPrompt(query, retrieved string) string {
	if retrieved == "" {
		return fmt.Sprintf(bareQuestionTemplate, query)
	}
	return fmt.Sprintf(contextPromptTemplate, retrieved, query)
}
