package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"slices"
	"sync"

	"rgen/internal/domain"
)

type lruEntry struct {
	key   uint64
	vec   []float32
	model string
}

// CachedEmbedder wraps a Model with an LRU cache keyed by model and text.
type CachedEmbedder struct {
	inner   Model
	maxSize int

	mu    sync.Mutex
	cache map[uint64]*list.Element
	order *list.List // most recently used at back
}

// NewCachedEmbedder wraps inner with an LRU cache of maxSize entries.
// If maxSize <= 0, inner is returned unchanged.
func NewCachedEmbedder(inner Model, maxSize int) Model {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// GenerateEmbedding implements domain.Embedder.
func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	key := cacheKey(req.ModelID, req.Text)
	if e, ok := c.get(key); ok {
		return &domain.EmbeddingResponse{Embedding: e.vec, Model: e.model}, nil
	}

	resp, err := c.inner.GenerateEmbedding(ctx, req)
	if err != nil {
		return nil, err
	}
	c.put(key, resp.Embedding, resp.Model)
	return resp, nil
}

// Embed implements domain.EmbeddingProvider. Single-text calls are cached;
// batches pass through.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := cacheKey("", texts[0])
	if e, ok := c.get(key); ok {
		return [][]float32{e.vec}, nil
	}

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 1 {
		c.put(key, result[0], "")
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// cacheKey hashes model and text; an empty model means the inner default.
func cacheKey(model, text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

func (c *CachedEmbedder) get(key uint64) (lruEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[key]
	if !ok {
		return lruEntry{}, false
	}
	c.order.MoveToBack(elem)
	e := *elem.Value.(*lruEntry)
	e.vec = slices.Clone(e.vec)
	return e, true
}

// put stores a copy of vec; callers keep ownership of theirs.
func (c *CachedEmbedder) put(key uint64, vec []float32, model string) {
	vec = slices.Clone(vec)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		e := elem.Value.(*lruEntry)
		e.vec, e.model = vec, model
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}
	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec, model: model})
}

var _ Model = (*CachedEmbedder)(nil)
