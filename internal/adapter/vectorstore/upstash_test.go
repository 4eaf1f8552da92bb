package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

// fakeUpstash is an in-memory Upstash Vector index. Query filters are
// recorded but only the namespace clause is honored.
type fakeUpstash struct {
	mu         sync.Mutex
	vectors    map[string]upstashVector
	lastFilter string
	lastAuth   string
	failStatus int
	dropConn   bool
}

func newTestUpstash(t *testing.T) (*UpstashStore, *fakeUpstash) {
	t.Helper()
	f := &fakeUpstash{vectors: map[string]upstashVector{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := NewUpstashStore(config.StorageConfig{
		Upstash: config.UpstashConfig{URL: srv.URL, Token: "up-token"},
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, f
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastAuth = r.Header.Get("Authorization")
	if f.dropConn {
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			conn.Close()
		}
		return
	}
	if f.failStatus != 0 {
		w.WriteHeader(f.failStatus)
		json.NewEncoder(w).Encode(map[string]string{"error": "quota exceeded"})
		return
	}

	reply := func(v any) { json.NewEncoder(w).Encode(map[string]any{"result": v}) }

	switch r.URL.Path {
	case "/upsert":
		var v upstashVector
		json.NewDecoder(r.Body).Decode(&v)
		f.vectors[v.ID] = v
		reply("Success")

	case "/upsert-batch":
		var vs []upstashVector
		json.NewDecoder(r.Body).Decode(&vs)
		for _, v := range vs {
			f.vectors[v.ID] = v
		}
		reply("Success")

	case "/query":
		var req upstashQueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.lastFilter = req.Filter
		var out []map[string]any
		for _, v := range f.vectors {
			ns, _ := v.Metadata[metaNamespace].(string)
			if !strings.HasPrefix(req.Filter, "namespace = '"+ns+"'") {
				continue
			}
			m := map[string]any{"id": v.ID, "score": cosineSimilarity(req.Vector, v.Vector)}
			if req.IncludeMetadata {
				m["metadata"] = v.Metadata
			}
			if req.IncludeVectors {
				m["vector"] = v.Vector
			}
			out = append(out, m)
		}
		reply(out)

	case "/fetch":
		var req upstashFetchRequest
		json.NewDecoder(r.Body).Decode(&req)
		out := make([]any, len(req.IDs))
		for i, id := range req.IDs {
			if v, ok := f.vectors[id]; ok {
				out[i] = v
			}
		}
		reply(out)

	case "/delete":
		var req upstashDeleteRequest
		json.NewDecoder(r.Body).Decode(&req)
		n := 0
		for _, id := range req.IDs {
			if _, ok := f.vectors[id]; ok {
				delete(f.vectors, id)
				n++
			}
		}
		reply(map[string]int{"deleted": n})

	case "/info":
		reply(map[string]any{"vectorCount": len(f.vectors), "dimension": 2, "similarityFunction": "COSINE"})

	default:
		http.NotFound(w, r)
	}
}

func TestNewUpstashStoreConfig(t *testing.T) {
	_, err := NewUpstashStore(config.StorageConfig{Upstash: config.UpstashConfig{URL: "https://x"}}, discardLogger())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestUpstashInsertGetRoundTrip(t *testing.T) {
	s, f := newTestUpstash(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, domain.VectorInsert{
		ID:        "v1",
		Vector:    []float32{0.1, 0.2, 0.3},
		Metadata:  domain.Metadata{"k": "v"},
		Namespace: "docs",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Bearer up-token", f.lastAuth)

	rec, err := s.Get(ctx, "v1", "docs")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, rec.Vector)
	assert.Equal(t, domain.Metadata{"k": "v"}, rec.Metadata)
	assert.Equal(t, "docs", rec.Namespace)
	assert.False(t, rec.CreatedAt.IsZero())

	// Same id, other namespace.
	rec, err = s.Get(ctx, "v1", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpstashSearch(t *testing.T) {
	s, f := newTestUpstash(t)
	ctx := context.Background()

	out, err := s.InsertBatch(ctx, []domain.VectorInsert{
		{ID: "a", Vector: []float32{1, 0}, Content: "alpha"},
		{ID: "b", Vector: []float32{0.6, 0.8}},
		{ID: "c", Vector: []float32{1, 0}, Namespace: "other"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	resp, err := s.Search(ctx, domain.VectorSearch{
		Vector:         []float32{1, 0},
		Filter:         domain.Metadata{"lang": "go", "year": 2024},
		IncludeContent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "namespace = 'default' AND lang = 'go' AND year = 2024", f.lastFilter)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, "alpha", resp.Results[0].Content)
	assert.Nil(t, resp.Results[0].Metadata)
}

func TestUpstashFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  domain.Metadata
		want    string
		wantErr bool
	}{
		{name: "namespace only", want: "namespace = 'ns'"},
		{name: "string", filter: domain.Metadata{"genre": "sci-fi"}, want: "namespace = 'ns' AND genre = 'sci-fi'"},
		{name: "quote escaped", filter: domain.Metadata{"t": "it's"}, want: `namespace = 'ns' AND t = 'it\'s'`},
		{name: "number and bool", filter: domain.Metadata{"n": 1.5, "ok": true}, want: "namespace = 'ns' AND n = 1.5 AND ok = true"},
		{name: "nested path", filter: domain.Metadata{"geo.city": "Oslo"}, want: "namespace = 'ns' AND geo.city = 'Oslo'"},
		{name: "operator key", filter: domain.Metadata{"$or": []any{}}, wantErr: true},
		{name: "object value", filter: domain.Metadata{"n": map[string]any{"$gt": 1}}, wantErr: true},
		{name: "null value", filter: domain.Metadata{"n": nil}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := upstashFilter("ns", tt.filter)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrFilterUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpstashSearchUnsupportedFilter(t *testing.T) {
	s, f := newTestUpstash(t)

	_, err := s.Search(context.Background(), domain.VectorSearch{
		Vector: []float32{1},
		Filter: domain.Metadata{"tags": []any{"a", "b"}},
	})
	assert.ErrorIs(t, err, domain.ErrFilterUnsupported)
	assert.Empty(t, f.lastFilter, "request must not be sent")
}

func TestUpstashUpdateAndDelete(t *testing.T) {
	s, f := newTestUpstash(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, domain.VectorInsert{ID: "u", Vector: []float32{1, 1}, Content: "old"})
	require.NoError(t, err)

	content := "new"
	res, err := s.Update(ctx, domain.VectorUpdate{ID: "u", Content: &content, Vector: []float32{2, 2}})
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := s.Get(ctx, "u", "")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Content)
	assert.Equal(t, []float32{2, 2}, rec.Vector)
	assert.NotNil(t, rec.UpdatedAt)

	// Delete scoped to the wrong namespace leaves the record alone.
	del, err := s.Delete(ctx, "u", "elsewhere")
	require.NoError(t, err)
	assert.False(t, del.Success)
	assert.Contains(t, f.vectors, "u")

	del, err = s.Delete(ctx, "u", "")
	require.NoError(t, err)
	assert.True(t, del.Success)
	assert.NotContains(t, f.vectors, "u")
}

func TestUpstashListStatsHealth(t *testing.T) {
	s, _ := newTestUpstash(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, domain.VectorInsert{ID: "a", Vector: []float32{1, 2}})
	require.NoError(t, err)

	list, err := s.List(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalVectors)
	assert.Equal(t, 2, stats.Dimensions)
	assert.Equal(t, []string{"default"}, stats.Namespaces)

	ok, err := s.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "upstash", s.Name())
}

func TestUpstashBatchRejected(t *testing.T) {
	s, f := newTestUpstash(t)
	f.failStatus = http.StatusTooManyRequests

	out, err := s.InsertBatch(context.Background(), []domain.VectorInsert{
		{ID: "a", Vector: []float32{1}},
		{ID: "b", Vector: []float32{1}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.False(t, r.Success)
		assert.Contains(t, r.Message, "quota exceeded")
	}

	_, err = s.Stats(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestUpstashBatchTransportFailure(t *testing.T) {
	s, f := newTestUpstash(t)
	f.dropConn = true

	out, err := s.InsertBatch(context.Background(), []domain.VectorInsert{
		{ID: "a", Vector: []float32{1}},
		{Vector: []float32{1}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.NotEmpty(t, out[1].ID)
	for _, r := range out {
		assert.False(t, r.Success)
		assert.True(t, strings.HasPrefix(r.Message, "Batch insert failed: "), r.Message)
	}

	_, err = s.Stats(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrTransport)
}
