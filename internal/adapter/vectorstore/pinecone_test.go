package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

// fakePinecone is an in-memory Pinecone data plane.
type fakePinecone struct {
	mu      sync.Mutex
	vectors map[string]map[string]pineconeVector // namespace -> id -> vector
	failAll int                                  // non-zero: every request returns this status
	lastKey string
}

func newFakePinecone(t *testing.T) (*fakePinecone, *httptest.Server) {
	t.Helper()
	f := &fakePinecone{vectors: map[string]map[string]pineconeVector{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePinecone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastKey = r.Header.Get("Api-Key")
	if f.failAll != 0 {
		http.Error(w, "index is read-only", f.failAll)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/vectors/upsert":
		var req pineconeUpsertRequest
		json.NewDecoder(r.Body).Decode(&req)
		if f.vectors[req.Namespace] == nil {
			f.vectors[req.Namespace] = map[string]pineconeVector{}
		}
		for _, v := range req.Vectors {
			f.vectors[req.Namespace][v.ID] = v
		}
		json.NewEncoder(w).Encode(map[string]int{"upsertedCount": len(req.Vectors)})

	case r.Method == http.MethodPost && r.URL.Path == "/query":
		var req pineconeQueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		var matches []map[string]any
		for _, v := range f.vectors[req.Namespace] {
			m := map[string]any{"id": v.ID, "score": cosineSimilarity(req.Vector, v.Values)}
			if req.IncludeMetadata {
				m["metadata"] = v.Metadata
			}
			if req.IncludeValues {
				m["values"] = v.Values
			}
			matches = append(matches, m)
		}
		json.NewEncoder(w).Encode(map[string]any{"matches": matches})

	case r.Method == http.MethodGet && r.URL.Path == "/vectors/fetch":
		ns := r.URL.Query().Get("namespace")
		out := map[string]pineconeVector{}
		for _, id := range r.URL.Query()["ids"] {
			if v, ok := f.vectors[ns][id]; ok {
				out[id] = v
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": out, "namespace": ns})

	case r.Method == http.MethodPost && r.URL.Path == "/vectors/delete":
		var req pineconeDeleteRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.IDs {
			delete(f.vectors[req.Namespace], id)
		}
		w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && r.URL.Path == "/describe_index_stats":
		total := 0
		namespaces := map[string]any{}
		for ns, vs := range f.vectors {
			total += len(vs)
			namespaces[ns] = map[string]int{"vectorCount": len(vs)}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"dimension":        3,
			"totalVectorCount": total,
			"namespaces":       namespaces,
		})

	default:
		http.NotFound(w, r)
	}
}

func newTestPinecone(t *testing.T) (*PineconeStore, *fakePinecone) {
	t.Helper()
	f, srv := newFakePinecone(t)
	s, err := NewPineconeStore(config.StorageConfig{
		Pinecone: config.PineconeConfig{APIKey: "pc-key", Host: srv.URL},
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, f
}

func TestNewPineconeStoreConfig(t *testing.T) {
	_, err := NewPineconeStore(config.StorageConfig{}, discardLogger())
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewPineconeStore(config.StorageConfig{
		Pinecone: config.PineconeConfig{APIKey: "k", Index: "idx"},
	}, discardLogger())
	assert.ErrorIs(t, err, domain.ErrConfig)

	s, err := NewPineconeStore(config.StorageConfig{
		Pinecone: config.PineconeConfig{APIKey: "k", Index: "idx", ProjectID: "p1", Environment: "us-west1-gcp"},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://idx-p1.svc.us-west1-gcp.pinecone.io", s.rest.baseURL)
}

func TestPineconeInsertGetRoundTrip(t *testing.T) {
	s, f := newTestPinecone(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, domain.VectorInsert{
		ID:       "v1",
		Vector:   []float32{0.1, 0.2, 0.3},
		Metadata: domain.Metadata{"k": "v"},
		Content:  "hello",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pc-key", f.lastKey)

	rec, err := s.Get(ctx, "v1", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, rec.Vector)
	assert.Equal(t, domain.Metadata{"k": "v"}, rec.Metadata)
	assert.Equal(t, "hello", rec.Content)
	assert.Equal(t, domain.DefaultNamespace, rec.Namespace)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.UpdatedAt)

	stored := f.vectors["default"]["v1"].Metadata
	assert.Equal(t, "hello", stored[metaContent])
	assert.Equal(t, "default", stored[metaNamespace])
}

func TestPineconeGetMissing(t *testing.T) {
	s, _ := newTestPinecone(t)

	rec, err := s.Get(context.Background(), "nope", "docs")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPineconeSearchSortedAndStripped(t *testing.T) {
	s, _ := newTestPinecone(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []domain.VectorInsert{
		{ID: "far", Vector: []float32{0, 1, 0}, Content: "far"},
		{ID: "near", Vector: []float32{1, 0, 0}, Metadata: domain.Metadata{"tag": "a"}, Content: "near"},
		{ID: "mid", Vector: []float32{1, 1, 0}},
	})
	require.NoError(t, err)

	resp, err := s.Search(ctx, domain.VectorSearch{
		Vector:          []float32{1, 0, 0},
		IncludeMetadata: true,
		IncludeContent:  true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "near", resp.Results[0].ID)
	assert.Equal(t, "mid", resp.Results[1].ID)
	assert.Equal(t, "far", resp.Results[2].ID)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
	assert.Equal(t, domain.Metadata{"tag": "a"}, resp.Results[0].Metadata)
	assert.Equal(t, "near", resp.Results[0].Content)
	assert.Nil(t, resp.Results[0].Vector)
}

func TestPineconeInsertBatchGroupsNamespaces(t *testing.T) {
	s, f := newTestPinecone(t)

	out, err := s.InsertBatch(context.Background(), []domain.VectorInsert{
		{ID: "a", Vector: []float32{1}, Namespace: "one"},
		{ID: "b", Vector: []float32{1}, Namespace: "two"},
		{Vector: []float32{1}, Namespace: "one"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, r := range out {
		assert.True(t, r.Success)
		assert.NotEmpty(t, r.ID)
	}
	assert.Len(t, f.vectors["one"], 2)
	assert.Len(t, f.vectors["two"], 1)
}

func TestPineconeUpdateMerges(t *testing.T) {
	s, _ := newTestPinecone(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, domain.VectorInsert{ID: "u", Vector: []float32{1, 2}, Metadata: domain.Metadata{"a": "1", "b": "2"}})
	require.NoError(t, err)

	res, err := s.Update(ctx, domain.VectorUpdate{ID: "u", Metadata: domain.Metadata{"b": "3"}})
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := s.Get(ctx, "u", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{"a": "1", "b": "3"}, rec.Metadata)
	assert.Equal(t, []float32{1, 2}, rec.Vector)
	assert.NotNil(t, rec.UpdatedAt)

	res, err = s.Update(ctx, domain.VectorUpdate{ID: "ghost"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, msgNotFound, res.Message)
}

func TestPineconeDelete(t *testing.T) {
	s, f := newTestPinecone(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, domain.VectorInsert{ID: "d", Vector: []float32{1}})
	require.NoError(t, err)

	out, err := s.DeleteBatch(ctx, []string{"d", "missing"}, "")
	require.NoError(t, err)
	assert.True(t, out[0].Success)
	assert.False(t, out[1].Success)
	assert.Empty(t, f.vectors["default"])

	res, err := s.Delete(ctx, "d", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPineconeListIsEmpty(t *testing.T) {
	s, _ := newTestPinecone(t)

	_, err := s.Insert(context.Background(), domain.VectorInsert{ID: "x", Vector: []float32{1}})
	require.NoError(t, err)

	out, err := s.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.False(t, s.Capabilities().NativeList)
}

func TestPineconeStats(t *testing.T) {
	s, _ := newTestPinecone(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []domain.VectorInsert{
		{ID: "a", Vector: []float32{1, 2, 3}, Namespace: "b-ns"},
		{ID: "b", Vector: []float32{1, 2, 3}, Namespace: "a-ns"},
		{ID: "c", Vector: []float32{1, 2, 3}, Namespace: "a-ns"},
	})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalVectors)
	assert.Equal(t, 3, stats.Dimensions)
	assert.Equal(t, []string{"a-ns", "b-ns"}, stats.Namespaces)

	stats, err = s.Stats(ctx, "a-ns")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalVectors)

	ok, err := s.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPineconeServiceFailures(t *testing.T) {
	s, f := newTestPinecone(t)
	f.failAll = http.StatusForbidden
	ctx := context.Background()

	res, err := s.Insert(ctx, domain.VectorInsert{ID: "x", Vector: []float32{1}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Insert failed: index is read-only")

	_, err = s.Search(ctx, domain.VectorSearch{Vector: []float32{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrService)

	var se *domain.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)

	ok, err := s.HealthCheck(ctx)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestPineconeTransportFailure(t *testing.T) {
	s, err := NewPineconeStore(config.StorageConfig{
		Pinecone: config.PineconeConfig{APIKey: "k", Host: "http://127.0.0.1:1"},
	}, discardLogger())
	require.NoError(t, err)

	_, err = s.Insert(context.Background(), domain.VectorInsert{ID: "x", Vector: []float32{1}})
	assert.ErrorIs(t, err, domain.ErrTransport)
}
