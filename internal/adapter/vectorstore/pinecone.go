package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

const (
	pineconeBackend = "pinecone"
	// Pinecone recommends upserts of at most 100 vectors per request.
	pineconeUpsertChunk = 100
)

// PineconeStore implements domain.VectorStorage over the Pinecone data-plane API.
// Content and timestamps ride along in vendor metadata.
type PineconeStore struct {
	rest   *restClient
	logger *slog.Logger
}

type pineconeVector struct {
	ID       string          `json:"id"`
	Values   []float32       `json:"values"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace"`
}

type pineconeQueryRequest struct {
	Vector          []float32       `json:"vector"`
	TopK            int             `json:"topK"`
	Namespace       string          `json:"namespace"`
	IncludeMetadata bool            `json:"includeMetadata"`
	IncludeValues   bool            `json:"includeValues"`
	Filter          domain.Metadata `json:"filter,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string          `json:"id"`
		Score    float64         `json:"score"`
		Values   []float32       `json:"values"`
		Metadata domain.Metadata `json:"metadata"`
	} `json:"matches"`
}

type pineconeFetchResponse struct {
	Vectors map[string]pineconeVector `json:"vectors"`
}

type pineconeDeleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace"`
}

type pineconeStatsResponse struct {
	Dimension        int   `json:"dimension"`
	TotalVectorCount int64 `json:"totalVectorCount"`
	Namespaces       map[string]struct {
		VectorCount int64 `json:"vectorCount"`
	} `json:"namespaces"`
}

// NewPineconeStore builds a client for the index described by cfg.Pinecone.
// An explicit Host wins over the host derived from index, project and environment.
func NewPineconeStore(cfg config.StorageConfig, logger *slog.Logger) (*PineconeStore, error) {
	pc := cfg.Pinecone
	if pc.APIKey == "" {
		return nil, domain.NewDomainError("NewPineconeStore", domain.ErrConfig, "api_key is required")
	}
	host := pc.Host
	if host == "" {
		if pc.Index == "" || pc.ProjectID == "" || pc.Environment == "" {
			return nil, domain.NewDomainError("NewPineconeStore", domain.ErrConfig,
				"index, project_id and environment are required when host is not set")
		}
		host = fmt.Sprintf("%s-%s.svc.%s.pinecone.io", pc.Index, pc.ProjectID, pc.Environment)
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	headers := http.Header{}
	headers.Set("Api-Key", pc.APIKey)
	return &PineconeStore{
		rest:   newRESTClient(pineconeBackend, host, headers, cfg, logger),
		logger: logger,
	}, nil
}

func (s *PineconeStore) upsert(ctx context.Context, ns string, recs []domain.VectorRecord) error {
	vectors := make([]pineconeVector, len(recs))
	for i, r := range recs {
		vectors[i] = pineconeVector{ID: r.ID, Values: r.Vector, Metadata: packMetadata(r)}
	}
	return s.rest.do(ctx, http.MethodPost, "/vectors/upsert",
		pineconeUpsertRequest{Vectors: vectors, Namespace: ns}, nil)
}

// Insert implements domain.VectorStorage. A rejection by Pinecone is reported
// as an unsuccessful result.
func (s *PineconeStore) Insert(ctx context.Context, in domain.VectorInsert) (_ *domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "insert")
	defer func() { endSpan(span, err) }()

	if in.ID == "" {
		in.ID = newID()
	}
	rec := recordFromInsert(in, now())
	if uerr := s.upsert(ctx, rec.Namespace, []domain.VectorRecord{rec}); uerr != nil {
		if msg, ok := serviceFailure(uerr); ok {
			return &domain.InsertResult{ID: in.ID, Message: "Insert failed: " + msg}, nil
		}
		return nil, uerr
	}
	return &domain.InsertResult{ID: in.ID, Success: true, Message: msgInserted}, nil
}

// InsertBatch implements domain.VectorStorage. Records are grouped by
// namespace and sent in chunks; a failed chunk marks only its own records.
func (s *PineconeStore) InsertBatch(ctx context.Context, ins []domain.VectorInsert) (_ []domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "insert_batch")
	defer func() { endSpan(span, err) }()

	ins = append([]domain.VectorInsert(nil), ins...)
	assignIDs(ins)
	ts := now()

	out := make([]domain.InsertResult, len(ins))
	groups := map[string][]int{}
	var order []string
	for i, in := range ins {
		ns := domain.NamespaceOr(in.Namespace)
		if _, ok := groups[ns]; !ok {
			order = append(order, ns)
		}
		groups[ns] = append(groups[ns], i)
	}

	for _, ns := range order {
		idxs := groups[ns]
		for start := 0; start < len(idxs); start += pineconeUpsertChunk {
			chunk := idxs[start:min(start+pineconeUpsertChunk, len(idxs))]
			recs := make([]domain.VectorRecord, len(chunk))
			for j, i := range chunk {
				recs[j] = recordFromInsert(ins[i], ts)
			}
			uerr := s.upsert(ctx, ns, recs)
			if uerr != nil {
				s.logger.Warn("pinecone upsert chunk failed", "namespace", ns, "count", len(chunk), "error", uerr)
			}
			for _, i := range chunk {
				if uerr != nil {
					out[i] = domain.InsertResult{ID: ins[i].ID, Message: "Batch insert failed: " + uerr.Error()}
				} else {
					out[i] = domain.InsertResult{ID: ins[i].ID, Success: true, Message: msgInserted}
				}
			}
		}
	}
	return out, nil
}

// Search implements domain.VectorStorage. Filters are passed through in
// Pinecone's native filter language.
func (s *PineconeStore) Search(ctx context.Context, q domain.VectorSearch) (_ *domain.VectorSearchResponse, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "search")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	var resp pineconeQueryResponse
	if err := s.rest.do(ctx, http.MethodPost, "/query", pineconeQueryRequest{
		Vector:          q.Vector,
		TopK:            searchLimit(q.Limit),
		Namespace:       domain.NamespaceOr(q.Namespace),
		IncludeMetadata: q.IncludeMetadata || q.IncludeContent,
		IncludeValues:   q.IncludeVectors,
		Filter:          q.Filter,
	}, &resp); err != nil {
		return nil, err
	}

	results := make([]domain.VectorSearchResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		r := domain.VectorSearchResult{ID: m.ID, Score: m.Score}
		meta, content := splitReserved(m.Metadata)
		if q.IncludeMetadata {
			r.Metadata = meta
		}
		if q.IncludeContent {
			r.Content = content
		}
		if q.IncludeVectors {
			r.Vector = m.Values
		}
		results = append(results, r)
	}
	sortByScore(results)
	return &domain.VectorSearchResponse{
		Results:    results,
		TotalFound: len(results),
		QueryTime:  time.Since(start),
	}, nil
}

func (s *PineconeStore) fetch(ctx context.Context, ids []string, ns string) (map[string]pineconeVector, error) {
	params := url.Values{"ids": ids, "namespace": {ns}}
	var resp pineconeFetchResponse
	if err := s.rest.do(ctx, http.MethodGet, "/vectors/fetch?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Vectors == nil {
		resp.Vectors = map[string]pineconeVector{}
	}
	return resp.Vectors, nil
}

// Get implements domain.VectorStorage.
func (s *PineconeStore) Get(ctx context.Context, id, namespace string) (_ *domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "get")
	defer func() { endSpan(span, err) }()

	ns := domain.NamespaceOr(namespace)
	vectors, err := s.fetch(ctx, []string{id}, ns)
	if err != nil {
		return nil, err
	}
	v, ok := vectors[id]
	if !ok {
		return nil, nil
	}
	rec := unpackRecord(id, v.Values, v.Metadata)
	rec.Namespace = ns
	return &rec, nil
}

// Update implements domain.VectorStorage as fetch, merge, upsert.
func (s *PineconeStore) Update(ctx context.Context, upd domain.VectorUpdate) (_ *domain.UpdateResult, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "update")
	defer func() { endSpan(span, err) }()

	rec, err := s.Get(ctx, upd.ID, upd.Namespace)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &domain.UpdateResult{ID: upd.ID, Message: msgNotFound}, nil
	}
	applyUpdate(rec, upd)
	if uerr := s.upsert(ctx, rec.Namespace, []domain.VectorRecord{*rec}); uerr != nil {
		if msg, ok := serviceFailure(uerr); ok {
			return &domain.UpdateResult{ID: upd.ID, Message: "Update failed: " + msg}, nil
		}
		return nil, uerr
	}
	return &domain.UpdateResult{ID: upd.ID, Success: true, Message: msgUpdated}, nil
}

// Delete implements domain.VectorStorage. Pinecone deletes are silent about
// missing ids, so existence is checked first.
func (s *PineconeStore) Delete(ctx context.Context, id, namespace string) (_ *domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "delete")
	defer func() { endSpan(span, err) }()

	out, err := s.deleteIDs(ctx, []string{id}, domain.NamespaceOr(namespace))
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// DeleteBatch implements domain.VectorStorage.
func (s *PineconeStore) DeleteBatch(ctx context.Context, ids []string, namespace string) (_ []domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "delete_batch")
	defer func() { endSpan(span, err) }()

	if len(ids) == 0 {
		return []domain.DeleteResult{}, nil
	}
	return s.deleteIDs(ctx, ids, domain.NamespaceOr(namespace))
}

func (s *PineconeStore) deleteIDs(ctx context.Context, ids []string, ns string) ([]domain.DeleteResult, error) {
	existing, err := s.fetch(ctx, ids, ns)
	if err != nil {
		return nil, err
	}
	var present []string
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) > 0 {
		if err := s.rest.do(ctx, http.MethodPost, "/vectors/delete",
			pineconeDeleteRequest{IDs: present, Namespace: ns}, nil); err != nil {
			if msg, ok := serviceFailure(err); ok {
				return batchDeletes(ids, false, "Delete failed: "+msg), nil
			}
			return nil, err
		}
	}

	out := make([]domain.DeleteResult, len(ids))
	for i, id := range ids {
		if _, ok := existing[id]; ok {
			out[i] = domain.DeleteResult{ID: id, Success: true, Message: msgDeleted}
		} else {
			out[i] = domain.DeleteResult{ID: id, Message: msgNotFound}
		}
	}
	return out, nil
}

// List implements domain.VectorStorage. Pinecone has no ordered scan, so the
// result is always empty.
func (s *PineconeStore) List(ctx context.Context, namespace string, _ int) ([]domain.VectorRecord, error) {
	s.logger.Warn(msgListNotNative, "backend", pineconeBackend, "namespace", domain.NamespaceOr(namespace))
	return []domain.VectorRecord{}, nil
}

func (s *PineconeStore) describe(ctx context.Context) (*pineconeStatsResponse, error) {
	var resp pineconeStatsResponse
	if err := s.rest.do(ctx, http.MethodPost, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats implements domain.VectorStorage.
func (s *PineconeStore) Stats(ctx context.Context, namespace string) (_ *domain.StorageStats, err error) {
	ctx, span := startSpan(ctx, pineconeBackend, "stats")
	defer func() { endSpan(span, err) }()

	resp, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}
	stats := &domain.StorageStats{
		TotalVectors: resp.TotalVectorCount,
		Namespaces:   make([]string, 0, len(resp.Namespaces)),
		Dimensions:   resp.Dimension,
	}
	for ns := range resp.Namespaces {
		stats.Namespaces = append(stats.Namespaces, ns)
	}
	sort.Strings(stats.Namespaces)
	if namespace != "" {
		stats.TotalVectors = resp.Namespaces[namespace].VectorCount
	}
	return stats, nil
}

// HealthCheck implements domain.VectorStorage.
func (s *PineconeStore) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := s.describe(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Capabilities implements domain.VectorStorage.
func (s *PineconeStore) Capabilities() domain.StorageCapabilities {
	return domain.StorageCapabilities{Namespaces: true, MetadataFilter: true}
}

// Name implements domain.VectorStorage.
func (s *PineconeStore) Name() string { return pineconeBackend }

// Close implements domain.VectorStorage.
func (s *PineconeStore) Close() error {
	s.rest.close()
	return nil
}

var _ domain.VectorStorage = (*PineconeStore)(nil)
