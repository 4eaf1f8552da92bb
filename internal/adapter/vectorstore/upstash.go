package vectorstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

const upstashBackend = "upstash"

// upstashFieldRe matches metadata paths Upstash's filter grammar accepts unquoted.
var upstashFieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// UpstashStore implements domain.VectorStorage over the Upstash Vector REST API.
// Upstash indexes have no namespaces here: the namespace is a metadata key and
// every query is scoped with a filter on it.
type UpstashStore struct {
	rest   *restClient
	logger *slog.Logger
}

type upstashVector struct {
	ID       string          `json:"id"`
	Vector   []float32       `json:"vector,omitempty"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

type upstashQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeVectors  bool      `json:"includeVectors"`
	Filter          string    `json:"filter,omitempty"`
}

type upstashMatch struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Vector   []float32       `json:"vector"`
	Metadata domain.Metadata `json:"metadata"`
}

type upstashFetchRequest struct {
	IDs             []string `json:"ids"`
	IncludeMetadata bool     `json:"includeMetadata"`
	IncludeVectors  bool     `json:"includeVectors"`
}

type upstashDeleteRequest struct {
	IDs []string `json:"ids"`
}

type upstashInfo struct {
	VectorCount int64 `json:"vectorCount"`
	Dimension   int   `json:"dimension"`
}

// upstashEnvelope is the {"result": ...} wrapper on every Upstash response.
type upstashEnvelope[T any] struct {
	Result T `json:"result"`
}

// NewUpstashStore builds a client from cfg.Upstash.
func NewUpstashStore(cfg config.StorageConfig, logger *slog.Logger) (*UpstashStore, error) {
	up := cfg.Upstash
	if up.URL == "" || up.Token == "" {
		return nil, domain.NewDomainError("NewUpstashStore", domain.ErrConfig, "url and token are required")
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+up.Token)
	return &UpstashStore{
		rest:   newRESTClient(upstashBackend, up.URL, headers, cfg, logger),
		logger: logger,
	}, nil
}

func toUpstashVector(rec domain.VectorRecord) upstashVector {
	return upstashVector{ID: rec.ID, Vector: rec.Vector, Metadata: packMetadata(rec)}
}

// Insert implements domain.VectorStorage.
func (s *UpstashStore) Insert(ctx context.Context, in domain.VectorInsert) (_ *domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "insert")
	defer func() { endSpan(span, err) }()

	if in.ID == "" {
		in.ID = newID()
	}
	rec := recordFromInsert(in, now())
	if uerr := s.rest.do(ctx, http.MethodPost, "/upsert", toUpstashVector(rec), nil); uerr != nil {
		if msg, ok := serviceFailure(uerr); ok {
			return &domain.InsertResult{ID: in.ID, Message: "Insert failed: " + msg}, nil
		}
		return nil, uerr
	}
	return &domain.InsertResult{ID: in.ID, Success: true, Message: msgInserted}, nil
}

// InsertBatch implements domain.VectorStorage in one request.
func (s *UpstashStore) InsertBatch(ctx context.Context, ins []domain.VectorInsert) (_ []domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "insert_batch")
	defer func() { endSpan(span, err) }()

	if len(ins) == 0 {
		return []domain.InsertResult{}, nil
	}
	ins = append([]domain.VectorInsert(nil), ins...)
	assignIDs(ins)
	ts := now()

	vectors := make([]upstashVector, len(ins))
	for i, in := range ins {
		vectors[i] = toUpstashVector(recordFromInsert(in, ts))
	}
	if uerr := s.rest.do(ctx, http.MethodPost, "/upsert-batch", vectors, nil); uerr != nil {
		s.logger.Warn("upstash batch upsert failed", "count", len(ins), "error", uerr)
		msg, ok := serviceFailure(uerr)
		if !ok {
			msg = uerr.Error()
		}
		return failedInserts(ins, "Batch insert failed: "+msg), nil
	}

	out := make([]domain.InsertResult, len(ins))
	for i, in := range ins {
		out[i] = domain.InsertResult{ID: in.ID, Success: true, Message: msgInserted}
	}
	return out, nil
}

// Search implements domain.VectorStorage. The metadata filter is translated to
// an Upstash filter expression and always scoped to the namespace.
func (s *UpstashStore) Search(ctx context.Context, q domain.VectorSearch) (_ *domain.VectorSearchResponse, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "search")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	filter, err := upstashFilter(domain.NamespaceOr(q.Namespace), q.Filter)
	if err != nil {
		return nil, err
	}

	var resp upstashEnvelope[[]upstashMatch]
	if err := s.rest.do(ctx, http.MethodPost, "/query", upstashQueryRequest{
		Vector:          q.Vector,
		TopK:            searchLimit(q.Limit),
		IncludeMetadata: q.IncludeMetadata || q.IncludeContent,
		IncludeVectors:  q.IncludeVectors,
		Filter:          filter,
	}, &resp); err != nil {
		return nil, err
	}

	results := make([]domain.VectorSearchResult, 0, len(resp.Result))
	for _, m := range resp.Result {
		r := domain.VectorSearchResult{ID: m.ID, Score: m.Score}
		meta, content := splitReserved(m.Metadata)
		if q.IncludeMetadata {
			r.Metadata = meta
		}
		if q.IncludeContent {
			r.Content = content
		}
		if q.IncludeVectors {
			r.Vector = m.Vector
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

// fetch returns the stored records for ids that exist in namespace.
func (s *UpstashStore) fetch(ctx context.Context, ids []string, ns string) (map[string]domain.VectorRecord, error) {
	var resp upstashEnvelope[[]*upstashVector]
	if err := s.rest.do(ctx, http.MethodPost, "/fetch", upstashFetchRequest{
		IDs:             ids,
		IncludeMetadata: true,
		IncludeVectors:  true,
	}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]domain.VectorRecord, len(resp.Result))
	for _, v := range resp.Result {
		if v == nil {
			continue
		}
		rec := unpackRecord(v.ID, v.Vector, v.Metadata)
		if rec.Namespace != ns {
			continue
		}
		out[v.ID] = rec
	}
	return out, nil
}

// Get implements domain.VectorStorage.
func (s *UpstashStore) Get(ctx context.Context, id, namespace string) (_ *domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "get")
	defer func() { endSpan(span, err) }()

	recs, err := s.fetch(ctx, []string{id}, domain.NamespaceOr(namespace))
	if err != nil {
		return nil, err
	}
	rec, ok := recs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Update implements domain.VectorStorage as fetch, merge, upsert.
func (s *UpstashStore) Update(ctx context.Context, upd domain.VectorUpdate) (_ *domain.UpdateResult, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "update")
	defer func() { endSpan(span, err) }()

	rec, err := s.Get(ctx, upd.ID, upd.Namespace)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &domain.UpdateResult{ID: upd.ID, Message: msgNotFound}, nil
	}
	applyUpdate(rec, upd)
	if uerr := s.rest.do(ctx, http.MethodPost, "/upsert", toUpstashVector(*rec), nil); uerr != nil {
		if msg, ok := serviceFailure(uerr); ok {
			return &domain.UpdateResult{ID: upd.ID, Message: "Update failed: " + msg}, nil
		}
		return nil, uerr
	}
	return &domain.UpdateResult{ID: upd.ID, Success: true, Message: msgUpdated}, nil
}

// Delete implements domain.VectorStorage.
func (s *UpstashStore) Delete(ctx context.Context, id, namespace string) (_ *domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "delete")
	defer func() { endSpan(span, err) }()

	out, err := s.deleteIDs(ctx, []string{id}, domain.NamespaceOr(namespace))
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// DeleteBatch implements domain.VectorStorage.
func (s *UpstashStore) DeleteBatch(ctx context.Context, ids []string, namespace string) (_ []domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "delete_batch")
	defer func() { endSpan(span, err) }()

	if len(ids) == 0 {
		return []domain.DeleteResult{}, nil
	}
	return s.deleteIDs(ctx, ids, domain.NamespaceOr(namespace))
}

// deleteIDs only deletes ids stored under ns so one namespace cannot remove
// another's records.
func (s *UpstashStore) deleteIDs(ctx context.Context, ids []string, ns string) ([]domain.DeleteResult, error) {
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
		if err := s.rest.do(ctx, http.MethodPost, "/delete", upstashDeleteRequest{IDs: present}, nil); err != nil {
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

// List implements domain.VectorStorage. Upstash has no ordered scan.
func (s *UpstashStore) List(ctx context.Context, namespace string, _ int) ([]domain.VectorRecord, error) {
	s.logger.Warn(msgListNotNative, "backend", upstashBackend, "namespace", domain.NamespaceOr(namespace))
	return []domain.VectorRecord{}, nil
}

func (s *UpstashStore) info(ctx context.Context) (*upstashInfo, error) {
	var resp upstashEnvelope[upstashInfo]
	if err := s.rest.do(ctx, http.MethodGet, "/info", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Stats implements domain.VectorStorage. Counts are index-wide; Upstash cannot
// count by metadata value.
func (s *UpstashStore) Stats(ctx context.Context, _ string) (_ *domain.StorageStats, err error) {
	ctx, span := startSpan(ctx, upstashBackend, "stats")
	defer func() { endSpan(span, err) }()

	info, err := s.info(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.StorageStats{
		TotalVectors: info.VectorCount,
		Namespaces:   []string{domain.DefaultNamespace},
		Dimensions:   info.Dimension,
	}, nil
}

// HealthCheck implements domain.VectorStorage.
func (s *UpstashStore) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := s.info(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Capabilities implements domain.VectorStorage.
func (s *UpstashStore) Capabilities() domain.StorageCapabilities {
	return domain.StorageCapabilities{MetadataFilter: true}
}

// Name implements domain.VectorStorage.
func (s *UpstashStore) Name() string { return upstashBackend }

// Close implements domain.VectorStorage.
func (s *UpstashStore) Close() error {
	s.rest.close()
	return nil
}

// upstashFilter renders an equality filter as an Upstash filter expression,
// e.g. namespace = 'docs' AND lang = 'go' AND year = 2024. Keys are sorted so
// the expression is deterministic.
func upstashFilter(namespace string, filter domain.Metadata) (string, error) {
	clauses := []string{metaNamespace + " = " + upstashQuote(namespace)}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !upstashFieldRe.MatchString(k) {
			return "", filterErr("UpstashStore.Search", upstashBackend, filter)
		}
		lit, ok := upstashLiteral(filter[k])
		if !ok {
			return "", filterErr("UpstashStore.Search", upstashBackend, filter)
		}
		clauses = append(clauses, k+" = "+lit)
	}
	return strings.Join(clauses, " AND "), nil
}

func upstashLiteral(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return upstashQuote(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func upstashQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

var _ domain.VectorStorage = (*UpstashStore)(nil)
