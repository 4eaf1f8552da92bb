// Package vectorstore implements domain.VectorStorage over pgvector, SQLite,
// Pinecone and Upstash Vector. Every backend shares the same record
// semantics: ids are assigned when absent, inserts are upserts, updates merge
// metadata, and "not found" on update or delete is an unsuccessful result
// rather than an error.
package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"rgen/internal/domain"
	"rgen/internal/infra/tracer"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 100

	// Reserved metadata keys used by backends that keep everything in metadata.
	metaContent   = "content"
	metaNamespace = "namespace"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"

	msgInserted      = "Vector inserted successfully"
	msgUpdated       = "Vector updated successfully"
	msgDeleted       = "Vector deleted successfully"
	msgNotFound      = "Vector not found"
	msgListNotNative = "list is not supported natively by this backend, use search instead"
)

func newID() string { return uuid.NewString() }

func now() time.Time { return time.Now().UTC() }

// assignIDs fills missing ids in place so batch results can report them.
func assignIDs(recs []domain.VectorInsert) {
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = newID()
		}
	}
}

func searchLimit(n int) int {
	if n <= 0 {
		return defaultSearchLimit
	}
	return n
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// sortByScore orders results by descending score, keeping ties in input order.
func sortByScore(results []domain.VectorSearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func sortByID(results []domain.VectorSearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
}

// mergeMetadata returns a copy of base with every key of overlay applied on top.
func mergeMetadata(base, overlay domain.Metadata) domain.Metadata {
	out := make(domain.Metadata, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// cloneMetadata deep-copies the JSON-shaped values metadata can hold.
func cloneMetadata(md domain.Metadata) domain.Metadata {
	if md == nil {
		return nil
	}
	out := make(domain.Metadata, len(md))
	for k, v := range md {
		out[k] = cloneJSONValue(v)
	}
	return out
}

func cloneJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(cloneMetadata(t))
	case domain.Metadata:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSONValue(e)
		}
		return out
	default:
		return v
	}
}

// applyUpdate folds upd into rec the way every read-modify-upsert backend does.
func applyUpdate(rec *domain.VectorRecord, upd domain.VectorUpdate) {
	if upd.Vector != nil {
		rec.Vector = slices.Clone(upd.Vector)
	}
	if upd.Metadata != nil {
		rec.Metadata = mergeMetadata(rec.Metadata, upd.Metadata)
	}
	if upd.Content != nil {
		rec.Content = *upd.Content
	}
	t := now()
	rec.UpdatedAt = &t
}

func failedInserts(recs []domain.VectorInsert, msg string) []domain.InsertResult {
	out := make([]domain.InsertResult, len(recs))
	for i, r := range recs {
		out[i] = domain.InsertResult{ID: r.ID, Success: false, Message: msg}
	}
	return out
}

func batchDeletes(ids []string, success bool, msg string) []domain.DeleteResult {
	out := make([]domain.DeleteResult, len(ids))
	for i, id := range ids {
		out[i] = domain.DeleteResult{ID: id, Success: success, Message: msg}
	}
	return out
}

func internalErr(op string, err error) error {
	return domain.NewDomainError(op, domain.ErrInternal, err.Error())
}

func filterErr(op, backend string, filter domain.Metadata) error {
	return domain.NewDomainError(op, domain.ErrFilterUnsupported,
		fmt.Sprintf("%s cannot express filter %v", backend, filter))
}

// startSpan opens a "vectorstore.<op>" span tagged with the backend name.
func startSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "vectorstore."+op,
		trace.WithAttributes(tracer.StringAttr("vectorstore.backend", backend)),
	)
}

func endSpan(span trace.Span, err error) { tracer.End(span, err) }

// --- Vector math and codecs ---

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// formatVector renders v as a pgvector text literal, e.g. "[0.1,0.2]".
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
