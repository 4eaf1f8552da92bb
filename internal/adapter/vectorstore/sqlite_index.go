package vectorstore

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"rgen/internal/domain"
)

// vecIndex keeps every SQLite row in memory so searches avoid a table scan
// per query. It is loaded lazily on the first search and kept in step with
// writes afterwards.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]domain.VectorRecord
	loaded  bool
}

func newVecIndex() *vecIndex {
	return &vecIndex{entries: make(map[string]domain.VectorRecord)}
}

// search scores every record in namespace whose metadata matches filter and
// returns the best limit results, highest score first.
func (idx *vecIndex) search(query []float32, namespace string, filter domain.Metadata, limit int) []domain.VectorSearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := make([]domain.VectorSearchResult, 0, len(idx.entries))
	for _, rec := range idx.entries {
		if rec.Namespace != namespace || !matchesFilter(rec.Metadata, filter) {
			continue
		}
		candidates = append(candidates, domain.VectorSearchResult{
			ID:       rec.ID,
			Score:    cosineSimilarity(query, rec.Vector),
			Vector:   slices.Clone(rec.Vector),
			Metadata: cloneMetadata(rec.Metadata),
			Content:  rec.Content,
		})
	}

	// Map iteration is random; fix a base order so equal scores are stable.
	sortByID(candidates)
	sortByScore(candidates)

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func (idx *vecIndex) put(rec domain.VectorRecord) {
	idx.mu.Lock()
	if idx.loaded {
		idx.entries[rec.ID] = rec
	}
	idx.mu.Unlock()
}

func (idx *vecIndex) remove(id string) {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
}

func (idx *vecIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// loadFromDB populates the index once. Later calls are no-ops.
func (idx *vecIndex) loadFromDB(ctx context.Context, s *SQLiteStore) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.loaded {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, vector, metadata, content, namespace, created_at, updated_at FROM "+s.table)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]domain.VectorRecord)
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil || rec.Vector == nil {
			continue
		}
		entries[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.entries = entries
	idx.loaded = true
	return nil
}

// matchesFilter reports whether every key of filter is present in meta with
// an equal value.
func matchesFilter(meta, filter domain.Metadata) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
