package domain

import (
	"context"
	"time"
)

// DefaultNamespace is used when a record or query names no namespace.
const DefaultNamespace = "default"

// Metadata is a JSON-valued, string-keyed attribute map.
type Metadata map[string]any

// VectorRecord is a stored vector with its attributes.
type VectorRecord struct {
	ID        string     `json:"id"`
	Vector    []float32  `json:"vector"`
	Metadata  Metadata   `json:"metadata"`
	Content   string     `json:"content,omitempty"`
	Namespace string     `json:"namespace"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// VectorInsert describes a record to upsert. An empty ID is assigned by the backend.
type VectorInsert struct {
	ID        string    `json:"id,omitempty"`
	Vector    []float32 `json:"vector"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Content   string    `json:"content,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
}

// VectorUpdate describes a partial update. Nil fields are left unchanged;
// Metadata is merged into the stored metadata. Namespace scopes the lookup.
type VectorUpdate struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Content   *string   `json:"content,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
}

// VectorSearch is a similarity query.
type VectorSearch struct {
	Vector          []float32 `json:"vector"`
	Limit           int       `json:"limit"`
	Namespace       string    `json:"namespace,omitempty"`
	Filter          Metadata  `json:"filter,omitempty"`
	IncludeMetadata bool      `json:"include_metadata"`
	IncludeContent  bool      `json:"include_content"`
	IncludeVectors  bool      `json:"include_vectors"`
}

// VectorSearchResult is one match. Score is a similarity: higher is closer.
type VectorSearchResult struct {
	ID       string    `json:"id"`
	Score    float64   `json:"score"`
	Vector   []float32 `json:"vector,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`
	Content  string    `json:"content,omitempty"`
}

// VectorSearchResponse holds results in non-increasing score order.
type VectorSearchResponse struct {
	Results    []VectorSearchResult `json:"results"`
	TotalFound int                  `json:"total_found"`
	QueryTime  time.Duration        `json:"query_time_ms"`
}

// InsertResult reports the outcome of one upsert.
type InsertResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UpdateResult reports the outcome of one update. Success is false when the id was not found.
type UpdateResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DeleteResult reports the outcome of one delete. Success is false when the id was not found.
type DeleteResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// StorageStats summarizes a backend.
type StorageStats struct {
	TotalVectors     int64    `json:"total_vectors"`
	Namespaces       []string `json:"namespaces"`
	Dimensions       int      `json:"dimensions,omitempty"`
	StorageSizeBytes int64    `json:"storage_size_bytes,omitempty"`
}

// StorageCapabilities lists what a backend can do natively.
type StorageCapabilities struct {
	NativeList     bool
	Namespaces     bool
	PartialUpdate  bool
	MetadataFilter bool
}

// VectorStorage is implemented by every vector backend. Implementations are
// safe for concurrent use.
type VectorStorage interface {
	Insert(ctx context.Context, rec VectorInsert) (*InsertResult, error)
	InsertBatch(ctx context.Context, recs []VectorInsert) ([]InsertResult, error)
	Search(ctx context.Context, q VectorSearch) (*VectorSearchResponse, error)
	// Get returns nil, nil when no record matches.
	Get(ctx context.Context, id, namespace string) (*VectorRecord, error)
	Update(ctx context.Context, upd VectorUpdate) (*UpdateResult, error)
	Delete(ctx context.Context, id, namespace string) (*DeleteResult, error)
	DeleteBatch(ctx context.Context, ids []string, namespace string) ([]DeleteResult, error)
	// List returns an empty slice on backends without a native scan.
	List(ctx context.Context, namespace string, limit int) ([]VectorRecord, error)
	Stats(ctx context.Context, namespace string) (*StorageStats, error)
	HealthCheck(ctx context.Context) (bool, error)
	Capabilities() StorageCapabilities
	Name() string
	Close() error
}

// NamespaceOr returns ns, or DefaultNamespace when ns is empty.
func NamespaceOr(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
