package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

const createVectorsTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    vector     vector(%d),
    metadata   JSONB NOT NULL DEFAULT '{}',
    content    TEXT,
    namespace  TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ
)`

const createNamespaceIndexSQL = `CREATE INDEX IF NOT EXISTS %s ON %s (namespace)`

// ivfflat needs rows to build useful lists; on an empty table or an old
// pgvector it may fail, which is not fatal.
const createCosineIndexSQL = `CREATE INDEX IF NOT EXISTS %s ON %s
    USING ivfflat (vector vector_cosine_ops) WITH (lists = 100)`

// EnsureSchema creates the pgvector extension, the table and its indexes.
// A failure to build the ivfflat index is logged and ignored.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createExtensionSQL); err != nil {
		return internalErr("PostgresStore.EnsureSchema", fmt.Errorf("create extension: %w", err))
	}

	if _, err := s.db.Exec(ctx, fmt.Sprintf(createVectorsTableSQL, s.table, s.dims)); err != nil {
		return internalErr("PostgresStore.EnsureSchema", fmt.Errorf("create table: %w", err))
	}

	nsIdx := pgx.Identifier{"idx_" + s.rawTable + "_namespace"}.Sanitize()
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createNamespaceIndexSQL, nsIdx, s.table)); err != nil {
		return internalErr("PostgresStore.EnsureSchema", fmt.Errorf("create namespace index: %w", err))
	}

	vecIdx := pgx.Identifier{"idx_" + s.rawTable + "_vector"}.Sanitize()
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createCosineIndexSQL, vecIdx, s.table)); err != nil {
		s.logger.Warn("postgres: vector index not created", "table", s.rawTable, "error", err)
	}
	return nil
}
