package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

const (
	defaultPostgresTable = "vectors"
	postgresBackend      = "postgres"
)

// Querier is the subset of pgx used by PostgresStore. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxQuerier adds transactions. Batch inserts are atomic when the store's
// Querier implements it.
type TxQuerier interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements domain.VectorStorage on PostgreSQL with pgvector.
// Vectors travel as text literals cast with ::vector, so no pgvector Go
// bindings are needed. Concurrency is handled by the pool.
type PostgresStore struct {
	db       Querier
	table    string // sanitized identifier
	rawTable string
	dims     int
	logger   *slog.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTable overrides the table name. The name is sanitized with pgx.Identifier.
func WithTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		if name != "" {
			s.rawTable = name
			s.table = pgx.Identifier{name}.Sanitize()
		}
	}
}

// WithDimensions sets the vector column size used by EnsureSchema and reported by Stats
// when the table is empty.
func WithDimensions(n int) PostgresOption {
	return func(s *PostgresStore) { s.dims = n }
}

// NewPostgresStore wraps db. Call EnsureSchema before first use on a fresh database.
func NewPostgresStore(db Querier, logger *slog.Logger, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:       db,
		table:    pgx.Identifier{defaultPostgresTable}.Sanitize(),
		rawTable: defaultPostgresTable,
		dims:     1536,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgres connects a pool from cfg and bootstraps the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, domain.NewDomainError("OpenPostgres", domain.ErrConfig, err.Error())
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, internalErr("OpenPostgres", err)
	}

	s := NewPostgresStore(pool, logger, WithTable(cfg.Table), WithDimensions(cfg.Dimensions))
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Insert implements domain.VectorStorage.
func (s *PostgresStore) Insert(ctx context.Context, rec domain.VectorInsert) (res *domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "insert")
	defer func() { endSpan(span, err) }()

	if rec.ID == "" {
		rec.ID = newID()
	}
	if err := s.upsert(ctx, s.db, rec, now()); err != nil {
		return nil, internalErr("PostgresStore.Insert", err)
	}
	return &domain.InsertResult{ID: rec.ID, Success: true, Message: msgInserted}, nil
}

// InsertBatch implements domain.VectorStorage. With a transactional Querier the
// batch is all-or-nothing and a failure marks every record failed.
func (s *PostgresStore) InsertBatch(ctx context.Context, recs []domain.VectorInsert) (_ []domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "insert_batch")
	defer func() { endSpan(span, err) }()

	if len(recs) == 0 {
		return []domain.InsertResult{}, nil
	}
	recs = append([]domain.VectorInsert(nil), recs...)
	assignIDs(recs)
	ts := now()

	txDB, ok := s.db.(TxQuerier)
	if !ok {
		out := make([]domain.InsertResult, len(recs))
		for i, r := range recs {
			out[i] = domain.InsertResult{ID: r.ID, Success: true, Message: msgInserted}
			if uerr := s.upsert(ctx, s.db, r, ts); uerr != nil {
				out[i] = domain.InsertResult{ID: r.ID, Message: "Insert failed: " + uerr.Error()}
			}
		}
		return out, nil
	}

	if terr := s.insertTx(ctx, txDB, recs, ts); terr != nil {
		s.logger.Warn("postgres batch insert failed", "count", len(recs), "error", terr)
		return failedInserts(recs, "Batch insert failed: "+terr.Error()), nil
	}
	out := make([]domain.InsertResult, len(recs))
	for i, r := range recs {
		out[i] = domain.InsertResult{ID: r.ID, Success: true, Message: msgInserted}
	}
	return out, nil
}

func (s *PostgresStore) insertTx(ctx context.Context, db TxQuerier, recs []domain.VectorInsert, ts time.Time) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, r := range recs {
		if err := s.upsert(ctx, tx, r, ts); err != nil {
			return fmt.Errorf("upsert %q: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) upsert(ctx context.Context, db Querier, rec domain.VectorInsert, ts time.Time) error {
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, vector, metadata, content, namespace, created_at)
		VALUES ($1, $2::vector, $3::jsonb, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			vector     = EXCLUDED.vector,
			metadata   = EXCLUDED.metadata,
			content    = EXCLUDED.content,
			namespace  = EXCLUDED.namespace,
			updated_at = EXCLUDED.created_at`, s.table)

	_, err = db.Exec(ctx, query,
		rec.ID,
		formatVector(rec.Vector),
		meta,
		nullableString(rec.Content),
		domain.NamespaceOr(rec.Namespace),
		ts,
	)
	return err
}

// Search implements domain.VectorStorage. Filters are matched with jsonb containment.
func (s *PostgresStore) Search(ctx context.Context, q domain.VectorSearch) (_ *domain.VectorSearchResponse, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "search")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	args := []any{formatVector(q.Vector), domain.NamespaceOr(q.Namespace)}
	where := "namespace = $2"
	if len(q.Filter) > 0 {
		f, ferr := marshalMetadata(q.Filter)
		if ferr != nil {
			return nil, domain.NewDomainError("PostgresStore.Search", domain.ErrRequest, ferr.Error())
		}
		args = append(args, f)
		where += fmt.Sprintf(" AND metadata @> $%d::jsonb", len(args))
	}
	args = append(args, searchLimit(q.Limit))

	query := fmt.Sprintf(`SELECT id, vector::text, metadata, content, 1 - (vector <=> $1::vector) AS score
		FROM %s WHERE %s
		ORDER BY vector <=> $1::vector
		LIMIT $%d`, s.table, where, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, internalErr("PostgresStore.Search", err)
	}
	defer rows.Close()

	results := []domain.VectorSearchResult{}
	for rows.Next() {
		var (
			id, vecText string
			meta        []byte
			content     *string
			score       float64
		)
		if err := rows.Scan(&id, &vecText, &meta, &content, &score); err != nil {
			return nil, internalErr("PostgresStore.Search", err)
		}
		r := domain.VectorSearchResult{ID: id, Score: score}
		if q.IncludeMetadata {
			r.Metadata = s.decodeMetadata(id, meta)
		}
		if q.IncludeContent && content != nil {
			r.Content = *content
		}
		if q.IncludeVectors {
			if r.Vector, err = parseVector(vecText); err != nil {
				return nil, internalErr("PostgresStore.Search", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("PostgresStore.Search", err)
	}

	sortByScore(results)
	return &domain.VectorSearchResponse{
		Results:    results,
		TotalFound: len(results),
		QueryTime:  time.Since(start),
	}, nil
}

// Get implements domain.VectorStorage.
func (s *PostgresStore) Get(ctx context.Context, id, namespace string) (_ *domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "get")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`SELECT id, vector::text, metadata, content, namespace, created_at, updated_at
		FROM %s WHERE id = $1 AND namespace = $2`, s.table)

	rec, err := s.scanRecord(s.db.QueryRow(ctx, query, id, domain.NamespaceOr(namespace)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("PostgresStore.Get", err)
	}
	return &rec, nil
}

// Update implements domain.VectorStorage with a native partial UPDATE.
// Metadata is merged with jsonb concatenation.
func (s *PostgresStore) Update(ctx context.Context, upd domain.VectorUpdate) (_ *domain.UpdateResult, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "update")
	defer func() { endSpan(span, err) }()

	args := []any{upd.ID, domain.NamespaceOr(upd.Namespace), now()}
	sets := []string{"updated_at = $3"}
	if upd.Vector != nil {
		args = append(args, formatVector(upd.Vector))
		sets = append(sets, fmt.Sprintf("vector = $%d::vector", len(args)))
	}
	if upd.Metadata != nil {
		meta, merr := marshalMetadata(upd.Metadata)
		if merr != nil {
			return nil, domain.NewDomainError("PostgresStore.Update", domain.ErrRequest, merr.Error())
		}
		args = append(args, meta)
		sets = append(sets, fmt.Sprintf("metadata = metadata || $%d::jsonb", len(args)))
	}
	if upd.Content != nil {
		args = append(args, *upd.Content)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND namespace = $2`, s.table, strings.Join(sets, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, internalErr("PostgresStore.Update", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.UpdateResult{ID: upd.ID, Success: false, Message: msgNotFound}, nil
	}
	return &domain.UpdateResult{ID: upd.ID, Success: true, Message: msgUpdated}, nil
}

// Delete implements domain.VectorStorage.
func (s *PostgresStore) Delete(ctx context.Context, id, namespace string) (_ *domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "delete")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND namespace = $2`, s.table)
	tag, err := s.db.Exec(ctx, query, id, domain.NamespaceOr(namespace))
	if err != nil {
		return nil, internalErr("PostgresStore.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.DeleteResult{ID: id, Success: false, Message: msgNotFound}, nil
	}
	return &domain.DeleteResult{ID: id, Success: true, Message: msgDeleted}, nil
}

// DeleteBatch implements domain.VectorStorage in one statement; ids that did
// not exist are reported as not found.
func (s *PostgresStore) DeleteBatch(ctx context.Context, ids []string, namespace string) (_ []domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "delete_batch")
	defer func() { endSpan(span, err) }()

	if len(ids) == 0 {
		return []domain.DeleteResult{}, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND id = ANY($2) RETURNING id`, s.table)
	rows, err := s.db.Query(ctx, query, domain.NamespaceOr(namespace), ids)
	if err != nil {
		return nil, internalErr("PostgresStore.DeleteBatch", err)
	}
	defer rows.Close()

	deleted := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, internalErr("PostgresStore.DeleteBatch", err)
		}
		deleted[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("PostgresStore.DeleteBatch", err)
	}

	out := make([]domain.DeleteResult, len(ids))
	for i, id := range ids {
		if deleted[id] {
			out[i] = domain.DeleteResult{ID: id, Success: true, Message: msgDeleted}
		} else {
			out[i] = domain.DeleteResult{ID: id, Success: false, Message: msgNotFound}
		}
	}
	return out, nil
}

// List implements domain.VectorStorage, newest first.
func (s *PostgresStore) List(ctx context.Context, namespace string, limit int) (_ []domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "list")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`SELECT id, vector::text, metadata, content, namespace, created_at, updated_at
		FROM %s WHERE namespace = $1 ORDER BY created_at DESC LIMIT $2`, s.table)

	rows, err := s.db.Query(ctx, query, domain.NamespaceOr(namespace), listLimit(limit))
	if err != nil {
		return nil, internalErr("PostgresStore.List", err)
	}
	defer rows.Close()

	out := []domain.VectorRecord{}
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, internalErr("PostgresStore.List", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("PostgresStore.List", err)
	}
	return out, nil
}

// Stats implements domain.VectorStorage. An empty namespace counts every record.
func (s *PostgresStore) Stats(ctx context.Context, namespace string) (_ *domain.StorageStats, err error) {
	ctx, span := startSpan(ctx, postgresBackend, "stats")
	defer func() { endSpan(span, err) }()

	stats := &domain.StorageStats{Namespaces: []string{}, Dimensions: s.dims}

	if namespace != "" {
		err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = $1`, s.table), namespace).
			Scan(&stats.TotalVectors)
	} else {
		err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&stats.TotalVectors)
	}
	if err != nil {
		return nil, internalErr("PostgresStore.Stats", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT DISTINCT namespace FROM %s ORDER BY namespace`, s.table))
	if err != nil {
		return nil, internalErr("PostgresStore.Stats", err)
	}
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			rows.Close()
			return nil, internalErr("PostgresStore.Stats", err)
		}
		stats.Namespaces = append(stats.Namespaces, ns)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, internalErr("PostgresStore.Stats", err)
	}

	var dims int
	if derr := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT vector_dims(vector) FROM %s LIMIT 1`, s.table)).Scan(&dims); derr == nil {
		stats.Dimensions = dims
	} else if !errors.Is(derr, pgx.ErrNoRows) {
		s.logger.Debug("postgres stats: dimensions unavailable", "error", derr)
	}

	var size int64
	if serr := s.db.QueryRow(ctx, `SELECT pg_total_relation_size($1::regclass)`, s.table).Scan(&size); serr == nil {
		stats.StorageSizeBytes = size
	} else {
		s.logger.Debug("postgres stats: size unavailable", "error", serr)
	}

	return stats, nil
}

// HealthCheck implements domain.VectorStorage.
func (s *PostgresStore) HealthCheck(ctx context.Context) (bool, error) {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return false, internalErr("PostgresStore.HealthCheck", err)
	}
	return one == 1, nil
}

// Capabilities implements domain.VectorStorage.
func (s *PostgresStore) Capabilities() domain.StorageCapabilities {
	return domain.StorageCapabilities{NativeList: true, Namespaces: true, PartialUpdate: true, MetadataFilter: true}
}

// Name implements domain.VectorStorage.
func (s *PostgresStore) Name() string { return postgresBackend }

// Close releases the pool when the store owns one.
func (s *PostgresStore) Close() error {
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func (s *PostgresStore) scanRecord(row pgx.Row) (domain.VectorRecord, error) {
	var (
		rec     domain.VectorRecord
		vecText string
		meta    []byte
		content *string
	)
	if err := row.Scan(&rec.ID, &vecText, &meta, &content, &rec.Namespace, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, err
	}
	vec, err := parseVector(vecText)
	if err != nil {
		return rec, err
	}
	rec.Vector = vec
	rec.Metadata = s.decodeMetadata(rec.ID, meta)
	if content != nil {
		rec.Content = *content
	}
	return rec, nil
}

// decodeMetadata logs rather than fails on corrupt JSON; the row is still usable.
func (s *PostgresStore) decodeMetadata(id string, raw []byte) domain.Metadata {
	meta := domain.Metadata{}
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("postgres: corrupt metadata JSON", "id", id, "error", err)
		return domain.Metadata{}
	}
	return meta
}

func marshalMetadata(m domain.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.VectorStorage = (*PostgresStore)(nil)
