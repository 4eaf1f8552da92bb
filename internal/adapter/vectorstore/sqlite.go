package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

const (
	defaultSQLiteTable = "vectors"
	sqliteBackend      = "sqlite"

	// Fixed width so that ORDER BY on the text column is chronological.
	sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteStore implements domain.VectorStorage on an embedded SQLite file.
// Vectors are little-endian float32 BLOBs and similarity is computed in
// process against an in-memory index loaded on first search.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	path   string
	logger *slog.Logger
	idx    *vecIndex
}

// OpenSQLite opens (or creates) the database at cfg.Path and migrates it.
func OpenSQLite(cfg config.SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, internalErr("OpenSQLite", fmt.Errorf("create data dir: %w", err))
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, internalErr("OpenSQLite", fmt.Errorf("open db: %w", err))
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, internalErr("OpenSQLite", fmt.Errorf("pragma: %w", err))
		}
	}

	table := cfg.Table
	if table == "" {
		table = defaultSQLiteTable
	}
	s := &SQLiteStore{
		db:     db,
		table:  quoteIdent(table),
		path:   cfg.Path,
		logger: logger,
		idx:    newVecIndex(),
	}
	if err := s.migrate(table); err != nil {
		db.Close()
		return nil, internalErr("OpenSQLite", fmt.Errorf("migrate: %w", err))
	}
	return s, nil
}

func (s *SQLiteStore) migrate(rawTable string) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id         TEXT PRIMARY KEY,
			vector     BLOB NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			content    TEXT NOT NULL DEFAULT '',
			namespace  TEXT NOT NULL DEFAULT 'default',
			created_at TEXT NOT NULL,
			updated_at TEXT
		);
		CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (namespace);
	`, s.table, quoteIdent("idx_"+rawTable+"_namespace"))
	_, err := s.db.Exec(schema)
	return err
}

// Insert implements domain.VectorStorage.
func (s *SQLiteStore) Insert(ctx context.Context, rec domain.VectorInsert) (res *domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "insert")
	defer func() { endSpan(span, err) }()

	if rec.ID == "" {
		rec.ID = newID()
	}
	stored, err := s.upsert(ctx, s.db, rec, now())
	if err != nil {
		return nil, internalErr("SQLiteStore.Insert", err)
	}
	s.idx.put(stored)
	return &domain.InsertResult{ID: rec.ID, Success: true, Message: msgInserted}, nil
}

// InsertBatch implements domain.VectorStorage in a single transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, recs []domain.VectorInsert) (_ []domain.InsertResult, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "insert_batch")
	defer func() { endSpan(span, err) }()

	if len(recs) == 0 {
		return []domain.InsertResult{}, nil
	}
	recs = append([]domain.VectorInsert(nil), recs...)
	assignIDs(recs)

	stored, terr := s.insertTx(ctx, recs, now())
	if terr != nil {
		s.logger.Warn("sqlite batch insert failed", "count", len(recs), "error", terr)
		return failedInserts(recs, "Batch insert failed: "+terr.Error()), nil
	}
	for _, r := range stored {
		s.idx.put(r)
	}

	out := make([]domain.InsertResult, len(recs))
	for i, r := range recs {
		out[i] = domain.InsertResult{ID: r.ID, Success: true, Message: msgInserted}
	}
	return out, nil
}

func (s *SQLiteStore) insertTx(ctx context.Context, recs []domain.VectorInsert, ts time.Time) ([]domain.VectorRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stored := make([]domain.VectorRecord, 0, len(recs))
	for _, r := range recs {
		rec, err := s.upsert(ctx, tx, r, ts)
		if err != nil {
			return nil, fmt.Errorf("upsert %q: %w", r.ID, err)
		}
		stored = append(stored, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsert(ctx context.Context, db execer, in domain.VectorInsert, ts time.Time) (domain.VectorRecord, error) {
	meta, err := marshalMetadata(in.Metadata)
	if err != nil {
		return domain.VectorRecord{}, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, vector, metadata, content, namespace, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector     = excluded.vector,
			metadata   = excluded.metadata,
			content    = excluded.content,
			namespace  = excluded.namespace,
			updated_at = excluded.created_at
	`, s.table)

	ns := domain.NamespaceOr(in.Namespace)
	if _, err := db.ExecContext(ctx, query,
		in.ID, float32ToBytes(in.Vector), meta, in.Content, ns, ts.Format(sqliteTimeFormat),
	); err != nil {
		return domain.VectorRecord{}, err
	}

	// Decode what was stored so indexed values compare like loaded ones.
	rec := domain.VectorRecord{
		ID:        in.ID,
		Vector:    slices.Clone(in.Vector),
		Metadata:  domain.Metadata{},
		Content:   in.Content,
		Namespace: ns,
		CreatedAt: ts,
	}
	_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	return rec, nil
}

// Search implements domain.VectorStorage. Filters match top-level metadata keys
// by equality; operator expressions are rejected.
func (s *SQLiteStore) Search(ctx context.Context, q domain.VectorSearch) (_ *domain.VectorSearchResponse, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "search")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	filter, err := normalizeFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	if err := s.idx.loadFromDB(ctx, s); err != nil {
		return nil, internalErr("SQLiteStore.Search", err)
	}

	results := s.idx.search(q.Vector, domain.NamespaceOr(q.Namespace), filter, searchLimit(q.Limit))
	for i := range results {
		if !q.IncludeMetadata {
			results[i].Metadata = nil
		}
		if !q.IncludeContent {
			results[i].Content = ""
		}
		if !q.IncludeVectors {
			results[i].Vector = nil
		}
	}
	return &domain.VectorSearchResponse{
		Results:    results,
		TotalFound: len(results),
		QueryTime:  time.Since(start),
	}, nil
}

// Get implements domain.VectorStorage.
func (s *SQLiteStore) Get(ctx context.Context, id, namespace string) (_ *domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "get")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`SELECT id, vector, metadata, content, namespace, created_at, updated_at
		FROM %s WHERE id = ? AND namespace = ?`, s.table)
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id, domain.NamespaceOr(namespace)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("SQLiteStore.Get", err)
	}
	return &rec, nil
}

// Update implements domain.VectorStorage as read-modify-write.
func (s *SQLiteStore) Update(ctx context.Context, upd domain.VectorUpdate) (_ *domain.UpdateResult, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "update")
	defer func() { endSpan(span, err) }()

	rec, err := s.Get(ctx, upd.ID, upd.Namespace)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &domain.UpdateResult{ID: upd.ID, Success: false, Message: msgNotFound}, nil
	}
	applyUpdate(rec, upd)

	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return nil, domain.NewDomainError("SQLiteStore.Update", domain.ErrRequest, err.Error())
	}
	query := fmt.Sprintf(`UPDATE %s SET vector = ?, metadata = ?, content = ?, updated_at = ?
		WHERE id = ? AND namespace = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query,
		float32ToBytes(rec.Vector), meta, rec.Content, rec.UpdatedAt.Format(sqliteTimeFormat),
		rec.ID, rec.Namespace,
	); err != nil {
		return nil, internalErr("SQLiteStore.Update", err)
	}
	rec.Metadata = domain.Metadata{}
	_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	s.idx.put(*rec)
	return &domain.UpdateResult{ID: upd.ID, Success: true, Message: msgUpdated}, nil
}

// Delete implements domain.VectorStorage.
func (s *SQLiteStore) Delete(ctx context.Context, id, namespace string) (_ *domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "delete")
	defer func() { endSpan(span, err) }()

	ok, err := s.deleteOne(ctx, id, domain.NamespaceOr(namespace))
	if err != nil {
		return nil, internalErr("SQLiteStore.Delete", err)
	}
	if !ok {
		return &domain.DeleteResult{ID: id, Success: false, Message: msgNotFound}, nil
	}
	return &domain.DeleteResult{ID: id, Success: true, Message: msgDeleted}, nil
}

// DeleteBatch implements domain.VectorStorage.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, ids []string, namespace string) (_ []domain.DeleteResult, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "delete_batch")
	defer func() { endSpan(span, err) }()

	ns := domain.NamespaceOr(namespace)
	out := make([]domain.DeleteResult, len(ids))
	for i, id := range ids {
		ok, derr := s.deleteOne(ctx, id, ns)
		switch {
		case derr != nil:
			out[i] = domain.DeleteResult{ID: id, Message: "Delete failed: " + derr.Error()}
		case !ok:
			out[i] = domain.DeleteResult{ID: id, Message: msgNotFound}
		default:
			out[i] = domain.DeleteResult{ID: id, Success: true, Message: msgDeleted}
		}
	}
	return out, nil
}

func (s *SQLiteStore) deleteOne(ctx context.Context, id, ns string) (bool, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND namespace = ?`, s.table), id, ns)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	s.idx.remove(id)
	return true, nil
}

// List implements domain.VectorStorage, newest first.
func (s *SQLiteStore) List(ctx context.Context, namespace string, limit int) (_ []domain.VectorRecord, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "list")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`SELECT id, vector, metadata, content, namespace, created_at, updated_at
		FROM %s WHERE namespace = ? ORDER BY created_at DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, query, domain.NamespaceOr(namespace), listLimit(limit))
	if err != nil {
		return nil, internalErr("SQLiteStore.List", err)
	}
	defer rows.Close()

	out := []domain.VectorRecord{}
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, internalErr("SQLiteStore.List", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("SQLiteStore.List", err)
	}
	return out, nil
}

// Stats implements domain.VectorStorage.
func (s *SQLiteStore) Stats(ctx context.Context, namespace string) (_ *domain.StorageStats, err error) {
	ctx, span := startSpan(ctx, sqliteBackend, "stats")
	defer func() { endSpan(span, err) }()

	stats := &domain.StorageStats{Namespaces: []string{}}

	if namespace != "" {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = ?`, s.table), namespace).
			Scan(&stats.TotalVectors)
	} else {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&stats.TotalVectors)
	}
	if err != nil {
		return nil, internalErr("SQLiteStore.Stats", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT namespace FROM %s ORDER BY namespace`, s.table))
	if err != nil {
		return nil, internalErr("SQLiteStore.Stats", err)
	}
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			rows.Close()
			return nil, internalErr("SQLiteStore.Stats", err)
		}
		stats.Namespaces = append(stats.Namespaces, ns)
	}
	rows.Close()

	var blobLen int
	derr := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT length(vector) FROM %s LIMIT 1`, s.table)).Scan(&blobLen)
	if derr == nil {
		stats.Dimensions = blobLen / 4
	}

	var size int64
	if serr := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&size); serr == nil {
		stats.StorageSizeBytes = size
	}
	return stats, nil
}

// HealthCheck implements domain.VectorStorage.
func (s *SQLiteStore) HealthCheck(ctx context.Context) (bool, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return false, internalErr("SQLiteStore.HealthCheck", err)
	}
	return true, nil
}

// Capabilities implements domain.VectorStorage.
func (s *SQLiteStore) Capabilities() domain.StorageCapabilities {
	return domain.StorageCapabilities{NativeList: true, Namespaces: true, MetadataFilter: true}
}

// Name implements domain.VectorStorage.
func (s *SQLiteStore) Name() string { return sqliteBackend }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) scanRecord(row interface{ Scan(dest ...any) error }) (domain.VectorRecord, error) {
	var (
		rec       domain.VectorRecord
		blob      []byte
		metaJSON  string
		createdAt string
		updatedAt sql.NullString
	)
	if err := row.Scan(&rec.ID, &blob, &metaJSON, &rec.Content, &rec.Namespace, &createdAt, &updatedAt); err != nil {
		return rec, err
	}
	rec.Vector = bytesToFloat32(blob)
	rec.Metadata = domain.Metadata{}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		s.logger.Warn("sqlite: corrupt metadata JSON", "id", rec.ID, "error", err)
	}
	var perr error
	if rec.CreatedAt, perr = time.Parse(sqliteTimeFormat, createdAt); perr != nil {
		s.logger.Warn("sqlite: corrupt created_at", "id", rec.ID, "error", perr)
	}
	if updatedAt.Valid {
		if t, err := time.Parse(sqliteTimeFormat, updatedAt.String); err == nil {
			rec.UpdatedAt = &t
		}
	}
	return rec, nil
}

// normalizeFilter round-trips the filter through JSON so its values compare
// equal to decoded metadata (numbers become float64).
func normalizeFilter(filter domain.Metadata) (domain.Metadata, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	if hasOperator(filter) {
		return nil, filterErr("SQLiteStore.Search", sqliteBackend, filter)
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, domain.NewDomainError("SQLiteStore.Search", domain.ErrRequest, err.Error())
	}
	var out domain.Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.NewDomainError("SQLiteStore.Search", domain.ErrRequest, err.Error())
	}
	for _, v := range out {
		if m, ok := v.(map[string]any); ok && hasOperator(m) {
			return nil, filterErr("SQLiteStore.Search", sqliteBackend, filter)
		}
	}
	return out, nil
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ domain.VectorStorage = (*SQLiteStore)(nil)
