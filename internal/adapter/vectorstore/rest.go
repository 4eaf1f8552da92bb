package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
	"rgen/internal/infra/resilience"
)

// maxResponseBytes caps how much of a REST response is read into memory.
const maxResponseBytes = 32 << 20

// restClient is the JSON-over-HTTPS plumbing shared by the hosted backends.
type restClient struct {
	backend string
	baseURL string
	headers http.Header
	http    *http.Client
	breaker *resilience.Breaker[[]byte] // nil when disabled
	logger  *slog.Logger
}

func newRESTClient(backend, baseURL string, headers http.Header, cfg config.StorageConfig, logger *slog.Logger) *restClient {
	c := &restClient{
		backend: backend,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		http:    resilience.NewHTTPClient(cfg.HTTP),
		logger:  logger,
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = resilience.NewBreaker[[]byte](backend, cfg.CircuitBreaker, logger)
	}
	return c
}

// do sends body as JSON and decodes the response into out (when non-nil).
// A non-2xx status yields a *domain.ServiceError carrying the response body.
func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	op := c.backend + " " + method + " " + path

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return domain.NewDomainError(op, domain.ErrSerialization, err.Error())
		}
	}

	send := func() ([]byte, error) { return c.send(ctx, op, method, path, payload) }
	var (
		raw []byte
		err error
	)
	if c.breaker != nil {
		raw, err = c.breaker.Execute(send)
	} else {
		raw, err = send()
	}
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewDomainError(op, domain.ErrResponse, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func (c *restClient) send(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrRequest, err.Error())
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrTransport, fmt.Sprintf("read body: %v", err))
	}
	c.logger.Debug("vectorstore request",
		"backend", c.backend,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.WrapOp(op, &domain.ServiceError{
			Message:    strings.TrimSpace(string(raw)),
			StatusCode: resp.StatusCode,
		})
	}
	return raw, nil
}

func (c *restClient) close() {
	c.http.CloseIdleConnections()
}

// --- Records kept entirely in vendor metadata ---

// packMetadata folds content, namespace and timestamps into a copy of the
// record's metadata under the reserved keys.
func packMetadata(rec domain.VectorRecord) domain.Metadata {
	out := make(domain.Metadata, len(rec.Metadata)+4)
	for k, v := range rec.Metadata {
		out[k] = v
	}
	if rec.Content != "" {
		out[metaContent] = rec.Content
	}
	out[metaNamespace] = domain.NamespaceOr(rec.Namespace)
	out[metaCreatedAt] = rec.CreatedAt.Format(time.RFC3339Nano)
	if rec.UpdatedAt != nil {
		out[metaUpdatedAt] = rec.UpdatedAt.Format(time.RFC3339Nano)
	}
	return out
}

// unpackRecord reverses packMetadata.
func unpackRecord(id string, vec []float32, meta domain.Metadata) domain.VectorRecord {
	rec := domain.VectorRecord{ID: id, Vector: vec, Namespace: domain.DefaultNamespace}
	var user domain.Metadata
	user, rec.Content = splitReserved(meta)
	rec.Metadata = user

	if ns, ok := meta[metaNamespace].(string); ok && ns != "" {
		rec.Namespace = ns
	}
	if s, ok := meta[metaCreatedAt].(string); ok {
		rec.CreatedAt = parseTimestamp(s)
	}
	if s, ok := meta[metaUpdatedAt].(string); ok {
		if t := parseTimestamp(s); !t.IsZero() {
			rec.UpdatedAt = &t
		}
	}
	return rec
}

// splitReserved returns the caller-visible metadata and the stored content.
func splitReserved(meta domain.Metadata) (domain.Metadata, string) {
	user := make(domain.Metadata, len(meta))
	var content string
	for k, v := range meta {
		switch k {
		case metaContent:
			content, _ = v.(string)
		case metaNamespace, metaCreatedAt, metaUpdatedAt:
		default:
			user[k] = v
		}
	}
	return user, content
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func recordFromInsert(in domain.VectorInsert, ts time.Time) domain.VectorRecord {
	return domain.VectorRecord{
		ID:        in.ID,
		Vector:    in.Vector,
		Metadata:  in.Metadata,
		Content:   in.Content,
		Namespace: domain.NamespaceOr(in.Namespace),
		CreatedAt: ts,
	}
}

// serviceFailure reports whether err is a vendor rejection rather than a
// transport or local failure; those become unsuccessful results.
func serviceFailure(err error) (string, bool) {
	var se *domain.ServiceError
	if !errors.As(err, &se) {
		return "", false
	}
	if se.Message != "" {
		return se.Message, true
	}
	return fmt.Sprintf("status %d", se.StatusCode), true
}
