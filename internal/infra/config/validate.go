package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBedrock(cfg, ve)
	validateStorage(cfg, ve)
	validateEmbedding(cfg, ve)
	validateRAG(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBedrock(cfg *Config, ve *ValidationError) {
	b := cfg.Bedrock
	if b.Region == "" {
		ve.Add("bedrock.region must not be empty")
	}
	if (b.AccessKeyID == "") != (b.SecretAccessKey == "") {
		ve.Add("bedrock.access_key_id and bedrock.secret_access_key must be set together")
	}
	if b.MaxRetries < 0 {
		ve.Add("bedrock.max_retries must be >= 0")
	}
	if b.RequestsPerSecond < 0 {
		ve.Add("bedrock.requests_per_second must be >= 0")
	}
	if b.StreamBuffer <= 0 {
		ve.Add("bedrock.stream_buffer must be > 0")
	}
	if b.Endpoint != "" {
		validateURL("bedrock.endpoint", b.Endpoint, ve)
	}
}

var validBackends = map[string]bool{
	BackendNone:     true,
	BackendPostgres: true,
	BackendSQLite:   true,
	BackendPinecone: true,
	BackendUpstash:  true,
}

func validateStorage(cfg *Config, ve *ValidationError) {
	s := cfg.Storage
	if !validBackends[s.Backend] {
		ve.Add("storage.backend %q is invalid (valid: postgres, sqlite, pinecone, upstash)", s.Backend)
		return
	}

	switch s.Backend {
	case BackendPostgres:
		if s.Postgres.DSN == "" && s.Postgres.Host == "" {
			ve.Add("storage.postgres.host or storage.postgres.dsn is required")
		}
		if s.Postgres.Table == "" {
			ve.Add("storage.postgres.table must not be empty")
		}
		if s.Postgres.Dimensions <= 0 {
			ve.Add("storage.postgres.dimensions must be > 0")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			ve.Add("storage.sqlite.path is required")
		}
	case BackendPinecone:
		if s.Pinecone.APIKey == "" {
			ve.Add("storage.pinecone.api_key is required")
		}
		if s.Pinecone.Host == "" && (s.Pinecone.Index == "" || s.Pinecone.Environment == "" || s.Pinecone.ProjectID == "") {
			ve.Add("storage.pinecone.host or storage.pinecone.{index,environment,project_id} are required")
		}
		if s.Pinecone.Host != "" {
			validateURL("storage.pinecone.host", s.Pinecone.Host, ve)
		}
	case BackendUpstash:
		if s.Upstash.URL == "" {
			ve.Add("storage.upstash.url is required")
		} else {
			validateURL("storage.upstash.url", s.Upstash.URL, ve)
		}
		if s.Upstash.Token == "" {
			ve.Add("storage.upstash.token is required")
		}
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	if cfg.Embedding.Model == "" {
		ve.Add("embedding.model must not be empty")
	}
	if cfg.Embedding.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
}

func validateRAG(cfg *Config, ve *ValidationError) {
	if cfg.RAG.TopK <= 0 {
		ve.Add("rag.top_k must be > 0")
	}
}

var validLogFormats = map[string]bool{"": true, "text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateURL(field, raw string, ve *ValidationError) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("%s %q is not an absolute URL", field, raw)
	}
}
