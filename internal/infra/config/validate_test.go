package config

import (
	"errors"
	"strings"
	"testing"
)

func requireValidationError(t *testing.T, cfg *Config, want string) {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error containing %q", want)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}
	if !strings.Contains(ve.Error(), want) {
		t.Errorf("error %q does not mention %q", ve.Error(), want)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Validate(Defaults()) = %v", err)
	}
}

func TestValidateBedrock(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty region", func(c *Config) { c.Bedrock.Region = "" }, "bedrock.region"},
		{"half credentials", func(c *Config) { c.Bedrock.AccessKeyID = "AKIA" }, "set together"},
		{"negative retries", func(c *Config) { c.Bedrock.MaxRetries = -1 }, "max_retries"},
		{"negative rps", func(c *Config) { c.Bedrock.RequestsPerSecond = -2 }, "requests_per_second"},
		{"zero buffer", func(c *Config) { c.Bedrock.StreamBuffer = 0 }, "stream_buffer"},
		{"relative endpoint", func(c *Config) { c.Bedrock.Endpoint = "bedrock.local" }, "bedrock.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			requireValidationError(t, cfg, tt.want)
		})
	}
}

func TestValidateStorage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"postgres no host", func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.Storage.Postgres.Host = ""
		}, "storage.postgres.host"},
		{"postgres zero dims", func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.Storage.Postgres.Dimensions = 0
		}, "dimensions"},
		{"sqlite no path", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.SQLite.Path = ""
		}, "storage.sqlite.path"},
		{"pinecone no key", func(c *Config) {
			c.Storage.Backend = BackendPinecone
			c.Storage.Pinecone.Host = "https://idx.pinecone.io"
		}, "api_key"},
		{"pinecone no host parts", func(c *Config) {
			c.Storage.Backend = BackendPinecone
			c.Storage.Pinecone.APIKey = "k"
			c.Storage.Pinecone.Index = "idx"
		}, "project_id"},
		{"upstash no url", func(c *Config) {
			c.Storage.Backend = BackendUpstash
			c.Storage.Upstash.Token = "t"
		}, "storage.upstash.url"},
		{"upstash no token", func(c *Config) {
			c.Storage.Backend = BackendUpstash
			c.Storage.Upstash.URL = "https://x.upstash.io"
		}, "storage.upstash.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			requireValidationError(t, cfg, tt.want)
		})
	}
}

func TestValidateStorageValidBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = BackendPinecone
	cfg.Storage.Pinecone = PineconeConfig{APIKey: "k", Index: "idx", Environment: "us-east1-gcp", ProjectID: "abc"}
	if err := Validate(cfg); err != nil {
		t.Errorf("pinecone: %v", err)
	}

	cfg = Defaults()
	cfg.Storage.Backend = BackendUpstash
	cfg.Storage.Upstash = UpstashConfig{URL: "https://x.upstash.io", Token: "t"}
	if err := Validate(cfg); err != nil {
		t.Errorf("upstash: %v", err)
	}
}

func TestValidateEmbeddingAndRAG(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.CacheSize = -1
	requireValidationError(t, cfg, "embedding.cache_size")

	cfg = Defaults()
	cfg.RAG.TopK = 0
	requireValidationError(t, cfg, "rag.top_k")

	cfg = Defaults()
	cfg.Logger.Format = "xml"
	requireValidationError(t, cfg, "logger.format")
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Bedrock.Region = ""
	cfg.RAG.TopK = 0
	cfg.Embedding.Model = ""

	var ve *ValidationError
	if err := Validate(cfg); !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Fatal("empty ValidationError should have no errors")
	}
	ve.Add("first %d", 1)
	ve.Add("second")
	want := "config validation failed:\n  - first 1\n  - second"
	if ve.Error() != want {
		t.Errorf("Error() = %q, want %q", ve.Error(), want)
	}
}
