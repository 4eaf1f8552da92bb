package config

import (
	"os"
	"strconv"
)

// ApplyEnvOverrides maps RGEN_* env vars, plus the conventional AWS_*, POSTGRES_*,
// PINECONE_*, UPSTASH_* and USE_* variables, onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	applyBedrockEnv(&cfg.Bedrock)
	applyStorageEnv(&cfg.Storage)

	if v := os.Getenv("RGEN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if n, ok := envInt("RGEN_EMBEDDING_CACHE_SIZE"); ok {
		cfg.Embedding.CacheSize = n
	}
	if v := os.Getenv("RGEN_RAG_NAMESPACE"); v != "" {
		cfg.RAG.Namespace = v
	}
	if n, ok := envInt("RGEN_RAG_TOP_K"); ok {
		cfg.RAG.TopK = n
	}
	if v := os.Getenv("RGEN_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RGEN_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("RGEN_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("RGEN_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func applyBedrockEnv(b *BedrockConfig) {
	if v := firstEnv("RGEN_BEDROCK_REGION", "AWS_REGION", "AWS_DEFAULT_REGION"); v != "" {
		b.Region = v
	}
	if v := firstEnv("RGEN_BEDROCK_PROFILE", "AWS_PROFILE"); v != "" {
		b.Profile = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" && b.AccessKeyID == "" {
		b.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" && b.SecretAccessKey == "" {
		b.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" && b.SessionToken == "" {
		b.SessionToken = v
	}
	if v := os.Getenv("RGEN_BEDROCK_ENDPOINT"); v != "" {
		b.Endpoint = v
	}
	if v := os.Getenv("RGEN_BEDROCK_TEXT_MODEL"); v != "" {
		b.TextModel = v
	}
	if v := os.Getenv("RGEN_BEDROCK_IMAGE_MODEL"); v != "" {
		b.ImageModel = v
	}
	if n, ok := envInt("RGEN_BEDROCK_MAX_RETRIES"); ok {
		b.MaxRetries = n
	}
	if v := os.Getenv("RGEN_BEDROCK_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			b.RequestsPerSecond = f
		}
	}
}

func applyStorageEnv(s *StorageConfig) {
	// Legacy switches, first match wins.
	switch {
	case os.Getenv("USE_PSQL") == "true":
		s.Backend = BackendPostgres
	case os.Getenv("USE_PINECONE") == "true":
		s.Backend = BackendPinecone
	case os.Getenv("USE_UPSTASH") == "true":
		s.Backend = BackendUpstash
	}
	if v := os.Getenv("RGEN_STORAGE_BACKEND"); v != "" {
		s.Backend = v
	}

	if v := os.Getenv("RGEN_POSTGRES_DSN"); v != "" {
		s.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		s.Postgres.Host = v
	}
	if n, ok := envInt("POSTGRES_PORT"); ok {
		s.Postgres.Port = n
	}
	if v := os.Getenv("POSTGRES_DATABASE"); v != "" {
		s.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_USERNAME"); v != "" {
		s.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" && s.Postgres.Password == "" {
		s.Postgres.Password = v
	}
	if v := os.Getenv("RGEN_SQLITE_PATH"); v != "" {
		s.SQLite.Path = v
	}

	if v := os.Getenv("PINECONE_API_KEY"); v != "" && s.Pinecone.APIKey == "" {
		s.Pinecone.APIKey = v
	}
	if v := os.Getenv("PINECONE_ENVIRONMENT"); v != "" {
		s.Pinecone.Environment = v
	}
	if v := os.Getenv("PINECONE_INDEX_NAME"); v != "" {
		s.Pinecone.Index = v
	}
	if v := os.Getenv("PINECONE_PROJECT_ID"); v != "" {
		s.Pinecone.ProjectID = v
	}
	if v := os.Getenv("PINECONE_HOST"); v != "" {
		s.Pinecone.Host = v
	}

	if v := os.Getenv("UPSTASH_URL"); v != "" {
		s.Upstash.URL = v
	}
	if v := os.Getenv("UPSTASH_TOKEN"); v != "" && s.Upstash.Token == "" {
		s.Upstash.Token = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
