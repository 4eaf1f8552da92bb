package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted by storage.backend.
const (
	BackendNone     = ""
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendPinecone = "pinecone"
	BackendUpstash  = "upstash"
)

// Config is the top-level application configuration.
type Config struct {
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	RAG       RAGConfig       `yaml:"rag"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// BedrockConfig holds the model runtime settings.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"` // base endpoint override, e.g. a VPC endpoint

	TextModel      string `yaml:"text_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	ImageModel     string `yaml:"image_model"`

	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `yaml:"burst"`
	StreamBuffer      int     `yaml:"stream_buffer"`

	HTTP           HTTPConfig           `yaml:"http"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for remote calls.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// HTTPConfig holds client timeouts and pooling for an outbound HTTP transport.
type HTTPConfig struct {
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// StorageConfig selects and configures the vector storage backend.
type StorageConfig struct {
	Backend        string               `yaml:"backend"`
	Postgres       PostgresConfig       `yaml:"postgres"`
	SQLite         SQLiteConfig         `yaml:"sqlite"`
	Pinecone       PineconeConfig       `yaml:"pinecone"`
	Upstash        UpstashConfig        `yaml:"upstash"`
	HTTP           HTTPConfig           `yaml:"http"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// PostgresConfig holds pgvector connection settings. DSN wins over the discrete fields.
type PostgresConfig struct {
	DSN        string `yaml:"dsn,omitempty"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Database   string `yaml:"database"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	SSLMode    string `yaml:"sslmode"`
	Table      string `yaml:"table"`
	Dimensions int    `yaml:"dimensions"`
	MaxConns   int32  `yaml:"max_conns"`
}

// ConnString returns a libpq-style URL for the configured database.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Database,
	}
	if p.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(p.SSLMode)
	}
	return u.String()
}

// SQLiteConfig holds settings for the embedded SQL backend.
type SQLiteConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// PineconeConfig holds Pinecone index settings. Host overrides the derived index host.
type PineconeConfig struct {
	APIKey      string `yaml:"api_key"`
	Environment string `yaml:"environment"`
	Index       string `yaml:"index"`
	ProjectID   string `yaml:"project_id"`
	Host        string `yaml:"host,omitempty"`
}

// UpstashConfig holds Upstash Vector REST settings.
type UpstashConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// EmbeddingConfig holds query-embedding settings.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"` // 0 disables the cache
}

// RAGConfig holds retrieval defaults.
type RAGConfig struct {
	Namespace string `yaml:"namespace"`
	TopK      int    `yaml:"top_k"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns $HOME/.rgen, or ./data when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".rgen")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Bedrock: BedrockConfig{
			Region:         "us-east-1",
			TextModel:      "amazon.titan-text-express-v1",
			EmbeddingModel: "amazon.titan-embed-text-v1",
			ImageModel:     "amazon.titan-image-generator-v1",
			MaxRetries:     3,
			StreamBuffer:   100,
			HTTP: HTTPConfig{
				ConnTimeout: 30 * time.Second,
				RespTimeout: 120 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				Host:       "localhost",
				Port:       5432,
				Database:   "postgres",
				User:       "postgres",
				Table:      "vectors",
				Dimensions: 1536,
				MaxConns:   10,
			},
			SQLite: SQLiteConfig{
				Path:  filepath.Join(defaultDataDir(), "vectors.db"),
				Table: "vectors",
			},
			HTTP: HTTPConfig{
				ConnTimeout: 10 * time.Second,
				RespTimeout: 30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "amazon.titan-embed-text-v1",
			CacheSize: 256,
		},
		RAG: RAGConfig{
			TopK: 5,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file is applied again so it wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("RGEN_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
