// Package config loads service configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-rag/internal/chunking"
)

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RedisURL  string          `yaml:"redis_url"`
	Database  DatabaseConfig  `yaml:"database"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Memory    MemoryConfig    `yaml:"memory"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds bearer token and admin key settings
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	JWTSecret    string `yaml:"-"`
	AdminKeyHash string `yaml:"admin_key_hash"`
}

// DatabaseConfig holds the document registry connection.
// An empty URL keeps the registry in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QdrantConfig holds the vector store connection.
// An empty URL selects the in-process index.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"-"`
	DenseSize  int    `yaml:"dense_size"`
}

// AIConfig selects the model capabilities
type AIConfig struct {
	EmbeddingProvider string  `yaml:"embedding_provider"`
	EmbeddingBaseURL  string  `yaml:"embedding_base_url"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	EmbeddingAPIKey   string  `yaml:"-"`
	LLMProvider       string  `yaml:"llm_provider"`
	LLMBaseURL        string  `yaml:"llm_base_url"`
	LLMModel          string  `yaml:"llm_model"`
	LLMAPIKey         string  `yaml:"-"`
	LLMTemperature    float64 `yaml:"llm_temperature"`
	RerankURL         string  `yaml:"rerank_url"`
	RerankModel       string  `yaml:"rerank_model"`
	RerankAPIKey      string  `yaml:"-"`
}

// ChunkingConfig is the engine's token budgets plus the tokenizer name
type ChunkingConfig struct {
	chunking.Config `yaml:",inline"`
	Tokenizer       string `yaml:"tokenizer"`
}

// RetrievalConfig tunes hybrid search and reranking
type RetrievalConfig struct {
	TopKChildren       int `yaml:"top_k_children"`
	TopKRerank         int `yaml:"top_k_rerank"`
	RRFConstant        int `yaml:"rrf_constant"`
	PrefetchMultiplier int `yaml:"prefetch_multiplier"`
}

// MemoryConfig bounds conversation logs
type MemoryConfig struct {
	MaxMessages  int           `yaml:"max_messages"`
	TTL          time.Duration `yaml:"ttl"`
	HistoryLimit int           `yaml:"history_limit"`
}

// TimeoutsConfig bounds each external call
type TimeoutsConfig struct {
	Embed    time.Duration `yaml:"embed"`
	Rerank   time.Duration `yaml:"rerank"`
	Generate time.Duration `yaml:"generate"`
	Rewrite  time.Duration `yaml:"rewrite"`
	Store    time.Duration `yaml:"store"`
	Memory   time.Duration `yaml:"memory"`
}

// IngestConfig tunes document ingestion
type IngestConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	EmbedRPS    float64       `yaml:"embed_rps"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// WorkerConfig tunes the background ingest worker
type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency"`
	DequeueTimeout int `yaml:"dequeue_timeout"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{Enabled: true},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Qdrant: QdrantConfig{
			Collection: "chunks",
			DenseSize:  1024,
		},
		AI: AIConfig{
			EmbeddingProvider: "local",
			LLMProvider:       "openai",
			LLMTemperature:    0.1,
		},
		Chunking: ChunkingConfig{
			Config:    chunking.DefaultConfig(),
			Tokenizer: "cl100k_base",
		},
		Retrieval: RetrievalConfig{
			TopKChildren:       20,
			TopKRerank:         5,
			RRFConstant:        60,
			PrefetchMultiplier: 2,
		},
		Memory: MemoryConfig{
			MaxMessages:  20,
			TTL:          24 * time.Hour,
			HistoryLimit: 5,
		},
		Timeouts: TimeoutsConfig{
			Embed:    30 * time.Second,
			Rerank:   15 * time.Second,
			Generate: 120 * time.Second,
			Rewrite:  20 * time.Second,
			Store:    15 * time.Second,
			Memory:   3 * time.Second,
		},
		Ingest: IngestConfig{
			BatchSize:   128,
			Concurrency: 4,
			LockTTL:     10 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:    2,
			DequeueTimeout: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. It reads .env if present, then the YAML
// file at path (or CONFIG_FILE), then applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.CORSOrigins = getEnvList("CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Auth.Enabled = getEnvBool("AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AdminKeyHash = getEnv("ADMIN_KEY_HASH", c.Auth.AdminKeyHash)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Qdrant.URL = getEnv("QDRANT_URL", c.Qdrant.URL)
	c.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Qdrant.Collection)
	c.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Qdrant.APIKey)
	c.Qdrant.DenseSize = getEnvInt("DENSE_VECTOR_SIZE", c.Qdrant.DenseSize)

	c.AI.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", c.AI.EmbeddingProvider)
	c.AI.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", c.AI.EmbeddingBaseURL)
	c.AI.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.AI.EmbeddingModel)
	c.AI.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", c.AI.EmbeddingAPIKey)
	c.AI.LLMProvider = getEnv("LLM_PROVIDER", c.AI.LLMProvider)
	c.AI.LLMBaseURL = getEnv("LLM_BASE_URL", c.AI.LLMBaseURL)
	c.AI.LLMModel = getEnv("LLM_MODEL", c.AI.LLMModel)
	c.AI.LLMAPIKey = getEnv("LLM_API_KEY", c.AI.LLMAPIKey)
	c.AI.LLMTemperature = getEnvFloat("LLM_TEMPERATURE", c.AI.LLMTemperature)
	c.AI.RerankURL = getEnv("RERANK_URL", c.AI.RerankURL)
	c.AI.RerankModel = getEnv("RERANK_MODEL", c.AI.RerankModel)
	c.AI.RerankAPIKey = getEnv("RERANK_API_KEY", c.AI.RerankAPIKey)

	c.Chunking.MinTokens = getEnvInt("CHUNK_MIN_TOKENS", c.Chunking.MinTokens)
	c.Chunking.IdealTokens = getEnvInt("CHUNK_IDEAL_TOKENS", c.Chunking.IdealTokens)
	c.Chunking.MaxTokens = getEnvInt("CHUNK_MAX_TOKENS", c.Chunking.MaxTokens)
	c.Chunking.HardCap = getEnvInt("CHUNK_HARD_CAP", c.Chunking.HardCap)
	c.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", c.Chunking.Overlap)
	c.Chunking.BreakpointPercentile = getEnvFloat("CHUNK_BREAKPOINT_PERCENTILE", c.Chunking.BreakpointPercentile)
	c.Chunking.Tokenizer = getEnv("TOKENIZER", c.Chunking.Tokenizer)

	c.Retrieval.TopKChildren = getEnvInt("TOP_K_CHILDREN", c.Retrieval.TopKChildren)
	c.Retrieval.TopKRerank = getEnvInt("TOP_K_RERANK", c.Retrieval.TopKRerank)
	c.Retrieval.RRFConstant = getEnvInt("RRF_CONSTANT", c.Retrieval.RRFConstant)

	c.Memory.MaxMessages = getEnvInt("MEMORY_MAX_MESSAGES", c.Memory.MaxMessages)
	c.Memory.TTL = getEnvDuration("MEMORY_TTL", c.Memory.TTL)
	c.Memory.HistoryLimit = getEnvInt("MEMORY_HISTORY_LIMIT", c.Memory.HistoryLimit)

	c.Timeouts.Embed = getEnvDuration("TIMEOUT_EMBED", c.Timeouts.Embed)
	c.Timeouts.Rerank = getEnvDuration("TIMEOUT_RERANK", c.Timeouts.Rerank)
	c.Timeouts.Generate = getEnvDuration("TIMEOUT_GENERATE", c.Timeouts.Generate)
	c.Timeouts.Rewrite = getEnvDuration("TIMEOUT_REWRITE", c.Timeouts.Rewrite)
	c.Timeouts.Store = getEnvDuration("TIMEOUT_STORE", c.Timeouts.Store)
	c.Timeouts.Memory = getEnvDuration("TIMEOUT_MEMORY", c.Timeouts.Memory)

	c.Ingest.BatchSize = getEnvInt("INGEST_BATCH_SIZE", c.Ingest.BatchSize)
	c.Ingest.Concurrency = getEnvInt("INGEST_CONCURRENCY", c.Ingest.Concurrency)
	c.Ingest.EmbedRPS = getEnvFloat("EMBED_RPS", c.Ingest.EmbedRPS)
	c.Ingest.LockTTL = getEnvDuration("INGEST_LOCK_TTL", c.Ingest.LockTTL)

	c.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.DequeueTimeout = getEnvInt("WORKER_DEQUEUE_TIMEOUT", c.Worker.DequeueTimeout)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when auth is enabled"))
	}
	if err := c.Chunking.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	positive("dense_size", c.Qdrant.DenseSize)
	positive("top_k_children", c.Retrieval.TopKChildren)
	positive("top_k_rerank", c.Retrieval.TopKRerank)
	positive("rrf_constant", c.Retrieval.RRFConstant)
	if c.Retrieval.TopKRerank > c.Retrieval.TopKChildren {
		errs = append(errs, fmt.Errorf("top_k_rerank (%d) must not exceed top_k_children (%d)", c.Retrieval.TopKRerank, c.Retrieval.TopKChildren))
	}
	positive("max_messages", c.Memory.MaxMessages)
	positive("history_limit", c.Memory.HistoryLimit)
	if c.Memory.TTL <= 0 {
		errs = append(errs, fmt.Errorf("memory ttl must be positive, got %s", c.Memory.TTL))
	}
	positive("ingest batch_size", c.Ingest.BatchSize)
	positive("ingest concurrency", c.Ingest.Concurrency)
	positive("worker concurrency", c.Worker.Concurrency)
	if c.Ingest.EmbedRPS < 0 {
		errs = append(errs, fmt.Errorf("embed_rps must not be negative, got %v", c.Ingest.EmbedRPS))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// IndexBackend names the vector index in use
func (c *Config) IndexBackend() string {
	if c.Qdrant.URL != "" {
		return "qdrant"
	}
	return "memory"
}

// MemoryBackend names the conversation store in use
func (c *Config) MemoryBackend() string {
	if c.RedisURL != "" {
		return "redis"
	}
	return "memory"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
