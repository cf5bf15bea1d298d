package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/intellidocs/backend/internal/rag"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Index     IndexConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	AnswerTTLSec int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

// RAGConfig is the pipeline surface: chunking, retrieval, context
// budgeting, grounding policy, and the orchestrator's retry/deadline
// settings. Built once at startup and passed by reference.
type RAGConfig struct {
	ChunkSize            int
	ChunkOverlap         int
	TopK                 int
	MinScore             float32
	MaxContextTokens     int
	StrictMode           bool
	RetryCount           int
	QueryTimeoutSec      int
	MaxConcurrentQueries int
	EmbedBatchSize       int
}

type IndexConfig struct {
	Backend string // "memory" or "milvus"
	Path    string
	Metric  string // "cosine" or "dot"

	// Milvus backend only.
	Endpoint   string
	Collection string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/intellidocs")

	viper.SetEnvPrefix("INTELLIDOCS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects parameter combinations the pipeline cannot run with.
// Every violation is a *rag.ConfigError.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return &rag.ConfigError{Field: "rag.chunkSize", Reason: "must be positive"}
	}
	if c.RAG.ChunkOverlap < 0 {
		return &rag.ConfigError{Field: "rag.chunkOverlap", Reason: "must not be negative"}
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return &rag.ConfigError{Field: "rag.chunkOverlap", Reason: "must be smaller than rag.chunkSize"}
	}
	if c.RAG.TopK <= 0 {
		return &rag.ConfigError{Field: "rag.topK", Reason: "must be positive"}
	}
	if c.RAG.MaxContextTokens <= 0 {
		return &rag.ConfigError{Field: "rag.maxContextTokens", Reason: "must be positive"}
	}
	if c.RAG.RetryCount < 0 {
		return &rag.ConfigError{Field: "rag.retryCount", Reason: "must not be negative"}
	}
	if c.RAG.QueryTimeoutSec <= 0 {
		return &rag.ConfigError{Field: "rag.queryTimeoutSec", Reason: "must be positive"}
	}
	if c.RAG.MaxConcurrentQueries <= 0 {
		return &rag.ConfigError{Field: "rag.maxConcurrentQueries", Reason: "must be positive"}
	}
	if c.RAG.EmbedBatchSize <= 0 {
		return &rag.ConfigError{Field: "rag.embedBatchSize", Reason: "must be positive"}
	}
	if c.LLM.Model == "" {
		return &rag.ConfigError{Field: "llm.model", Reason: "must be set"}
	}
	if c.LLM.EmbeddingModel == "" {
		return &rag.ConfigError{Field: "llm.embeddingModel", Reason: "must be set"}
	}
	switch c.Index.Backend {
	case "memory", "milvus":
	default:
		return &rag.ConfigError{Field: "index.backend", Reason: `must be "memory" or "milvus"`}
	}
	switch c.Index.Metric {
	case "cosine", "dot":
	default:
		return &rag.ConfigError{Field: "index.metric", Reason: `must be "cosine" or "dot"`}
	}
	return nil
}

// QueryTimeout returns the per-query deadline as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.RAG.QueryTimeoutSec) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 20971520)

	viper.SetDefault("sqlite.path", "./data/intellidocs.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.answerTTLSec", 3600)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.maxTokens", 2000)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("rag.chunkSize", 1000)
	viper.SetDefault("rag.chunkOverlap", 200)
	viper.SetDefault("rag.topK", 5)
	viper.SetDefault("rag.minScore", 0.0)
	viper.SetDefault("rag.maxContextTokens", 3000)
	viper.SetDefault("rag.strictMode", true)
	viper.SetDefault("rag.retryCount", 3)
	viper.SetDefault("rag.queryTimeoutSec", 60)
	viper.SetDefault("rag.maxConcurrentQueries", 8)
	viper.SetDefault("rag.embedBatchSize", 100)

	viper.SetDefault("index.backend", "memory")
	viper.SetDefault("index.path", "./data/index.bin")
	viper.SetDefault("index.metric", "cosine")
	viper.SetDefault("index.collection", "documents")
	viper.SetDefault("index.endpoint", "localhost:19530")

	viper.SetDefault("ratelimit.requestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
