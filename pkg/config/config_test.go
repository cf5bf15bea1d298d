package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/rag"
)

func validConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:          "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
		},
		RAG: RAGConfig{
			ChunkSize:            1000,
			ChunkOverlap:         200,
			TopK:                 5,
			MaxContextTokens:     3000,
			RetryCount:           3,
			QueryTimeoutSec:      60,
			MaxConcurrentQueries: 8,
			EmbedBatchSize:       100,
		},
		Index: IndexConfig{
			Backend: "memory",
			Metric:  "cosine",
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsOverlapNotSmallerThanChunkSize(t *testing.T) {
	cfg := validConfig()
	cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize

	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *rag.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "rag.chunkOverlap", cfgErr.Field)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }, "rag.chunkSize"},
		{"negative overlap", func(c *Config) { c.RAG.ChunkOverlap = -1 }, "rag.chunkOverlap"},
		{"zero topK", func(c *Config) { c.RAG.TopK = 0 }, "rag.topK"},
		{"zero context budget", func(c *Config) { c.RAG.MaxContextTokens = 0 }, "rag.maxContextTokens"},
		{"negative retries", func(c *Config) { c.RAG.RetryCount = -1 }, "rag.retryCount"},
		{"zero timeout", func(c *Config) { c.RAG.QueryTimeoutSec = 0 }, "rag.queryTimeoutSec"},
		{"zero concurrency", func(c *Config) { c.RAG.MaxConcurrentQueries = 0 }, "rag.maxConcurrentQueries"},
		{"zero batch size", func(c *Config) { c.RAG.EmbedBatchSize = 0 }, "rag.embedBatchSize"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"missing embedding model", func(c *Config) { c.LLM.EmbeddingModel = "" }, "llm.embeddingModel"},
		{"unknown backend", func(c *Config) { c.Index.Backend = "pinecone" }, "index.backend"},
		{"unknown metric", func(c *Config) { c.Index.Metric = "euclidean" }, "index.metric"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *rag.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.RAG.QueryTimeoutSec = 45
	assert.Equal(t, "45s", cfg.QueryTimeout().String())
}
