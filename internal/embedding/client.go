package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/circuitbreaker"
	"github.com/intellidocs/backend/pkg/logger"
	"github.com/intellidocs/backend/pkg/utils"
)

// Cache stores vectors keyed by content hash, so re-indexing unchanged
// text skips the embedding service. A nil Cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// Client converts text into fixed-dimension vectors through the
// external embedding service. All vectors in one index come from the
// same model; Model() exposes the identifier for the index header.
type Client struct {
	api       *openai.Client
	model     string
	batchSize int
	timeout   time.Duration
	cb        *circuitbreaker.CircuitBreaker
	cache     Cache
}

type Option func(*Client)

// WithCache attaches an embedding cache.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func NewClient(apiKey, baseURL, model string, batchSize int, timeout time.Duration, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	c := &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     model,
		batchSize: batchSize,
		timeout:   timeout,
		cb: circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.batchSize <= 0 {
		c.batchSize = 100
	}

	return c
}

// Model returns the embedding model identifier this client is pinned to.
func (c *Client) Model() string { return c.model }

// Embed returns one vector per input, order-preserving. A batch failure
// fails the whole call with *rag.EmbeddingError carrying how many
// inputs were embedded before the failure.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	embedded := 0

	// Serve what we can from the cache; only misses go to the service.
	missIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if c.cache == nil {
			missIdx = append(missIdx, i)
			continue
		}
		key := utils.HashStrings(c.model, text)
		vec, ok, err := c.cache.GetEmbedding(ctx, key)
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		if ok {
			vectors[i] = vec
			embedded++
			continue
		}
		missIdx = append(missIdx, i)
	}

	for lo := 0; lo < len(missIdx); lo += c.batchSize {
		hi := lo + c.batchSize
		if hi > len(missIdx) {
			hi = len(missIdx)
		}
		batch := missIdx[lo:hi]

		inputs := make([]string, len(batch))
		for j, idx := range batch {
			inputs[j] = texts[idx]
		}

		batchVectors, err := c.embedBatch(ctx, inputs)
		if err != nil {
			return nil, &rag.EmbeddingError{
				Err:       err,
				Embedded:  embedded,
				Transient: isTransient(err),
			}
		}

		for j, idx := range batch {
			vectors[idx] = batchVectors[j]
			embedded++
			if c.cache != nil {
				key := utils.HashStrings(c.model, texts[idx])
				if err := c.cache.SetEmbedding(ctx, key, batchVectors[j], 24*time.Hour); err != nil {
					logger.Warn("Embedding cache store failed", zap.Error(err))
				}
			}
		}
	}

	logger.Debug("Embeddings generated",
		zap.Int("inputs", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missIdx)),
	)

	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out [][]float32

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs,
			Model: openai.EmbeddingModel(c.model),
		})
		if err != nil {
			return fmt.Errorf("create embeddings: %w", err)
		}

		if len(resp.Data) != len(inputs) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(inputs))
		}

		out = make([][]float32, len(inputs))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return fmt.Errorf("embedding index out of range: %d", d.Index)
			}
			out[d.Index] = d.Embedding
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

// isTransient classifies service failures: rate limits, service-side
// errors, and network timeouts are retryable; auth failures and
// malformed input are not.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true
		case apiErr.HTTPStatusCode == 408:
			return true
		case apiErr.HTTPStatusCode >= 500:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Transport-level failures without a structured cause: assume the
	// service may recover.
	return true
}
