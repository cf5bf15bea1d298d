package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/rag"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddingServer returns a deterministic 2-dim vector per input:
// the input length and its first byte.
func fakeEmbeddingServer(t *testing.T, requests *int32, failFromRequest int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(requests, 1)
		if failFromRequest > 0 && n >= failFromRequest {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message": "rate limited",
					"type":    "requests",
				},
			})
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, len(req.Input))
		for i, text := range req.Input {
			var first float32
			if len(text) > 0 {
				first = float32(text[0])
			}
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(text)), first},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestEmbedPreservesOrder(t *testing.T) {
	var requests int32
	srv := fakeEmbeddingServer(t, &requests, 0)
	defer srv.Close()

	client := NewClient("test-key", srv.URL+"/v1", "test-model", 100, 5*time.Second)

	texts := []string{"alpha", "be", "gamma rays"}
	vectors, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, text := range texts {
		assert.InDelta(t, float32(len(text)), vectors[i][0], 1e-6)
		assert.InDelta(t, float32(text[0]), vectors[i][1], 1e-6)
	}
}

func TestEmbedBatches(t *testing.T) {
	var requests int32
	srv := fakeEmbeddingServer(t, &requests, 0)
	defer srv.Close()

	client := NewClient("test-key", srv.URL+"/v1", "test-model", 2, 5*time.Second)

	texts := []string{"one", "two", "three", "four", "five"}
	vectors, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests),
		"5 inputs with batch size 2 should take 3 requests")
}

func TestEmbedEmptyInput(t *testing.T) {
	var requests int32
	srv := fakeEmbeddingServer(t, &requests, 0)
	defer srv.Close()

	client := NewClient("test-key", srv.URL+"/v1", "test-model", 100, 5*time.Second)

	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestEmbedFailureReportsProgress(t *testing.T) {
	var requests int32
	srv := fakeEmbeddingServer(t, &requests, 2)
	defer srv.Close()

	client := NewClient("test-key", srv.URL+"/v1", "test-model", 2, 5*time.Second)

	_, err := client.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.Error(t, err)

	var embedErr *rag.EmbeddingError
	require.ErrorAs(t, err, &embedErr)
	assert.Equal(t, 2, embedErr.Embedded, "first batch succeeded before the failure")
	assert.True(t, embedErr.Transient, "429 is retryable")
	assert.True(t, rag.IsTransient(err))
}

func TestEmbedAuthFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "invalid api key",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer srv.Close()

	client := NewClient("bad-key", srv.URL+"/v1", "test-model", 100, 5*time.Second)

	_, err := client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)

	var embedErr *rag.EmbeddingError
	require.ErrorAs(t, err, &embedErr)
	assert.False(t, embedErr.Transient, "auth failures must not be retried")
	assert.False(t, rag.IsTransient(err))
}

type mapCache struct {
	vectors map[string][]float32
	gets    int
	hits    int
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{vectors: make(map[string][]float32)}
}

func (m *mapCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	m.gets++
	v, ok := m.vectors[key]
	if ok {
		m.hits++
	}
	return v, ok, nil
}

func (m *mapCache) SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	m.sets++
	m.vectors[key] = vector
	return nil
}

func TestEmbedUsesCache(t *testing.T) {
	var requests int32
	srv := fakeEmbeddingServer(t, &requests, 0)
	defer srv.Close()

	cache := newMapCache()
	client := NewClient("test-key", srv.URL+"/v1", "test-model", 100, 5*time.Second, WithCache(cache))

	texts := []string{"alpha", "beta"}

	first, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Equal(t, 2, cache.sets)

	second, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "second call must be served from cache")
	assert.Equal(t, 2, cache.hits)
	assert.Equal(t, first, second)
}
