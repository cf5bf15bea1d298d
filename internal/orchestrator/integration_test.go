package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/assembler"
	"github.com/intellidocs/backend/internal/chunker"
	"github.com/intellidocs/backend/internal/embedding"
	"github.com/intellidocs/backend/internal/generator"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/retriever"
	"github.com/intellidocs/backend/internal/vectorindex"
)

// keywordVector embeds text onto a fixed 3-dim space by topic keyword,
// so retrieval behaves like a tiny semantic model.
func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "deadline"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "budget"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": keywordVector(text),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Answer from the supplied context the way a grounded model
		// would: echo the date only if the context carries it.
		answer := "Insufficient data"
		for _, m := range req.Messages {
			if m.Role == "user" && strings.Contains(m.Content, "March 15, 2025") {
				answer = "The project deadline is March 15, 2025. [source 1]"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]interface{}{
				{
					"index": 0,
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": answer,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     50,
				"completion_tokens": 12,
				"total_tokens":      62,
			},
		})
	})

	return httptest.NewServer(mux)
}

func TestPipelineEndToEnd(t *testing.T) {
	srv := fakeOpenAI(t)
	defer srv.Close()

	ctx := context.Background()

	embedClient := embedding.NewClient("test-key", srv.URL+"/v1", "test-model", 100, 5*time.Second)
	gen := generator.New("test-key", srv.URL+"/v1", "test-model", 0, 500, 5*time.Second)

	ch, err := chunker.New(200, 40)
	require.NoError(t, err)

	doc := rag.Document{
		ID:   "plan",
		Name: "plan.txt",
		Content: "Project overview for the new release.\n\n" +
			"The project deadline is March 15, 2025. All feature work must land before then.\n\n" +
			"The budget was approved in January and covers two additional contractors.\n\n" +
			"Weekly sync meetings happen on Tuesdays.",
	}
	chunks, err := ch.Split(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedClient.Embed(ctx, texts)
	require.NoError(t, err)

	idx := vectorindex.New(vectorindex.MetricCosine, "test-model")
	entries := make([]rag.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = rag.Entry{Chunk: c, Vector: vectors[i]}
	}
	require.NoError(t, idx.Add(ctx, entries))

	retr := retriever.New(embedClient, idx, 0.1)
	o := New(retr, assembler.New(3000), gen, Config{
		TopK:                 3,
		StrictMode:           true,
		MaxContextTokens:     3000,
		RetryCount:           3,
		QueryTimeout:         10 * time.Second,
		MaxConcurrentQueries: 2,
	})

	result, err := o.Ask(ctx, "What is the project deadline?", AskOptions{})
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "March 15, 2025")
	assert.False(t, result.NotFound)
	assert.NotEmpty(t, result.ID)
	assert.Greater(t, result.Confidence, 0.0)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "plan.txt", result.Citations[0].Document)
	assert.Contains(t, result.Citations[0].Snippet, "deadline")

	// A question the corpus cannot answer retrieves unrelated context,
	// the strict prompt replies with the marker, and confidence is zero.
	miss, err := o.Ask(ctx, "Who is the staffing vendor?", AskOptions{})
	require.NoError(t, err)
	assert.True(t, miss.NotFound)
	assert.Zero(t, miss.Confidence)
}
