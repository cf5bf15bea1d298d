package retriever

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/logger"
)

// Embedder is the slice of the embedding client the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the slice of the vector index the retriever needs.
// Both the in-memory index and the milvus store satisfy it.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]rag.Scored, error)
}

// Retriever embeds a query and returns the top-K most similar chunks.
// An optional minimum-score threshold drops weak hits, so the result
// may be shorter than top-K.
type Retriever struct {
	embedder Embedder
	index    Searcher
	minScore float32
}

func New(embedder Embedder, index Searcher, minScore float32) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		minScore: minScore,
	}
}

// Retrieve returns chunks similar to query, descending by score.
// Embedding and index errors propagate unchanged.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]rag.Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is empty", rag.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", rag.ErrInvalidArgument, topK)
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, err
	}

	results := hits[:0:len(hits)]
	for _, h := range hits {
		if h.Score < r.minScore {
			continue
		}
		results = append(results, h)
	}

	logger.Debug("Retrieval completed",
		zap.Int("top_k", topK),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(results)),
	)

	return results, nil
}
