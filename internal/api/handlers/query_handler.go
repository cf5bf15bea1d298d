package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/orchestrator"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/retriever"
	"github.com/intellidocs/backend/internal/storage/sqlite"
	"github.com/intellidocs/backend/pkg/logger"
)

type QueryHandler struct {
	orch      *orchestrator.Orchestrator
	retriever *retriever.Retriever
	db        *sqlite.Client
}

func NewQueryHandler(orch *orchestrator.Orchestrator, r *retriever.Retriever, db *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		orch:      orch,
		retriever: r,
		db:        db,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
		Strict   *bool  `json:"strict"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	result, err := h.orch.Ask(c.Context(), req.Question, orchestrator.AskOptions{
		TopK:   req.TopK,
		Strict: req.Strict,
	})
	if err != nil {
		return h.queryError(c, err)
	}

	return c.JSON(result)
}

// HandleSearch runs retrieval only, returning scored chunks without
// answer generation. Useful for debugging what the index sees.
func (h *QueryHandler) HandleSearch(c *fiber.Ctx) error {
	queryText := c.Query("q")
	if queryText == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	topK := c.QueryInt("top_k", 5)

	hits, err := h.retriever.Retrieve(c.Context(), queryText, topK)
	if err != nil {
		return h.queryError(c, err)
	}

	type hit struct {
		ChunkID  string  `json:"chunk_id"`
		Document string  `json:"document"`
		Ordinal  int     `json:"ordinal"`
		Text     string  `json:"text"`
		Score    float32 `json:"score"`
	}

	results := make([]hit, len(hits))
	for i, s := range hits {
		results[i] = hit{
			ChunkID:  s.Chunk.ID,
			Document: s.Chunk.DocName,
			Ordinal:  s.Chunk.Ordinal,
			Text:     s.Chunk.Text,
			Score:    s.Score,
		}
	}

	return c.JSON(fiber.Map{
		"query":   queryText,
		"results": results,
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	records, err := h.db.GetQueryHistory(limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}

func (h *QueryHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.db.Stats()
	if err != nil {
		logger.Error("Failed to load stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	return c.JSON(stats)
}

// queryError maps pipeline failures to HTTP statuses: bad input is the
// caller's fault, deadline overruns are 504, upstream service failures
// are 502, everything else is 500.
func (h *QueryHandler) queryError(c *fiber.Ctx, err error) error {
	logger.Error("Query failed", zap.Error(err))

	switch {
	case errors.Is(err, rag.ErrInvalidArgument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, rag.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "Query deadline exceeded",
		})
	}

	var ee *rag.EmbeddingError
	var ge *rag.GenerationError
	if errors.As(err, &ee) || errors.As(err, &ge) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Upstream service failure",
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process query",
	})
}
