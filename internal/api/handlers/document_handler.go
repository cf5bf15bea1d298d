package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/ingestion"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/storage/sqlite"
	"github.com/intellidocs/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
}

func NewDocumentHandler(processor *ingestion.Processor, db *sqlite.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		db:        db,
	}
}

// HandleUpload accepts either a multipart file upload or a JSON body
// with name and content fields.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	name, content, contentType, err := h.readUpload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	doc, err := h.processor.Ingest(c.Context(), name, content, contentType)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidArgument) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to ingest document", zap.Error(err), zap.String("name", name))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (h *DocumentHandler) readUpload(c *fiber.Ctx) (name, content, contentType string, err error) {
	file, ferr := c.FormFile("file")
	if ferr == nil {
		f, err := file.Open()
		if err != nil {
			return "", "", "", errors.New("failed to open uploaded file")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return "", "", "", errors.New("failed to read uploaded file")
		}

		return file.Filename, string(data), file.Header.Get("Content-Type"), nil
	}

	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return "", "", "", errors.New("expected a multipart file or a JSON body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Content) == "" {
		return "", "", "", errors.New("name and content are required")
	}

	return req.Name, req.Content, "text/plain", nil
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.db.ListDocuments()
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	return c.JSON(fiber.Map{
		"documents": docs,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	doc, err := h.db.GetDocument(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to get document", zap.Error(err), zap.String("doc_id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get document",
		})
	}

	return c.JSON(doc)
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processor.Delete(c.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to delete document", zap.Error(err), zap.String("doc_id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	return c.JSON(fiber.Map{
		"deleted": id,
	})
}

// HandleReindex rebuilds the vector index from the stored chunks.
func (h *DocumentHandler) HandleReindex(c *fiber.Ctx) error {
	count, err := h.processor.Reindex(c.Context())
	if err != nil {
		logger.Error("Failed to reindex", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reindex",
		})
	}

	return c.JSON(fiber.Map{
		"reindexed_chunks": count,
	})
}
