package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/orchestrator"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/logger"
)

// Asker is the slice of the orchestrator the socket handler needs.
type Asker interface {
	Ask(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error)
}

// wsConn is the subset of *websocket.Conn the handler uses.
type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type questionMessage struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	Strict   *bool  `json:"strict"`
}

// WebSocketHandler streams answers word by word so clients can render
// progressively. The pipeline itself is not streaming; the full answer
// is produced first, then chunked onto the socket.
type WebSocketHandler struct {
	orch Asker
}

func NewWebSocketHandler(orch Asker) *WebSocketHandler {
	return &WebSocketHandler{orch: orch}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	h.serve(c)
	logger.Info("WebSocket connection closed")
}

// serve reads questions on one goroutine and answers them on another,
// under a per-connection context. A dropped connection cancels the
// context, so an in-flight query is abandoned instead of running to
// completion for nobody.
func (h *WebSocketHandler) serve(c wsConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer c.Close()

	questions := make(chan questionMessage)
	go func() {
		defer cancel()
		defer close(questions)
		for {
			var msg questionMessage
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "question" {
				continue
			}
			questions <- msg
		}
	}()

	for msg := range questions {
		err := h.streamAnswer(ctx, c, msg.Question, orchestrator.AskOptions{
			TopK:   msg.TopK,
			Strict: msg.Strict,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, "Failed to process question")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(ctx context.Context, c wsConn, question string, opts orchestrator.AskOptions) error {
	h.send(c, "status", "Searching documents...")

	result, err := h.orch.Ask(ctx, question, opts)
	if err != nil {
		return err
	}

	words := splitWords(result.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.send(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"id":         result.ID,
		"citations":  result.Citations,
		"confidence": result.Confidence,
		"not_found":  result.NotFound,
		"latency_ms": result.LatencyMS,
	})
}

func (h *WebSocketHandler) send(c wsConn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c wsConn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitWords(text string) []string {
	words := []string{}
	current := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			current += string(char)
		}
	}

	if current != "" {
		words = append(words, current)
	}

	return words
}
