package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/metrics"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/circuitbreaker"
	"github.com/intellidocs/backend/pkg/logger"
	"github.com/intellidocs/backend/pkg/utils"
)

// InsufficientAnswer is the fixed reply for strict-mode queries with no
// retrievable context. It is returned without calling the generation
// service at all.
const InsufficientAnswer = "Insufficient data: the indexed documents do not contain information relevant to this question."

// notFoundMarker is the phrase the strict prompt instructs the model to
// reply with when the supplied context cannot answer the question.
const notFoundMarker = "Insufficient data"

const strictSystemPrompt = `You are a professional document Q&A assistant. Answer strictly from the provided context.

Rules:
1. Use only the context below to answer the question.
2. If the context does not contain enough information, reply exactly with "Insufficient data".
3. Do not add information that is not in the context.
4. Cite sources using the [source N] markers from the context.
5. Keep the answer concise and accurate.`

const permissiveSystemPrompt = `You are a professional document Q&A assistant. Answer mainly from the provided context, falling back on general knowledge where the context is silent. When the context is insufficient, say so and give your best judgment. Cite [source N] markers for anything taken from the context.`

// Generator produces grounded answers through the external generation
// service. It performs no retries; the orchestrator owns retry policy.
type Generator struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

func New(apiKey, baseURL, model string, temperature float32, maxTokens int, timeout time.Duration) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Generator{
		api:         openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb: circuitbreaker.NewCircuitBreaker("generation", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
	}
}

// Generate answers question from the assembled context under the given
// grounding policy. In strict mode an empty context short-circuits to
// the fixed insufficient-information answer with zero citations and no
// service call. Service failures surface as *rag.GenerationError.
func (g *Generator) Generate(ctx context.Context, question string, c rag.Context, strict bool) (*rag.QAResult, error) {
	if strict && c.Empty() {
		logger.Info("Strict mode with empty context, skipping generation",
			zap.String("question", truncate(question, 80)),
		)
		return &rag.QAResult{
			Question:  question,
			Answer:    InsufficientAnswer,
			Citations: []rag.Citation{},
			NotFound:  true,
		}, nil
	}

	systemPrompt := permissiveSystemPrompt
	if strict {
		systemPrompt = strictSystemPrompt
	}

	contextText := c.Text
	if contextText == "" {
		contextText = "(no document context available)"
	}

	userPrompt := fmt.Sprintf("Context information:\n%s\n\nQuestion: %s\n\nAnswer:", contextText, question)

	start := time.Now()

	var resp openai.ChatCompletionResponse
	err := g.cb.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		resp, err = g.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       g.model,
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
		})
		return err
	})

	latency := time.Since(start)

	if err != nil {
		return nil, &rag.GenerationError{
			Err:       fmt.Errorf("create chat completion: %w", err),
			Transient: isTransient(err),
		}
	}

	if len(resp.Choices) == 0 {
		return nil, &rag.GenerationError{
			Err: errors.New("generation service returned no choices"),
		}
	}

	metrics.LLMTokensUsed.WithLabelValues(g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(g.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	notFound := strict && strings.Contains(answer, notFoundMarker)

	citations := c.Citations
	if citations == nil {
		citations = []rag.Citation{}
	}

	result := &rag.QAResult{
		Question:  question,
		Answer:    answer,
		Citations: citations,
		NotFound:  notFound,
		Usage: rag.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMS: int(latency.Milliseconds()),
	}

	logger.Debug("Answer generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Bool("not_found", notFound),
		zap.Duration("latency", latency),
	)

	return result, nil
}

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

	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return utils.TruncateRunes(s, n) + "..."
}
