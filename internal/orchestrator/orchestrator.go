package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/assembler"
	"github.com/intellidocs/backend/internal/metrics"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/storage/models"
	"github.com/intellidocs/backend/pkg/logger"
	"github.com/intellidocs/backend/pkg/retry"
	"github.com/intellidocs/backend/pkg/utils"
)

// Step names the pipeline stage a query is in. Failures carry the step
// they happened in so callers can report where things went wrong.
type Step string

const (
	StepRetrieve Step = "retrieve"
	StepAssemble Step = "assemble"
	StepGenerate Step = "generate"
)

// StepError attributes a pipeline failure to its stage.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Retriever is the slice of the retrieval layer the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Scored, error)
}

// Generator produces a grounded answer from assembled context.
type Generator interface {
	Generate(ctx context.Context, question string, c rag.Context, strict bool) (*rag.QAResult, error)
}

// History records answered questions. A nil History disables recording.
type History interface {
	InsertQueryRecord(record *models.QueryRecord, citations []rag.Citation) error
}

// AnswerCache short-circuits repeated questions. A nil AnswerCache
// disables caching.
type AnswerCache interface {
	GetAnswer(ctx context.Context, questionHash string) (*rag.QAResult, bool, error)
	SetAnswer(ctx context.Context, questionHash string, result *rag.QAResult, ttl time.Duration) error
}

// Scorer maps a finished answer and its retrieval hits to a confidence
// in [0, 1].
type Scorer func(result *rag.QAResult, hits []rag.Scored) float64

// Config tunes one orchestrator instance.
type Config struct {
	TopK                 int
	StrictMode           bool
	MaxContextTokens     int
	RetryCount           int
	QueryTimeout         time.Duration
	MaxConcurrentQueries int
	AnswerTTL            time.Duration
	Scorer               Scorer
}

// Orchestrator drives one question through retrieve, assemble, and
// generate. It owns the retry policy and the per-query deadline;
// components below it fail fast and never retry on their own.
type Orchestrator struct {
	retriever Retriever
	assembler *assembler.Assembler
	generator Generator
	history   History
	cache     AnswerCache

	cfg Config
	sem chan struct{}
}

func New(r Retriever, a *assembler.Assembler, g Generator, cfg Config) *Orchestrator {
	if cfg.Scorer == nil {
		cfg.Scorer = DefaultScorer
	}
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 8
	}

	return &Orchestrator{
		retriever: r,
		assembler: a,
		generator: g,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrentQueries),
	}
}

// WithHistory attaches query-history recording.
func (o *Orchestrator) WithHistory(h History) *Orchestrator {
	o.history = h
	return o
}

// WithAnswerCache attaches an answer cache.
func (o *Orchestrator) WithAnswerCache(c AnswerCache) *Orchestrator {
	o.cache = c
	return o
}

// AskOptions overrides per-query settings. Zero values fall back to the
// orchestrator defaults.
type AskOptions struct {
	TopK   int
	Strict *bool
}

// Ask answers one question end to end. Concurrent calls beyond the
// configured limit block until a slot frees or the context is done.
// Timeouts anywhere in the pipeline surface as rag.ErrTimeout; other
// failures surface as *StepError wrapping the component error.
func (o *Orchestrator) Ask(ctx context.Context, question string, opts AskOptions) (*rag.QAResult, error) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, o.mapCtxErr(ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	topK := o.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	strict := o.cfg.StrictMode
	if opts.Strict != nil {
		strict = *opts.Strict
	}

	questionHash := utils.HashStrings(question, strconv.FormatBool(strict), strconv.Itoa(topK))

	if o.cache != nil {
		cached, ok, err := o.cache.GetAnswer(ctx, questionHash)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			metrics.QueryTotal.WithLabelValues("cached").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	start := time.Now()
	result, err := o.run(ctx, question, topK, strict)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, rag.ErrTimeout) {
			outcome = "timeout"
		}
		metrics.QueryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
		metrics.QueryTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	result.ID = uuid.New().String()
	result.LatencyMS = int(elapsed.Milliseconds())

	metrics.QueryDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.ConfidenceScore.Observe(result.Confidence)

	if o.cache != nil {
		if err := o.cache.SetAnswer(ctx, questionHash, result, o.cfg.AnswerTTL); err != nil {
			logger.Warn("Answer cache store failed", zap.Error(err))
		}
	}

	o.record(result)

	logger.Info("Query answered",
		zap.String("query_id", result.ID),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("not_found", result.NotFound),
		zap.Duration("latency", elapsed),
	)

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, question string, topK int, strict bool) (*rag.QAResult, error) {
	retryCfg := retry.Config{
		MaxAttempts:    o.cfg.RetryCount,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      rag.IsTransient,
		Logger:         logger.GetLogger(),
	}

	hits, err := retry.DoWithResult(ctx, retryCfg, func() ([]rag.Scored, error) {
		return o.retriever.Retrieve(ctx, question, topK)
	})
	if err != nil {
		return nil, o.stepErr(StepRetrieve, err)
	}
	metrics.RetrievedChunks.Observe(float64(len(hits)))

	assembled := o.assembler.Assemble(hits)
	metrics.ContextTokens.Observe(float64(assembled.Tokens))

	result, err := retry.DoWithResult(ctx, retryCfg, func() (*rag.QAResult, error) {
		return o.generator.Generate(ctx, question, assembled, strict)
	})
	if err != nil {
		return nil, o.stepErr(StepGenerate, err)
	}

	result.Confidence = o.cfg.Scorer(result, hits)
	return result, nil
}

func (o *Orchestrator) record(result *rag.QAResult) {
	if o.history == nil {
		return
	}

	record := &models.QueryRecord{
		ID:               result.ID,
		Question:         result.Question,
		Answer:           result.Answer,
		Confidence:       result.Confidence,
		NotFound:         result.NotFound,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		LatencyMS:        result.LatencyMS,
		CreatedAt:        time.Now(),
	}

	if err := o.history.InsertQueryRecord(record, result.Citations); err != nil {
		logger.Warn("Failed to record query history", zap.Error(err))
	}
}

func (o *Orchestrator) stepErr(step Step, err error) error {
	if mapped := o.mapCtxErr(err); errors.Is(mapped, rag.ErrTimeout) {
		return mapped
	}
	return &StepError{Step: step, Err: err}
}

func (o *Orchestrator) mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", rag.ErrTimeout, err)
	}
	return err
}

// DefaultScorer derives confidence from the retrieval score
// distribution. A not-found answer scores zero; otherwise confidence
// grows with the mean similarity and, slightly, with the number of
// supporting chunks, capped below certainty.
func DefaultScorer(result *rag.QAResult, hits []rag.Scored) float64 {
	if result.NotFound || len(hits) == 0 {
		return 0
	}

	var sum float64
	for _, h := range hits {
		sum += float64(h.Score)
	}
	mean := sum / float64(len(hits))
	if mean < 0 {
		mean = 0
	}
	if mean > 1 {
		mean = 1
	}

	support := 0.05 * float64(len(hits))
	if support > 0.15 {
		support = 0.15
	}

	confidence := 0.3 + 0.5*mean + support
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}
