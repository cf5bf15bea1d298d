package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/api/handlers"
	"github.com/intellidocs/backend/internal/assembler"
	"github.com/intellidocs/backend/internal/cache/redis"
	"github.com/intellidocs/backend/internal/chunker"
	"github.com/intellidocs/backend/internal/embedding"
	"github.com/intellidocs/backend/internal/generator"
	"github.com/intellidocs/backend/internal/ingestion"
	"github.com/intellidocs/backend/internal/metrics"
	"github.com/intellidocs/backend/internal/middleware/ratelimit"
	"github.com/intellidocs/backend/internal/middleware/security"
	"github.com/intellidocs/backend/internal/middleware/validation"
	"github.com/intellidocs/backend/internal/orchestrator"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/retriever"
	"github.com/intellidocs/backend/internal/storage/sqlite"
	"github.com/intellidocs/backend/internal/vectorindex"
	"github.com/intellidocs/backend/internal/vectorindex/milvus"
	"github.com/intellidocs/backend/pkg/config"
	appLogger "github.com/intellidocs/backend/pkg/logger"
)

// vectorStore is what both index backends provide.
type vectorStore interface {
	Add(ctx context.Context, entries []rag.Entry) error
	Rebuild(ctx context.Context, entries []rag.Entry) error
	Search(ctx context.Context, vector []float32, k int) ([]rag.Scored, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting IntelliDocs API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var store vectorStore
	var memIndex *vectorindex.Index

	switch cfg.Index.Backend {
	case "milvus":
		milvusStore, err := milvus.NewStore(context.Background(), cfg.Index.Endpoint, cfg.Index.Collection, cfg.LLM.EmbeddingDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus store", zap.Error(err))
		}
		defer milvusStore.Close()
		store = milvusStore
	default:
		metric, err := vectorindex.ParseMetric(cfg.Index.Metric)
		if err != nil {
			appLogger.Fatal("Invalid index metric", zap.Error(err))
		}
		memIndex = vectorindex.New(metric, cfg.LLM.EmbeddingModel)
		if err := memIndex.Load(cfg.Index.Path); err != nil {
			// A missing file on first boot is expected; anything else
			// deserves a look before serving stale answers.
			if errors.Is(err, rag.ErrIndexLoad) {
				appLogger.Warn("No persisted index loaded, starting empty", zap.Error(err))
			} else {
				appLogger.Fatal("Failed to load index", zap.Error(err))
			}
		}
		store = memIndex
	}

	embedOpts := []embedding.Option{}
	if redisClient != nil {
		embedOpts = append(embedOpts, embedding.WithCache(redisClient))
	}
	embedClient := embedding.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.EmbeddingModel,
		cfg.RAG.EmbedBatchSize,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
		embedOpts...,
	)

	gen := generator.New(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	ch, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		appLogger.Fatal("Failed to create chunker", zap.Error(err))
	}

	retr := retriever.New(embedClient, store, cfg.RAG.MinScore)
	asm := assembler.New(cfg.RAG.MaxContextTokens)

	orch := orchestrator.New(retr, asm, gen, orchestrator.Config{
		TopK:                 cfg.RAG.TopK,
		StrictMode:           cfg.RAG.StrictMode,
		MaxContextTokens:     cfg.RAG.MaxContextTokens,
		RetryCount:           cfg.RAG.RetryCount,
		QueryTimeout:         cfg.QueryTimeout(),
		MaxConcurrentQueries: cfg.RAG.MaxConcurrentQueries,
		AnswerTTL:            time.Duration(cfg.Redis.AnswerTTLSec) * time.Second,
	}).WithHistory(sqliteClient)
	if redisClient != nil {
		orch.WithAnswerCache(redisClient)
	}

	processor := ingestion.NewProcessor(sqliteClient, store, embedClient, ch)
	if redisClient != nil {
		processor.WithInvalidator(redisClient)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	queryHandler := handlers.NewQueryHandler(orch, retr, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(orch)

	api := app.Group("/api/v1", limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)
	api.Get("/search", queryHandler.HandleSearch)
	api.Get("/stats", queryHandler.GetStats)

	api.Post("/documents", documentHandler.HandleUpload)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)
	api.Post("/reindex", documentHandler.HandleReindex)

	app.Get("/metrics", metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if _, err := sqliteClient.Stats(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()

	if memIndex != nil {
		if err := memIndex.Persist(cfg.Index.Path); err != nil {
			appLogger.Error("Failed to persist index on shutdown", zap.Error(err))
		}
	}

	appLogger.Info("Server stopped")
}
