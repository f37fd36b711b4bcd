package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfchat/internal/ratelimit"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/chathistory"
	"pdfchat/pkg/rag"
	"pdfchat/pkg/store"
	"pdfchat/pkg/vectorstore"
	"pdfchat/services/chat/internal/app"
	"pdfchat/services/chat/internal/config"
	"pdfchat/services/chat/internal/server"
)

func main() {
	if err := util.LoadDotEnv(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	defer dataStore.Close()

	embedder, err := ai.NewEmbedder(cfg.Embedding)
	if err != nil {
		log.Fatalf("failed to init embedder: %v", err)
	}
	chatModel, err := ai.NewChatModel(cfg.Chat)
	if err != nil {
		log.Fatalf("failed to init chat model: %v", err)
	}
	registry, err := ai.NewRegistry(cfg.Models, cfg.DefaultModel)
	if err != nil {
		log.Fatalf("failed to init model registry: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
	}

	var history chathistory.Store
	if cfg.HistoryBackend == "redis" {
		history, err = chathistory.NewRedisStore(redisClient, cfg.HistoryPrefix)
	} else {
		history, err = chathistory.NewFileStore(cfg.HistoryDir)
	}
	if err != nil {
		log.Fatalf("failed to init chat history: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, ratelimit.Options{
			Prefix: "pdfchat:ratelimit:chat",
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	var assemblerOpts []rag.AssemblerOption
	if cfg.TokenBudget > 0 {
		counter, err := ai.NewTiktokenCounter()
		if err != nil {
			logger.Warn("tiktoken unavailable; estimating tokens", "err", err)
			assemblerOpts = append(assemblerOpts, rag.WithTokenBudget(ai.EstimateCounter{}, cfg.TokenBudget))
		} else {
			assemblerOpts = append(assemblerOpts, rag.WithTokenBudget(counter, cfg.TokenBudget))
		}
	}

	retriever := rag.NewRetriever(vectorstore.New(embedder, dataStore), rag.WithRetrieverLogger(logger))
	appCore, err := app.New(app.Config{
		Orchestrator: rag.NewOrchestrator(retriever, rag.NewAssembler(assemblerOpts...), chatModel, registry,
			rag.WithDefaultK(cfg.ChatK),
			rag.WithOrchestratorLogger(logger),
		),
		Annotator: rag.NewAnnotator(retriever, chatModel, registry,
			rag.WithAnnotatorK(cfg.CitationK),
			rag.WithAnnotatorLogger(logger),
		),
		History:  history,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:          appCore,
		Limiter:      limiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("chat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
