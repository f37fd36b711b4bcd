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

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/extract"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/rag"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/pkg/vectorstore"
	"pdfchat/services/ingest/internal/app"
	"pdfchat/services/ingest/internal/config"
	"pdfchat/services/ingest/internal/server"
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

	files, err := openFileStorage(cfg)
	if err != nil {
		log.Fatalf("failed to init file storage: %v", err)
	}

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
	chunker, err := rag.NewChunker(rag.WithChunkSize(cfg.ChunkSize), rag.WithOverlap(cfg.ChunkOverlap))
	if err != nil {
		log.Fatalf("failed to init chunker: %v", err)
	}
	extractor := extract.New(
		extract.WithPdftotext(cfg.PdftotextEnabled),
		extract.WithTimeout(time.Duration(cfg.ExtractTimeoutSeconds)*time.Second),
	)
	pipeline := rag.NewPipeline(files, extractor, chunker, vectorstore.New(embedder, dataStore),
		rag.WithQuestionModel(chatModel, registry),
		rag.WithEmbedConcurrency(cfg.EmbedConcurrency),
		rag.WithPipelineLogger(logger),
	)

	appCfg := app.Config{
		Pipeline:          pipeline,
		Documents:         dataStore,
		Files:             files,
		AllowedExtensions: cfg.AllowedExtensions,
		Logger:            logger,
	}
	if cfg.RedisAddr != "" {
		jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
			Logger:     logger,
		})
		if err != nil {
			log.Fatalf("failed to init re-index queue: %v", err)
		}
		defer jobs.Close()
		appCfg.Jobs = jobs
	} else {
		logger.Warn("redisAddr not set; re-index jobs disabled")
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	appCore.StartWorkers(ctx, cfg.QueueConcurrency)

	httpServer := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
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

	slog.Info("ingest server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func openFileStorage(cfg config.FileConfig) (storage.FileStorage, error) {
	if cfg.StorageBackend == "disk" {
		return storage.NewDiskStore(cfg.StorageDir)
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}
