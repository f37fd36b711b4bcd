package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/chathistory"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/extract"
	"pdfchat/pkg/rag"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/pkg/vectorstore"
)

// newChatModel is replaced in tests.
var newChatModel = ai.NewChatModel

// AppContext holds the collaborators a command needs. Without a database URL
// everything lives in memory for the duration of the command.
type AppContext struct {
	Owner    string
	Logger   *slog.Logger
	Registry *ai.Registry
	Store    store.Store
	Vectors  *vectorstore.Service
	Files    storage.FileStorage
	History  chathistory.Store

	chatCfg   ai.ProviderConfig
	chatModel ai.ChatModel
	persisted bool
}

// NewAppContext builds the command context from the global flags.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	if err := util.LoadDotEnv(cmd.String("env")); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: util.ParseLevel(cmd.String("log-level")),
	}))

	owner := strings.TrimSpace(cmd.String("owner"))
	if owner == "" {
		return nil, fmt.Errorf("owner is required (--owner or PDFCHAT_OWNER)")
	}

	dim := int(cmd.Int("embedding-dim"))
	var (
		dataStore store.Store
		persisted bool
	)
	if dsn := strings.TrimSpace(cmd.String("database-url")); dsn != "" {
		gs, err := store.NewGormStore(dsn, store.WithEmbeddingDim(dim))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		dataStore, persisted = gs, true
	} else {
		dataStore = store.NewMemoryStore()
	}

	embedder, err := ai.NewEmbedder(ai.ProviderConfig{
		Provider:   cmd.String("embedding-provider"),
		BaseURL:    cmd.String("embedding-base-url"),
		APIKey:     cmd.String("api-key"),
		Model:      cmd.String("embedding-model"),
		Dimensions: dim,
	})
	if err != nil {
		_ = dataStore.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	files, err := storage.NewDiskStore(cmd.String("storage-dir"))
	if err != nil {
		_ = dataStore.Close()
		return nil, fmt.Errorf("init file storage: %w", err)
	}
	history, err := chathistory.NewFileStore(cmd.String("history-dir"))
	if err != nil {
		_ = dataStore.Close()
		return nil, fmt.Errorf("init chat history: %w", err)
	}
	registry, err := ai.NewRegistry(nil, "")
	if err != nil {
		_ = dataStore.Close()
		return nil, err
	}

	return &AppContext{
		Owner:    owner,
		Logger:   logger,
		Registry: registry,
		Store:    dataStore,
		Vectors:  vectorstore.New(embedder, dataStore),
		Files:    files,
		History:  history,
		chatCfg: ai.ProviderConfig{
			Provider: cmd.String("chat-provider"),
			BaseURL:  cmd.String("chat-base-url"),
			APIKey:   cmd.String("api-key"),
		},
		persisted: persisted,
	}, nil
}

// Close releases the database connection.
func (ac *AppContext) Close() {
	if err := ac.Store.Close(); err != nil {
		ac.Logger.Warn("close store", "err", err)
	}
}

// ChatModel connects to the chat backend on first use.
func (ac *AppContext) ChatModel() (ai.ChatModel, error) {
	if ac.chatModel != nil {
		return ac.chatModel, nil
	}
	model, err := newChatModel(ac.chatCfg)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	ac.chatModel = model
	return model, nil
}

// Pipeline builds an ingestion pipeline. The chat model is only connected
// when questions are requested.
func (ac *AppContext) Pipeline(withQuestions bool) (*rag.Pipeline, error) {
	chunker, err := rag.NewChunker()
	if err != nil {
		return nil, err
	}
	opts := []rag.PipelineOption{rag.WithPipelineLogger(ac.Logger)}
	if withQuestions {
		model, err := ac.ChatModel()
		if err != nil {
			return nil, err
		}
		opts = append(opts, rag.WithQuestionModel(model, ac.Registry))
	}
	return rag.NewPipeline(ac.Files, extract.New(), chunker, ac.Vectors, opts...), nil
}

// IngestFiles runs every path through the pipeline and records the document.
func (ac *AppContext) IngestFiles(ctx context.Context, paths []string, opts rag.IngestOptions) ([]domain.Document, error) {
	pipeline, err := ac.Pipeline(opts.GenerateQuestions)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return docs, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		res, err := pipeline.Ingest(ctx, data, name, ac.Owner, opts)
		if err != nil {
			return docs, err
		}
		now := time.Now().UTC()
		doc := domain.Document{
			ID:           util.NewID(),
			OwnerKey:     ac.Owner,
			FileName:     name,
			StoragePath:  res.StoredPath,
			Title:        res.Title,
			Questions:    res.Questions,
			PassageCount: res.PassageCount,
			SizeBytes:    int64(len(data)),
			Status:       domain.StatusReady,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if doc.Questions == nil {
			doc.Questions = []string{}
		}
		if err := ac.Store.SaveDocument(ctx, doc); err != nil {
			return docs, fmt.Errorf("save document: %w", err)
		}
		ac.Logger.Info("document ingested", "file", name, "passages", res.PassageCount, "failed_passages", res.Failed)
		docs = append(docs, doc)
	}
	return docs, nil
}

// prepareScope ingests --doc files into the context. Without a database the
// index is empty, so at least one is required.
func (ac *AppContext) prepareScope(ctx context.Context, cmd *cli.Command) ([]string, error) {
	docs := cmd.StringSlice("doc")
	if !ac.persisted && len(docs) == 0 {
		return nil, fmt.Errorf("no database configured: pass --doc to index files for this run")
	}
	fileNames := append([]string(nil), cmd.StringSlice("file")...)
	if len(docs) > 0 {
		ingested, err := ac.IngestFiles(ctx, docs, rag.IngestOptions{})
		if err != nil {
			return nil, err
		}
		if len(fileNames) == 0 {
			for _, doc := range ingested {
				fileNames = append(fileNames, doc.FileName)
			}
		}
	}
	return fileNames, nil
}

func withTimeout(ctx context.Context, cmd *cli.Command) (context.Context, context.CancelFunc) {
	if d := cmd.Duration("timeout"); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
