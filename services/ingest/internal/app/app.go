package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/rag"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
)

// DefaultExtensions are the upload types the extractor understands.
var DefaultExtensions = []string{".pdf", ".epub", ".html", ".htm", ".txt", ".md"}

// JobQueue is the re-index queue as seen by the app.
type JobQueue interface {
	Enqueue(ctx context.Context, ownerKey, fileName string) (queue.Job, error)
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
	Start(ctx context.Context, concurrency int, handler queue.Handler)
}

// Config holds the collaborators of the ingest service.
type Config struct {
	Pipeline  *rag.Pipeline
	Documents store.DocumentStore
	Files     storage.FileStorage
	// Jobs is optional; re-index requests fail without it.
	Jobs              JobQueue
	AllowedExtensions []string
	Logger            *slog.Logger
}

// App owns the document registry and drives the ingestion pipeline.
type App struct {
	pipeline   *rag.Pipeline
	documents  store.DocumentStore
	files      storage.FileStorage
	jobs       JobQueue
	extensions map[string]struct{}
	logger     *slog.Logger
	now        func() time.Time
}

// New validates collaborators and builds the app.
func New(cfg Config) (*App, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("ingestion pipeline required")
	}
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file storage required")
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		pipeline:   cfg.Pipeline,
		documents:  cfg.Documents,
		files:      cfg.Files,
		jobs:       cfg.Jobs,
		extensions: allowed,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// UploadRequest is one document upload.
type UploadRequest struct {
	OwnerKey          string
	FileName          string
	Data              []byte
	GenerateQuestions bool
	ModelID           string
}

// Upload ingests a document and records it in the registry. A failed
// ingestion whose blob was stored is recorded with status failed so it can
// be re-indexed later.
func (a *App) Upload(ctx context.Context, req UploadRequest) (domain.Document, error) {
	owner := strings.TrimSpace(req.OwnerKey)
	name := strings.TrimSpace(filepath.Base(req.FileName))
	if owner == "" {
		return domain.Document{}, fmt.Errorf("%w: owner key required", ErrInvalidInput)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return domain.Document{}, fmt.Errorf("%w: file name required", ErrInvalidInput)
	}
	if !a.IsExtensionAllowed(name) {
		return domain.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}
	if len(req.Data) == 0 {
		return domain.Document{}, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}

	logger := util.LoggerFromContext(ctx).With("owner_scope", ownerTag(owner), "file", name)
	start := time.Now()
	res, err := a.pipeline.Ingest(ctx, req.Data, name, owner, rag.IngestOptions{
		GenerateQuestions: req.GenerateQuestions,
		ModelID:           req.ModelID,
	})
	now := a.now()
	doc := domain.Document{
		ID:          util.NewID(),
		OwnerKey:    owner,
		FileName:    name,
		StoragePath: res.StoredPath,
		SizeBytes:   int64(len(req.Data)),
		Questions:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err != nil {
		logger.WarnContext(ctx, "ingestion failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		if res.StoredPath != "" {
			doc.Status = domain.StatusFailed
			doc.ErrorMessage = err.Error()
			if serr := a.documents.SaveDocument(ctx, doc); serr != nil {
				logger.ErrorContext(ctx, "record failed document", "err", serr)
			}
		}
		return domain.Document{}, err
	}

	doc.Status = domain.StatusReady
	doc.Title = res.Title
	doc.Questions = res.Questions
	doc.PassageCount = res.PassageCount
	if err := a.documents.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	logger.InfoContext(ctx, "document ingested",
		"passages", res.PassageCount,
		"failed_passages", res.Failed,
		"questions", len(res.Questions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if saved, ok, err := a.documents.GetDocument(ctx, owner, name); err == nil && ok {
		return saved, nil
	}
	return doc, nil
}

// ListDocuments returns the owner's documents, oldest first.
func (a *App) ListDocuments(ctx context.Context, ownerKey string) ([]domain.Document, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return nil, fmt.Errorf("%w: owner key required", ErrInvalidInput)
	}
	return a.documents.ListDocuments(ctx, ownerKey)
}

// DeleteDocument removes the blob, then the row and its passages. When the
// database delete fails after the blob is gone the row is flagged
// inconsistent.
func (a *App) DeleteDocument(ctx context.Context, ownerKey, fileName string) error {
	doc, err := a.getDocument(ctx, ownerKey, fileName)
	if err != nil {
		return err
	}
	logger := util.LoggerFromContext(ctx).With("owner_scope", ownerTag(doc.OwnerKey), "file", doc.FileName)
	if doc.StoragePath != "" {
		if err := a.files.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete stored file: %w", err)
		}
	}
	if err := a.documents.DeleteDocument(ctx, doc.OwnerKey, doc.FileName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		logger.ErrorContext(ctx, "delete document row failed", "err", err)
		if serr := a.documents.SetStatus(context.WithoutCancel(ctx), doc.OwnerKey, doc.FileName,
			domain.StatusInconsistent, "stored file deleted but index cleanup failed"); serr != nil {
			logger.ErrorContext(ctx, "flag inconsistent document failed", "err", serr)
		}
		return fmt.Errorf("delete document: %w", err)
	}
	logger.InfoContext(ctx, "document deleted")
	return nil
}

// RequestReindex queues a rebuild of a stored document's passages.
func (a *App) RequestReindex(ctx context.Context, ownerKey, fileName string) (queue.Job, error) {
	if a.jobs == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	doc, err := a.getDocument(ctx, ownerKey, fileName)
	if err != nil {
		return queue.Job{}, err
	}
	if doc.StoragePath == "" {
		return queue.Job{}, fmt.Errorf("%w: %s has no stored file", ErrInvalidInput, doc.FileName)
	}
	return a.jobs.Enqueue(ctx, doc.OwnerKey, doc.FileName)
}

// GetJob returns a job owned by ownerKey.
func (a *App) GetJob(ctx context.Context, ownerKey, jobID string) (queue.Job, error) {
	if a.jobs == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	job, ok, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return queue.Job{}, err
	}
	if !ok || job.OwnerKey != strings.TrimSpace(ownerKey) {
		return queue.Job{}, ErrNotFound
	}
	return job, nil
}

// StartWorkers consumes re-index jobs until ctx is done.
func (a *App) StartWorkers(ctx context.Context, concurrency int) {
	if a.jobs == nil {
		return
	}
	a.jobs.Start(ctx, concurrency, a.HandleReindex)
}

// HandleReindex is the queue handler: re-read the stored file and rebuild
// its passages.
func (a *App) HandleReindex(ctx context.Context, job queue.Job) error {
	doc, err := a.getDocument(ctx, job.OwnerKey, job.FileName)
	if err != nil {
		return err
	}
	res, err := a.pipeline.Reindex(ctx, doc.StoragePath, doc.FileName, doc.OwnerKey)
	if err != nil {
		if serr := a.documents.SetStatus(ctx, doc.OwnerKey, doc.FileName, domain.StatusFailed, err.Error()); serr != nil {
			a.logger.ErrorContext(ctx, "record re-index failure", "job_id", job.ID, "err", serr)
		}
		return err
	}
	doc.PassageCount = res.PassageCount
	doc.Status = domain.StatusReady
	doc.ErrorMessage = ""
	doc.UpdatedAt = a.now()
	if err := a.documents.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	a.logger.InfoContext(ctx, "document re-indexed",
		"job_id", job.ID, "file", doc.FileName, "passages", res.PassageCount)
	return nil
}

// IsExtensionAllowed reports whether name has an accepted extension.
func (a *App) IsExtensionAllowed(name string) bool {
	_, ok := a.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (a *App) getDocument(ctx context.Context, ownerKey, fileName string) (domain.Document, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	fileName = strings.TrimSpace(fileName)
	if ownerKey == "" || fileName == "" {
		return domain.Document{}, fmt.Errorf("%w: owner key and file name required", ErrInvalidInput)
	}
	doc, ok, err := a.documents.GetDocument(ctx, ownerKey, fileName)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// ownerTag is a short stable hash of an owner key; owner keys are often
// e-mail addresses and stay out of logs.
func ownerTag(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:6])
}
