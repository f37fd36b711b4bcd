package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"pdfchat/pkg/domain"
)

const migrateLockID int64 = 58114021

const (
	defaultEmbeddingDim      = 1536
	canonicalEmbeddingDimEnv = "PDFCHAT_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres/pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&DocumentModel{}, &PassageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(
			"ALTER TABLE passage_models ALTER COLUMN embedding TYPE vector(%d)", embeddingDim,
		)).Error; err != nil {
			return fmt.Errorf("alter passage embedding type: %w", err)
		}
		if err := tx.Exec(`
			CREATE INDEX IF NOT EXISTS idx_passage_embedding
			ON passage_models USING hnsw (embedding vector_cosine_ops)
		`).Error; err != nil {
			return fmt.Errorf("create embedding index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDocument inserts or updates the document keyed by (owner, file name).
func (s *GormStore) SaveDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_key"}, {Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"storage_path", "title", "questions", "passage_count", "size_bytes", "status", "error_message", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetDocument(ctx context.Context, ownerKey, fileName string) (domain.Document, bool, error) {
	var model DocumentModel
	err := s.db.WithContext(ctx).
		Where("owner_key = ? AND file_name = ?", ownerKey, fileName).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns an owner's documents ordered by created_at.
func (s *GormStore) ListDocuments(ctx context.Context, ownerKey string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// SetStatus updates document status/error.
func (s *GormStore) SetStatus(ctx context.Context, ownerKey, fileName string, status domain.DocumentStatus, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("owner_key = ? AND file_name = ?", ownerKey, fileName).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes the document and its passages.
func (s *GormStore) DeleteDocument(ctx context.Context, ownerKey, fileName string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PassageModel{}, "owner_key = ? AND file_name = ?", ownerKey, fileName).Error; err != nil {
			return err
		}
		res := tx.Delete(&DocumentModel{}, "owner_key = ? AND file_name = ?", ownerKey, fileName)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplacePassages replaces all passages of one file.
func (s *GormStore) ReplacePassages(ctx context.Context, ownerKey, fileName string, passages []domain.Passage) error {
	models := make([]PassageModel, 0, len(passages))
	for _, p := range passages {
		if p.OwnerKey != ownerKey || p.FileName != fileName {
			return fmt.Errorf("passage %s does not belong to %s/%s", p.ID, ownerKey, fileName)
		}
		if err := s.validateEmbeddingDim(p.Embedding); err != nil {
			return fmt.Errorf("passage %s: %w", p.ID, err)
		}
		models = append(models, passageToModel(p))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PassageModel{}, "owner_key = ? AND file_name = ?", ownerKey, fileName).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

type scoredPassageRow struct {
	ID        string
	OwnerKey  string
	FileName  string
	Ordinal   int
	Page      int
	Label     string
	Content   string
	CreatedAt time.Time
	Score     float64
}

// SearchPassages ranks by cosine distance; score = 1 - distance.
func (s *GormStore) SearchPassages(ctx context.Context, embedding []float32, k int, filter domain.Filter) ([]domain.ScoredPassage, error) {
	if k <= 0 {
		return []domain.ScoredPassage{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	query := s.db.WithContext(ctx).Model(&PassageModel{}).
		Select("id, owner_key, file_name, ordinal, page, label, content, created_at, 1 - (embedding <=> ?) AS score", vec).
		Where("owner_key = ? AND embedding IS NOT NULL", filter.OwnerKey)
	if filter.FileName != "" {
		query = query.Where("file_name = ?", filter.FileName)
	}
	var rows []scoredPassageRow
	if err := query.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(k).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ScoredPassage, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ScoredPassage{
			Passage: domain.Passage{
				ID:        row.ID,
				OwnerKey:  row.OwnerKey,
				FileName:  row.FileName,
				Ordinal:   row.Ordinal,
				Page:      row.Page,
				Label:     domain.Label(row.Label),
				Content:   row.Content,
				CreatedAt: row.CreatedAt,
			},
			Score: row.Score,
		})
	}
	return out, nil
}

func (s *GormStore) DeletePassages(ctx context.Context, ownerKey, fileName string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&PassageModel{}, "owner_key = ? AND file_name = ?", ownerKey, fileName)
	return res.RowsAffected, res.Error
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func documentToModel(d domain.Document) DocumentModel {
	questions := d.Questions
	if questions == nil {
		questions = []string{}
	}
	raw, _ := json.Marshal(questions)
	return DocumentModel{
		ID:           d.ID,
		OwnerKey:     d.OwnerKey,
		FileName:     d.FileName,
		StoragePath:  d.StoragePath,
		Title:        d.Title,
		Questions:    raw,
		PassageCount: d.PassageCount,
		SizeBytes:    d.SizeBytes,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	questions := []string{}
	if len(m.Questions) > 0 {
		_ = json.Unmarshal(m.Questions, &questions)
	}
	return domain.Document{
		ID:           m.ID,
		OwnerKey:     m.OwnerKey,
		FileName:     m.FileName,
		StoragePath:  m.StoragePath,
		Title:        m.Title,
		Questions:    questions,
		PassageCount: m.PassageCount,
		SizeBytes:    m.SizeBytes,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func passageToModel(p domain.Passage) PassageModel {
	meta, _ := json.Marshal(passageMetadata{
		OwnerScopeKey: p.OwnerKey,
		FileName:      p.FileName,
		Ordinal:       p.Ordinal,
		Label:         string(p.Label),
		Page:          p.Page,
	})
	vec := pgvector.NewVector(p.Embedding)
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return PassageModel{
		ID:        p.ID,
		OwnerKey:  p.OwnerKey,
		FileName:  p.FileName,
		Ordinal:   p.Ordinal,
		Page:      p.Page,
		Label:     string(p.Label),
		Content:   p.Content,
		Metadata:  meta,
		Embedding: &vec,
		CreatedAt: createdAt,
	}
}
