package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID           string         `gorm:"primaryKey"`
	OwnerKey     string         `gorm:"not null;uniqueIndex:idx_document_owner_file,priority:1"`
	FileName     string         `gorm:"not null;uniqueIndex:idx_document_owner_file,priority:2"`
	StoragePath  string
	Title        string
	Questions    datatypes.JSON `gorm:"type:jsonb"`
	PassageCount int            `gorm:"not null;default:0"`
	SizeBytes    int64          `gorm:"not null"`
	Status       string         `gorm:"not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type PassageModel struct {
	ID        string           `gorm:"primaryKey"`
	OwnerKey  string           `gorm:"not null;index:idx_passage_scope,priority:1"`
	FileName  string           `gorm:"not null;index:idx_passage_scope,priority:2"`
	Ordinal   int              `gorm:"not null"`
	Page      int
	Label     string           `gorm:"not null"`
	Content   string           `gorm:"type:text;not null"`
	Metadata  datatypes.JSON   `gorm:"type:jsonb"`
	Embedding *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt time.Time        `gorm:"not null;index"`
}

// passageMetadata is the JSON blob stored beside each passage for
// consumers that read rows without the typed columns.
type passageMetadata struct {
	OwnerScopeKey string `json:"ownerScopeKey"`
	FileName      string `json:"fileName"`
	Ordinal       int    `json:"ordinal"`
	Label         string `json:"label"`
	Page          int    `json:"page,omitempty"`
}
