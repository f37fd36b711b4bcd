package store

import (
	"context"
	"errors"

	"pdfchat/pkg/domain"
)

// ErrNotFound is returned when a document row does not exist.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the per-owner registry of uploaded documents.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, ownerKey, fileName string) (domain.Document, bool, error)
	ListDocuments(ctx context.Context, ownerKey string) ([]domain.Document, error)
	SetStatus(ctx context.Context, ownerKey, fileName string, status domain.DocumentStatus, errMsg string) error
	// DeleteDocument removes the row and every passage of the file in one
	// transaction.
	DeleteDocument(ctx context.Context, ownerKey, fileName string) error
}

// PassageIndex stores embedded passages and answers nearest-neighbour
// queries.
type PassageIndex interface {
	// ReplacePassages swaps the passage set of one file atomically.
	ReplacePassages(ctx context.Context, ownerKey, fileName string, passages []domain.Passage) error
	// SearchPassages returns up to k passages matching filter, best first.
	// Score is cosine similarity.
	SearchPassages(ctx context.Context, embedding []float32, k int, filter domain.Filter) ([]domain.ScoredPassage, error)
	DeletePassages(ctx context.Context, ownerKey, fileName string) (int64, error)
}

// Store combines the registry and the index over one database.
type Store interface {
	DocumentStore
	PassageIndex
	Close() error
}
