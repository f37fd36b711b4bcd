// Package vectorstore binds an embedding provider to a passage index.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

// Service embeds texts and queries through one embedder so document and
// query vectors always share a space.
type Service struct {
	embedder ai.Embedder
	index    store.PassageIndex
}

func New(embedder ai.Embedder, index store.PassageIndex) *Service {
	return &Service{embedder: embedder, index: index}
}

// Embed returns the document-side embedding of text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.EmbedText(ctx, text, ai.TaskRetrievalDocument)
}

// Upsert writes passages grouped by (owner, file). Each group replaces the
// file's previous passage set, so re-ingesting is idempotent.
func (s *Service) Upsert(ctx context.Context, passages []domain.Passage) error {
	type group struct {
		owner, file string
	}
	var order []group
	grouped := make(map[group][]domain.Passage)
	for _, p := range passages {
		if len(p.Embedding) == 0 {
			return fmt.Errorf("passage %s has no embedding", p.ID)
		}
		g := group{p.OwnerKey, p.FileName}
		if _, seen := grouped[g]; !seen {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], p)
	}
	for _, g := range order {
		if err := s.index.ReplacePassages(ctx, g.owner, g.file, grouped[g]); err != nil {
			return fmt.Errorf("upsert %s: %w", g.file, err)
		}
	}
	return nil
}

// SimilaritySearch embeds query and returns up to k nearest passages within
// filter.
func (s *Service) SimilaritySearch(ctx context.Context, query string, k int, filter domain.Filter) ([]domain.ScoredPassage, error) {
	if k <= 0 {
		return []domain.ScoredPassage{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query text required")
	}
	vec, err := s.embedder.EmbedText(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.index.SearchPassages(ctx, vec, k, filter)
}

// DeleteFile drops every passage of one file.
func (s *Service) DeleteFile(ctx context.Context, ownerKey, fileName string) (int64, error) {
	return s.index.DeletePassages(ctx, ownerKey, fileName)
}
