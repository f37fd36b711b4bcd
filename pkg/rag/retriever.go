package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"pdfchat/pkg/domain"
)

// VectorStore is the embedding + similarity-search collaborator.
type VectorStore interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Upsert(ctx context.Context, passages []domain.Passage) error
	SimilaritySearch(ctx context.Context, query string, k int, filter domain.Filter) ([]domain.ScoredPassage, error)
	DeleteFile(ctx context.Context, ownerKey, fileName string) (int64, error)
}

// Retriever runs scoped similarity searches.
type Retriever struct {
	store  VectorStore
	logger *slog.Logger
}

type RetrieverOption func(*Retriever)

func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRetriever(store VectorStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k passages per requested file (or k owner-wide when
// scope names no file). Results of several files are concatenated in the
// order the files were requested; each file's slice is sorted by descending
// score.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, scope domain.Scope) (domain.RetrievalResult, error) {
	result := domain.RetrievalResult{Query: query, Passages: []domain.ScoredPassage{}}
	if k < 0 {
		return result, ErrInvalidK
	}
	if k == 0 || strings.TrimSpace(scope.OwnerKey) == "" {
		return result, nil
	}
	if strings.TrimSpace(query) == "" {
		return result, ErrEmptyQuery
	}

	files := dedupeFileNames(scope.FileNames)
	if len(files) == 0 {
		passages, err := r.search(ctx, query, k, domain.Filter{OwnerKey: scope.OwnerKey})
		if err != nil {
			return result, err
		}
		result.Passages = passages
		return result, nil
	}

	perFile := make([][]domain.ScoredPassage, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			passages, err := r.search(gctx, query, k, domain.Filter{OwnerKey: scope.OwnerKey, FileName: file})
			if err != nil {
				return fmt.Errorf("retrieve from %s: %w", file, err)
			}
			perFile[i] = passages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	for _, passages := range perFile {
		result.Passages = append(result.Passages, passages...)
	}
	r.logger.DebugContext(ctx, "retrieved passages",
		"files", len(files), "k", k, "count", len(result.Passages))
	return result, nil
}

// search runs one sub-query and re-applies the filter client-side.
func (r *Retriever) search(ctx context.Context, query string, k int, filter domain.Filter) ([]domain.ScoredPassage, error) {
	found, err := r.store.SimilaritySearch(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScoredPassage, 0, len(found))
	for _, sp := range found {
		if !filter.Matches(sp.Passage) {
			r.logger.WarnContext(ctx, "dropping passage outside scope",
				"passage_id", sp.ID, "file", sp.FileName)
			continue
		}
		out = append(out, sp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func dedupeFileNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
