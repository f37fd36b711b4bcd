package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"pdfchat/pkg/domain"
)

type docKey struct {
	owner string
	file  string
}

// MemoryStore is an in-process Store used for local development and tests.
// Search is an exhaustive cosine scan.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[docKey]domain.Document
	passages  map[docKey][]domain.Passage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[docKey]domain.Document),
		passages:  make(map[docKey][]domain.Passage),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{doc.OwnerKey, doc.FileName}
	if prev, ok := m.documents[key]; ok {
		doc.ID = prev.ID
		doc.CreatedAt = prev.CreatedAt
	}
	doc.Questions = append([]string(nil), doc.Questions...)
	m.documents[key] = doc
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, ownerKey, fileName string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[docKey{ownerKey, fileName}]
	return doc, ok, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, ownerKey string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := []domain.Document{}
	for key, doc := range m.documents {
		if key.owner == ownerKey {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].FileName < docs[j].FileName
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, ownerKey, fileName string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{ownerKey, fileName}
	doc, ok := m.documents[key]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	m.documents[key] = doc
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, ownerKey, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{ownerKey, fileName}
	delete(m.passages, key)
	if _, ok := m.documents[key]; !ok {
		return ErrNotFound
	}
	delete(m.documents, key)
	return nil
}

func (m *MemoryStore) ReplacePassages(_ context.Context, ownerKey, fileName string, passages []domain.Passage) error {
	copied := make([]domain.Passage, 0, len(passages))
	for _, p := range passages {
		if p.OwnerKey != ownerKey || p.FileName != fileName {
			return fmt.Errorf("passage %s does not belong to %s/%s", p.ID, ownerKey, fileName)
		}
		if len(p.Embedding) == 0 {
			return fmt.Errorf("passage %s: embedding vector is empty", p.ID)
		}
		p.Embedding = append([]float32(nil), p.Embedding...)
		copied = append(copied, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{ownerKey, fileName}
	if len(copied) == 0 {
		delete(m.passages, key)
		return nil
	}
	m.passages[key] = copied
	return nil
}

func (m *MemoryStore) SearchPassages(_ context.Context, embedding []float32, k int, filter domain.Filter) ([]domain.ScoredPassage, error) {
	if k <= 0 {
		return []domain.ScoredPassage{}, nil
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding vector is empty")
	}
	m.mu.RLock()
	var scored []domain.ScoredPassage
	for key, passages := range m.passages {
		if key.owner != filter.OwnerKey || (filter.FileName != "" && key.file != filter.FileName) {
			continue
		}
		for _, p := range passages {
			if len(p.Embedding) != len(embedding) {
				m.mu.RUnlock()
				return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), len(p.Embedding))
			}
			sp := domain.ScoredPassage{Passage: p, Score: cosine(embedding, p.Embedding)}
			sp.Embedding = nil
			scored = append(scored, sp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].FileName != scored[j].FileName {
			return scored[i].FileName < scored[j].FileName
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	if scored == nil {
		scored = []domain.ScoredPassage{}
	}
	return scored, nil
}

func (m *MemoryStore) DeletePassages(_ context.Context, ownerKey, fileName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{ownerKey, fileName}
	n := int64(len(m.passages[key]))
	delete(m.passages, key)
	return n, nil
}

// Passages returns a copy of the stored passages of one file in ordinal
// order.
func (m *MemoryStore) Passages(ownerKey, fileName string) []domain.Passage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Passage(nil), m.passages[docKey{ownerKey, fileName}]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
