package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/pkg/vectorstore"
)

// scriptedModel returns canned outputs in order and records every call.
type scriptedModel struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   [][]ai.Message
	options []ai.InvokeOptions
}

func (m *scriptedModel) Invoke(_ context.Context, messages []ai.Message, opts ai.InvokeOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	m.options = append(m.options, opts)
	if m.err != nil {
		return "", m.err
	}
	if len(m.outputs) == 0 {
		return "", errors.New("no scripted output left")
	}
	out := m.outputs[0]
	m.outputs = m.outputs[1:]
	return out, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// flakyVectors fails Embed for texts containing a marker word.
type flakyVectors struct {
	*vectorstore.Service
	failOn string
}

func (f *flakyVectors) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding backend unavailable")
	}
	return f.Service.Embed(ctx, text)
}

// memFiles is an in-memory FileStorage.
type memFiles struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemFiles() *memFiles { return &memFiles{data: map[string][]byte{}} }

func (f *memFiles) Write(_ context.Context, owner, fileName string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storage.ObjectKey(owner, fileName)
	f.data[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *memFiles) Read(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *memFiles) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[path]; !ok {
		return storage.ErrNotFound
	}
	delete(f.data, path)
	return nil
}

func newVectors() (*vectorstore.Service, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	return vectorstore.New(ai.NewHashEmbedder(1024), mem), mem
}

func newRegistry(t *testing.T) *ai.Registry {
	t.Helper()
	reg, err := ai.NewRegistry(nil, "")
	require.NoError(t, err)
	return reg
}

// seed upserts passages with the given contents for one owner/file.
func seed(t *testing.T, vs *vectorstore.Service, owner, file string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	passages := make([]domain.Passage, 0, len(contents))
	for i, c := range contents {
		vec, err := vs.Embed(ctx, c)
		require.NoError(t, err)
		passages = append(passages, domain.Passage{
			ID:        owner + "/" + file + "/" + string(rune('a'+i)),
			OwnerKey:  owner,
			FileName:  file,
			Ordinal:   i + 1,
			Page:      i + 1,
			Label:     Label(c),
			Content:   c,
			Embedding: vec,
		})
	}
	require.NoError(t, vs.Upsert(ctx, passages))
}

const validReply = `{"reply":"Transformers help.","references":[{"filename":"a.pdf","page":"2","comment":"see table"}],"suggestedQueries":["What about RNNs?"]}`
