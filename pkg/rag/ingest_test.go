package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/pkg/domain"
	"pdfchat/pkg/extract"
	"pdfchat/pkg/storage"
)

// pagesExtractor returns fixed pages regardless of input.
type pagesExtractor struct {
	pages []extract.Page
	err   error
}

func (e pagesExtractor) Extract(context.Context, string, []byte) ([]extract.Page, error) {
	return e.pages, e.err
}

var threePages = []extract.Page{
	{Number: 1, Text: "Introduction to sparse retrieval models."},
	{Number: 2, Text: "Our method samples queries at random."},
	{Number: 3, Text: "Results improve recall by ten points."},
}

const fiveQuestions = `{"title":"Sparse Retrieval","questions":["What is sparse retrieval?","How are queries sampled?","How much does recall improve?","Which baselines are used?","What are the limitations?"]}`

func smallChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := NewChunker(WithChunkSize(60), WithOverlap(0))
	require.NoError(t, err)
	return c
}

func TestIngestThreePages(t *testing.T) {
	vs, mem := newVectors()
	files := newMemFiles()
	p := NewPipeline(files, pagesExtractor{pages: threePages}, smallChunker(t), vs)

	res, err := p.Ingest(context.Background(), []byte("%PDF"), "paper.pdf", "alice", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.PassageCount)
	assert.Zero(t, res.Failed)
	assert.Equal(t, storage.ObjectKey("alice", "paper.pdf"), res.StoredPath)
	assert.NotNil(t, res.Questions)

	stored, err := files.Read(context.Background(), res.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), stored)

	passages := mem.Passages("alice", "paper.pdf")
	require.Len(t, passages, 3)
	wantLabels := []domain.Label{domain.LabelOverview, domain.LabelMethodology, domain.LabelResults}
	for i, passage := range passages {
		assert.Equal(t, "alice", passage.OwnerKey)
		assert.Equal(t, "paper.pdf", passage.FileName)
		assert.Equal(t, i+1, passage.Ordinal)
		assert.Equal(t, i+1, passage.Page)
		assert.Equal(t, wantLabels[i], passage.Label)
		assert.Equal(t, threePages[i].Text, passage.Content)
		assert.NotEmpty(t, passage.ID)
		assert.Len(t, passage.Embedding, 1024)
	}
}

func TestIngestPlainTextEndToEnd(t *testing.T) {
	vs, mem := newVectors()
	p := NewPipeline(newMemFiles(), extract.New(extract.WithPdftotext(false)), smallChunker(t), vs)

	text := "Summary of the findings.\n\nThe discussion follows below."
	res, err := p.Ingest(context.Background(), []byte(text), "notes.txt", "bob", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PassageCount)
	passages := mem.Passages("bob", "notes.txt")
	require.Len(t, passages, 1)
	assert.Equal(t, 1, passages[0].Page)
	assert.Equal(t, domain.LabelOverview, passages[0].Label)
}

func TestIngestThreeParagraphsDefaultChunker(t *testing.T) {
	vs, mem := newVectors()
	chunker, err := NewChunker()
	require.NoError(t, err)
	p := NewPipeline(newMemFiles(), extract.New(extract.WithPdftotext(false)), chunker, vs)

	text := strings.Join([]string{
		paragraph("Introduction to the study of retrieval.", 830),
		paragraph("The method samples documents at random.", 830),
		paragraph("Results show a clear improvement overall.", 830),
	}, "\n\n")
	require.InDelta(t, 2500, len(text), 20)

	res, err := p.Ingest(context.Background(), []byte(text), "study.txt", "carol", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.PassageCount)

	passages := mem.Passages("carol", "study.txt")
	require.Len(t, passages, 3)
	for i, passage := range passages {
		assert.Equal(t, "carol", passage.OwnerKey)
		assert.Equal(t, "study.txt", passage.FileName)
		assert.Equal(t, i+1, passage.Ordinal)
		assert.LessOrEqual(t, len([]rune(passage.Content)), DefaultChunkSize)
		assert.Contains(t, domain.Labels, passage.Label)
	}
	assert.Equal(t, domain.LabelOverview, passages[0].Label)
}

func TestIngestIsIdempotent(t *testing.T) {
	vs, mem := newVectors()
	p := NewPipeline(newMemFiles(), pagesExtractor{pages: threePages}, smallChunker(t), vs)
	for i := 0; i < 2; i++ {
		_, err := p.Ingest(context.Background(), []byte("x"), "paper.pdf", "alice", IngestOptions{})
		require.NoError(t, err)
	}
	assert.Len(t, mem.Passages("alice", "paper.pdf"), 3)
}

func TestIngestToleratesEmbeddingFailures(t *testing.T) {
	vs, mem := newVectors()
	flaky := &flakyVectors{Service: vs, failOn: "method"}
	p := NewPipeline(newMemFiles(), pagesExtractor{pages: threePages}, smallChunker(t), flaky, WithEmbedConcurrency(2))

	res, err := p.Ingest(context.Background(), []byte("x"), "paper.pdf", "alice", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PassageCount)
	assert.Equal(t, 1, res.Failed)

	passages := mem.Passages("alice", "paper.pdf")
	require.Len(t, passages, 2)
	assert.Equal(t, 1, passages[0].Ordinal)
	assert.Equal(t, 3, passages[1].Ordinal)
}

func TestIngestAllEmbeddingsFail(t *testing.T) {
	vs, mem := newVectors()
	flaky := &flakyVectors{Service: vs, failOn: " "}
	p := NewPipeline(newMemFiles(), pagesExtractor{pages: threePages}, smallChunker(t), flaky)

	_, err := p.Ingest(context.Background(), []byte("x"), "paper.pdf", "alice", IngestOptions{})
	var empty *EmptyDocumentError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 3, empty.Chunks)
	assert.Equal(t, 3, empty.Failed)
	assert.Empty(t, mem.Passages("alice", "paper.pdf"))
}

func TestIngestErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("storage", func(t *testing.T) {
		vs, _ := newVectors()
		files := newMemFiles()
		files.err = fmt.Errorf("bucket unavailable")
		p := NewPipeline(files, pagesExtractor{pages: threePages}, smallChunker(t), vs)
		_, err := p.Ingest(ctx, []byte("x"), "paper.pdf", "alice", IngestOptions{})
		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "paper.pdf", storageErr.FileName)
	})

	t.Run("extraction", func(t *testing.T) {
		vs, _ := newVectors()
		p := NewPipeline(newMemFiles(), pagesExtractor{err: errors.New("corrupt xref")}, smallChunker(t), vs)
		_, err := p.Ingest(ctx, []byte("x"), "paper.pdf", "alice", IngestOptions{})
		var extractErr *ExtractionError
		require.True(t, errors.As(err, &extractErr))
		assert.Contains(t, err.Error(), "corrupt xref")
	})

	t.Run("no text", func(t *testing.T) {
		vs, _ := newVectors()
		p := NewPipeline(newMemFiles(), pagesExtractor{err: extract.ErrNoText}, smallChunker(t), vs)
		_, err := p.Ingest(ctx, []byte("x"), "scan.pdf", "alice", IngestOptions{})
		var empty *EmptyDocumentError
		require.True(t, errors.As(err, &empty))
		assert.Zero(t, empty.Chunks)
	})

	t.Run("validation", func(t *testing.T) {
		vs, _ := newVectors()
		p := NewPipeline(newMemFiles(), pagesExtractor{pages: threePages}, smallChunker(t), vs)
		_, err := p.Ingest(ctx, []byte("x"), " ", "alice", IngestOptions{})
		assert.Error(t, err)
		_, err = p.Ingest(ctx, []byte("x"), "a.pdf", "", IngestOptions{})
		assert.Error(t, err)
		_, err = p.Ingest(ctx, []byte("x"), "a.pdf", "alice", IngestOptions{GenerateQuestions: true})
		assert.Error(t, err)
	})
}

func TestIngestGeneratesQuestions(t *testing.T) {
	vs, _ := newVectors()
	model := &scriptedModel{outputs: []string{fiveQuestions}}
	p := NewPipeline(newMemFiles(), pagesExtractor{pages: threePages}, smallChunker(t), vs,
		WithQuestionModel(model, newRegistry(t)), WithSeedK(2))

	res, err := p.Ingest(context.Background(), []byte("x"), "paper.pdf", "alice", IngestOptions{GenerateQuestions: true})
	require.NoError(t, err)
	assert.Equal(t, "Sparse Retrieval", res.Title)
	assert.Len(t, res.Questions, 5)
	require.Equal(t, 1, model.callCount())
	assert.True(t, model.options[0].JSON)
	assert.Contains(t, model.calls[0][1].Content, "paper.pdf")
}

func TestIngestQuestionFailureRollsBack(t *testing.T) {
	vs, mem := newVectors()
	files := newMemFiles()
	model := &scriptedModel{outputs: []string{`{"title":"x","questions":["only one?"]}`}}
	p := NewPipeline(files, pagesExtractor{pages: threePages}, smallChunker(t), vs,
		WithQuestionModel(model, newRegistry(t)))

	res, err := p.Ingest(context.Background(), []byte("x"), "paper.pdf", "alice", IngestOptions{GenerateQuestions: true})
	var malformed *MalformedReplyError
	require.True(t, errors.As(err, &malformed))
	assert.Empty(t, mem.Passages("alice", "paper.pdf"))

	_, err = files.Read(context.Background(), res.StoredPath)
	assert.NoError(t, err)
}

func TestParseQuestionsTitleFallback(t *testing.T) {
	title, questions, err := parseQuestions("```json\n"+`{"questions":["a","b","c","d","e","f"]}`+"\n```", "dir/Deep Nets.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Deep Nets", title)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, questions)
}

func TestReindex(t *testing.T) {
	vs, mem := newVectors()
	files := newMemFiles()
	p := NewPipeline(files, pagesExtractor{pages: threePages}, smallChunker(t), vs)
	ctx := context.Background()

	res, err := p.Ingest(ctx, []byte("x"), "paper.pdf", "alice", IngestOptions{})
	require.NoError(t, err)

	again, err := p.Reindex(ctx, res.StoredPath, "paper.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, again.PassageCount)
	assert.Len(t, mem.Passages("alice", "paper.pdf"), 3)

	_, err = p.Reindex(ctx, "documents/missing/paper.pdf", "paper.pdf", "alice")
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
