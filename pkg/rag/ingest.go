package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/extract"
	"pdfchat/pkg/storage"
)

const (
	DefaultEmbedConcurrency = 4
	DefaultSeedK            = 6
	questionCount           = 5
	pageSeparator           = "\n\n"
)

// TextExtractor turns stored bytes into page texts.
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) ([]extract.Page, error)
}

// IngestOptions controls the optional question-generation stage.
type IngestOptions struct {
	GenerateQuestions bool
	ModelID           string
}

// IngestResult summarises one ingestion.
type IngestResult struct {
	StoredPath   string   `json:"storedPath"`
	PassageCount int      `json:"passageCount"`
	Failed       int      `json:"failedPassages"`
	Title        string   `json:"title,omitempty"`
	Questions    []string `json:"questions"`
}

// Pipeline runs store, extract, chunk, label, embed and upsert, optionally
// followed by question generation.
type Pipeline struct {
	files            storage.FileStorage
	extractor        TextExtractor
	chunker          *Chunker
	vectors          VectorStore
	retriever        *Retriever
	model            ai.ChatModel
	registry         *ai.Registry
	embedConcurrency int
	seedK            int
	logger           *slog.Logger
	now              func() time.Time
}

type PipelineOption func(*Pipeline)

// WithQuestionModel enables the question-generation stage.
func WithQuestionModel(model ai.ChatModel, registry *ai.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.model = model
		p.registry = registry
	}
}

func WithEmbedConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.embedConcurrency = n
		}
	}
}

func WithSeedK(k int) PipelineOption {
	return func(p *Pipeline) {
		if k > 0 {
			p.seedK = k
		}
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(files storage.FileStorage, extractor TextExtractor, chunker *Chunker, vectors VectorStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		files:            files,
		extractor:        extractor,
		chunker:          chunker,
		vectors:          vectors,
		embedConcurrency: DefaultEmbedConcurrency,
		seedK:            DefaultSeedK,
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.retriever = NewRetriever(vectors, WithRetrieverLogger(p.logger))
	return p
}

// Ingest stores data under (ownerKey, fileName) and indexes it. Any stage
// failure aborts the ingestion without leaving a partial passage set.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, fileName, ownerKey string, opts IngestOptions) (IngestResult, error) {
	if err := p.validate(fileName, ownerKey, opts); err != nil {
		return IngestResult{}, err
	}
	storedPath, err := p.storeRaw(ctx, data, fileName, ownerKey)
	if err != nil {
		return IngestResult{}, err
	}
	result, err := p.index(ctx, data, fileName, ownerKey)
	result.StoredPath = storedPath
	if err != nil {
		return result, err
	}
	if opts.GenerateQuestions {
		title, questions, err := p.generateQuestions(ctx, fileName, ownerKey, opts.ModelID)
		if err != nil {
			p.rollback(ctx, fileName, ownerKey)
			return IngestResult{StoredPath: storedPath, Questions: []string{}}, err
		}
		result.Title = title
		result.Questions = questions
	}
	return result, nil
}

// Reindex rebuilds the passages of an already stored file. It never
// generates questions.
func (p *Pipeline) Reindex(ctx context.Context, storedPath, fileName, ownerKey string) (IngestResult, error) {
	if err := p.validate(fileName, ownerKey, IngestOptions{}); err != nil {
		return IngestResult{}, err
	}
	data, err := p.files.Read(ctx, storedPath)
	if err != nil {
		return IngestResult{}, &StorageError{FileName: fileName, Err: err}
	}
	result, err := p.index(ctx, data, fileName, ownerKey)
	result.StoredPath = storedPath
	return result, err
}

func (p *Pipeline) validate(fileName, ownerKey string, opts IngestOptions) error {
	if strings.TrimSpace(fileName) == "" {
		return errors.New("file name is required")
	}
	if strings.TrimSpace(ownerKey) == "" {
		return errors.New("owner scope key is required")
	}
	if opts.GenerateQuestions && (p.model == nil || p.registry == nil) {
		return errors.New("question generation requires a chat model")
	}
	return nil
}

// index runs extract, chunk, label, embed and upsert.
func (p *Pipeline) index(ctx context.Context, data []byte, fileName, ownerKey string) (IngestResult, error) {
	result := IngestResult{Questions: []string{}}
	pages, err := p.extractPages(ctx, data, fileName)
	if err != nil {
		return result, err
	}
	passages := p.buildPassages(pages, fileName, ownerKey)
	if len(passages) == 0 {
		return result, &EmptyDocumentError{FileName: fileName}
	}
	embedded, failed, err := p.embedPassages(ctx, passages)
	if err != nil {
		return result, err
	}
	result.Failed = failed
	if len(embedded) == 0 {
		return result, &EmptyDocumentError{FileName: fileName, Chunks: len(passages), Failed: failed}
	}
	if err := p.vectors.Upsert(ctx, embedded); err != nil {
		return result, fmt.Errorf("upsert passages: %w", err)
	}
	result.PassageCount = len(embedded)
	p.logger.InfoContext(ctx, "document indexed",
		"file", fileName,
		"pages", len(pages),
		"passages", len(embedded),
		"failed", failed,
	)
	return result, nil
}

func (p *Pipeline) storeRaw(ctx context.Context, data []byte, fileName, ownerKey string) (string, error) {
	path, err := p.files.Write(ctx, ownerKey, fileName, data)
	if err != nil {
		return "", &StorageError{FileName: fileName, Err: err}
	}
	return path, nil
}

func (p *Pipeline) extractPages(ctx context.Context, data []byte, fileName string) ([]extract.Page, error) {
	pages, err := p.extractor.Extract(ctx, fileName, data)
	if err != nil {
		if errors.Is(err, extract.ErrNoText) {
			return nil, &EmptyDocumentError{FileName: fileName}
		}
		return nil, &ExtractionError{FileName: fileName, Err: err}
	}
	return pages, nil
}

// buildPassages joins the pages, chunks the full text and maps every chunk
// back to the page its first non-blank character came from.
func (p *Pipeline) buildPassages(pages []extract.Page, fileName, ownerKey string) []domain.Passage {
	var (
		text   strings.Builder
		starts []int
		nums   []int
		offset int
	)
	for i, page := range pages {
		if i > 0 {
			text.WriteString(pageSeparator)
			offset += utf8.RuneCountInString(pageSeparator)
		}
		starts = append(starts, offset)
		nums = append(nums, page.Number)
		text.WriteString(page.Text)
		offset += utf8.RuneCountInString(page.Text)
	}

	now := p.now()
	var passages []domain.Passage
	for _, span := range p.chunker.Split(text.String()) {
		content := strings.TrimSpace(span.Text)
		if content == "" {
			continue
		}
		lead := utf8.RuneCountInString(span.Text) - utf8.RuneCountInString(strings.TrimLeftFunc(span.Text, unicode.IsSpace))
		passages = append(passages, domain.Passage{
			ID:        util.NewID(),
			OwnerKey:  ownerKey,
			FileName:  fileName,
			Ordinal:   len(passages) + 1,
			Page:      pageAt(starts, nums, span.Start+lead),
			Label:     Label(content),
			Content:   content,
			CreatedAt: now,
		})
	}
	return passages
}

func pageAt(starts, nums []int, offset int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	if i < 0 {
		return 0
	}
	return nums[i]
}

// embedPassages embeds concurrently and joins. Individual failures are
// logged and dropped; a cancelled context aborts.
func (p *Pipeline) embedPassages(ctx context.Context, passages []domain.Passage) ([]domain.Passage, int, error) {
	ok := make([]bool, len(passages))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.embedConcurrency)
	for i := range passages {
		g.Go(func() error {
			vec, err := p.vectors.Embed(gctx, passages[i].Content)
			if err != nil || len(vec) == 0 {
				mu.Lock()
				failed++
				mu.Unlock()
				p.logger.WarnContext(ctx, "passage embedding failed",
					"file", passages[i].FileName, "ordinal", passages[i].Ordinal, "err", err)
				return nil
			}
			passages[i].Embedding = vec
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	embedded := make([]domain.Passage, 0, len(passages))
	for i, passage := range passages {
		if ok[i] {
			embedded = append(embedded, passage)
		}
	}
	return embedded, failed, nil
}

type questionsReply struct {
	Title     string   `json:"title"`
	Questions []string `json:"questions"`
}

func (p *Pipeline) generateQuestions(ctx context.Context, fileName, ownerKey, modelID string) (string, []string, error) {
	spec, err := p.registry.Resolve(modelID)
	if err != nil {
		return "", nil, err
	}
	sample, err := p.retriever.Retrieve(ctx, questionSeedQuery, p.seedK,
		domain.Scope{OwnerKey: ownerKey, FileNames: []string{fileName}})
	if err != nil {
		return "", nil, fmt.Errorf("retrieve question sample: %w", err)
	}
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: questionsSystemPrompt},
		{Role: ai.RoleUser, Content: "Document: " + fileName + "\n\nExcerpts:\n" + orPlaceholder(Context{Passages: sample.Passages}.PassageBlock())},
	}
	raw, err := p.model.Invoke(ctx, messages, ai.InvokeOptions{
		Model:       spec.ID,
		Temperature: spec.Temperature,
		JSON:        true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("invoke model %s: %w", spec.ID, err)
	}
	return parseQuestions(raw, fileName)
}

func parseQuestions(raw, fileName string) (string, []string, error) {
	var parsed questionsReply
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return "", nil, &MalformedReplyError{Raw: raw, Err: err}
	}
	questions := make([]string, 0, questionCount)
	for _, q := range parsed.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) < questionCount {
		return "", nil, &MalformedReplyError{
			Raw: raw,
			Err: fmt.Errorf("want %d questions, got %d", questionCount, len(questions)),
		}
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		base := filepath.Base(fileName)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return title, questions[:questionCount], nil
}

// rollback drops the passages of a failed upload. The stored blob is kept;
// the next upload of the same name overwrites it.
func (p *Pipeline) rollback(ctx context.Context, fileName, ownerKey string) {
	n, err := p.vectors.DeleteFile(context.WithoutCancel(ctx), ownerKey, fileName)
	if err != nil {
		p.logger.ErrorContext(ctx, "rollback passages failed", "file", fileName, "err", err)
		return
	}
	p.logger.WarnContext(ctx, "rolled back passages", "file", fileName, "deleted", n)
}
