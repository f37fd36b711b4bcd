package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

const DefaultCitationK = 5

// AnnotateRequest asks for the sources of a previous answer.
type AnnotateRequest struct {
	Question string
	Answer   string
	Scope    domain.Scope
	// CandidateFileNames narrows the re-retrieval; empty falls back to
	// Scope.FileNames.
	CandidateFileNames []string
	ModelID            string
	K                  int
}

// Annotator marks the verbatim parts of an answer with their source page
// and file.
type Annotator struct {
	retriever *Retriever
	model     ai.ChatModel
	registry  *ai.Registry
	defaultK  int
	logger    *slog.Logger
}

type AnnotatorOption func(*Annotator)

func WithAnnotatorK(k int) AnnotatorOption {
	return func(a *Annotator) {
		if k > 0 {
			a.defaultK = k
		}
	}
}

func WithAnnotatorLogger(logger *slog.Logger) AnnotatorOption {
	return func(a *Annotator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAnnotator(retriever *Retriever, model ai.ChatModel, registry *ai.Registry, opts ...AnnotatorOption) *Annotator {
	a := &Annotator{
		retriever: retriever,
		model:     model,
		registry:  registry,
		defaultK:  DefaultCitationK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Annotation is the raw annotator output. FileNames lists the files of the
// context passages in retrieval order; pass them to ParseAnnotated as known
// files.
type Annotation struct {
	Text      string
	FileNames []string
}

// Annotate returns the raw annotated answer. The model is not called when
// the re-retrieval finds nothing.
func (a *Annotator) Annotate(ctx context.Context, req AnnotateRequest) (string, error) {
	res, err := a.AnnotateWithSources(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// AnnotateWithSources is Annotate that also reports the source files.
func (a *Annotator) AnnotateWithSources(ctx context.Context, req AnnotateRequest) (Annotation, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Annotation{}, ErrEmptyQuery
	}
	if strings.TrimSpace(req.Answer) == "" {
		return Annotation{}, ErrEmptyAnswer
	}
	spec, err := a.registry.Resolve(req.ModelID)
	if err != nil {
		return Annotation{}, err
	}
	scope := req.Scope
	if files := dedupeFileNames(req.CandidateFileNames); len(files) > 0 {
		scope.FileNames = files
	}
	k := req.K
	if k == 0 {
		k = a.defaultK
	}

	result, err := a.retriever.Retrieve(ctx, question, k, scope)
	if err != nil {
		return Annotation{}, fmt.Errorf("retrieve citation context: %w", err)
	}
	if len(result.Passages) == 0 {
		return Annotation{}, &NoContextFoundError{Question: question, FileNames: scope.FileNames}
	}

	passages := Context{Passages: result.Passages}.PassageBlock()
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: citationSystemPrompt},
		{Role: ai.RoleUser, Content: "Context passages:\n" + passages},
		{Role: ai.RoleUser, Content: "Question:\n" + question + "\n\nAnswer:\n" + req.Answer},
	}
	annotated, err := a.model.Invoke(ctx, messages, ai.InvokeOptions{
		Model:       spec.ID,
		Temperature: spec.Temperature,
	})
	if err != nil {
		return Annotation{}, fmt.Errorf("invoke model %s: %w", spec.ID, err)
	}
	a.logger.DebugContext(ctx, "citation model invoked",
		"model", spec.ID, "prompt_version", PromptVersion, "passages", len(result.Passages))
	sources := make([]string, 0, len(result.Passages))
	for _, sp := range result.Passages {
		sources = append(sources, sp.FileName)
	}
	return Annotation{Text: annotated, FileNames: dedupeFileNames(sources)}, nil
}
