package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

// Stage is a step of one Converse call.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageRetrieving      Stage = "retrieving"
	StagePromptAssembled Stage = "prompt_assembled"
	StageModelInvoked    Stage = "model_invoked"
	StageResponseParsed  Stage = "response_parsed"
	StageDone            Stage = "done"
	StageParseFailed     Stage = "parse_failed"
)

const DefaultChatK = 5

// ConverseRequest is one chat turn.
type ConverseRequest struct {
	Message       string
	History       []domain.Turn
	Scope         domain.Scope
	ModelID       string
	ContextWindow int
	// K is the number of passages per file; zero selects the default.
	K int
}

// Orchestrator answers one chat turn with retrieved context and parses the
// structured reply. It persists nothing.
type Orchestrator struct {
	retriever *Retriever
	assembler *Assembler
	model     ai.ChatModel
	registry  *ai.Registry
	defaultK  int
	observer  func(context.Context, Stage)
	logger    *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithDefaultK(k int) OrchestratorOption {
	return func(o *Orchestrator) {
		if k > 0 {
			o.defaultK = k
		}
	}
}

// WithStageObserver registers a hook called on every stage transition.
func WithStageObserver(fn func(context.Context, Stage)) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = fn }
}

func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(retriever *Retriever, assembler *Assembler, model ai.ChatModel, registry *ai.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		retriever: retriever,
		assembler: assembler,
		model:     model,
		registry:  registry,
		defaultK:  DefaultChatK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Converse runs Retrieving, PromptAssembled, ModelInvoked and
// ResponseParsed, ending in Done or ParseFailed.
func (o *Orchestrator) Converse(ctx context.Context, req ConverseRequest) (domain.AIReply, error) {
	o.enter(ctx, StageIdle)
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return domain.AIReply{}, ErrEmptyMessage
	}
	spec, err := o.registry.Resolve(req.ModelID)
	if err != nil {
		return domain.AIReply{}, err
	}
	k := req.K
	if k == 0 {
		k = o.defaultK
	}

	o.enter(ctx, StageRetrieving)
	result, err := o.retriever.Retrieve(ctx, message, k, req.Scope)
	if err != nil {
		return domain.AIReply{}, fmt.Errorf("retrieve context: %w", err)
	}

	assembled := o.assembler.Assemble(result, req.History, req.ContextWindow)
	messages := chatMessages(assembled, message)
	o.enter(ctx, StagePromptAssembled)

	start := time.Now()
	raw, err := o.model.Invoke(ctx, messages, ai.InvokeOptions{
		Model:       spec.ID,
		Temperature: spec.Temperature,
		JSON:        true,
	})
	if err != nil {
		return domain.AIReply{}, fmt.Errorf("invoke model %s: %w", spec.ID, err)
	}
	o.enter(ctx, StageModelInvoked)
	o.logger.DebugContext(ctx, "chat model invoked",
		"model", spec.ID,
		"prompt_version", PromptVersion,
		"passages", len(assembled.Passages),
		"history_turns", len(assembled.History),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	reply, err := ParseReply(raw)
	if err != nil {
		o.enter(ctx, StageParseFailed)
		var malformed *MalformedReplyError
		if errors.As(err, &malformed) {
			o.logger.WarnContext(ctx, "malformed chat reply", "model", spec.ID, "err", malformed.Err)
		}
		return domain.AIReply{}, err
	}
	o.enter(ctx, StageResponseParsed)
	o.enter(ctx, StageDone)
	return reply, nil
}

func (o *Orchestrator) enter(ctx context.Context, stage Stage) {
	if o.observer != nil {
		o.observer(ctx, stage)
	}
}

// chatMessages lays out the fixed template: system schema, prior turns,
// retrieved context, current question.
func chatMessages(c Context, question string) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleSystem, Content: chatSystemPrompt},
		{Role: ai.RoleUser, Content: "Prior turns:\n" + orPlaceholder(c.HistoryBlock())},
		{Role: ai.RoleUser, Content: "Context passages:\n" + orPlaceholder(c.PassageBlock())},
		{Role: ai.RoleUser, Content: "Question:\n" + question},
	}
}
