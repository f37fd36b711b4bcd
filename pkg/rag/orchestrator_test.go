package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

func newOrchestrator(t *testing.T, model ai.ChatModel, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	vs, _ := newVectors()
	seed(t, vs, "u1", "a.pdf",
		"Transformers use self-attention over tokens.",
		"Recurrent networks process tokens sequentially.",
	)
	return NewOrchestrator(NewRetriever(vs), NewAssembler(), model, newRegistry(t), opts...)
}

func TestConverseReturnsParsedReply(t *testing.T) {
	model := &scriptedModel{outputs: []string{validReply}}
	var stages []Stage
	o := newOrchestrator(t, model, WithStageObserver(func(_ context.Context, s Stage) { stages = append(stages, s) }))

	history := []domain.Turn{
		{Sender: domain.SenderUser, Text: "hello"},
		{Sender: domain.SenderAI, Text: "hi, ask me about your papers"},
	}
	reply, err := o.Converse(context.Background(), ConverseRequest{
		Message:       "How do transformers work?",
		History:       history,
		Scope:         domain.Scope{OwnerKey: "u1", FileNames: []string{"a.pdf"}},
		ContextWindow: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Transformers help.", reply.Reply)
	assert.Equal(t, []Stage{StageIdle, StageRetrieving, StagePromptAssembled, StageModelInvoked, StageResponseParsed, StageDone}, stages)

	require.Equal(t, 1, model.callCount())
	opts := model.options[0]
	assert.True(t, opts.JSON)
	assert.Equal(t, "gpt-4o-mini", opts.Model)
	assert.InDelta(t, 0.7, opts.Temperature, 1e-9)

	messages := model.calls[0]
	require.Len(t, messages, 4)
	assert.Equal(t, ai.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[1].Content, "user: hello")
	assert.Contains(t, messages[1].Content, "ai: hi, ask me about your papers")
	assert.Contains(t, messages[2].Content, `file="a.pdf"`)
	assert.True(t, strings.HasSuffix(messages[3].Content, "How do transformers work?"))
}

func TestConverseMalformedReply(t *testing.T) {
	raw := "I think transformers are neat."
	model := &scriptedModel{outputs: []string{raw}}
	var stages []Stage
	o := newOrchestrator(t, model, WithStageObserver(func(_ context.Context, s Stage) { stages = append(stages, s) }))

	_, err := o.Converse(context.Background(), ConverseRequest{
		Message: "How do transformers work?",
		Scope:   domain.Scope{OwnerKey: "u1"},
		ModelID: "gpt-4o",
	})
	var malformed *MalformedReplyError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, raw, malformed.Raw)
	assert.Equal(t, StageParseFailed, stages[len(stages)-1])
	assert.NotContains(t, stages, StageDone)
	assert.InDelta(t, 0.3, model.options[0].Temperature, 1e-9)
}

func TestConverseValidation(t *testing.T) {
	model := &scriptedModel{outputs: []string{validReply}}
	o := newOrchestrator(t, model)
	ctx := context.Background()

	_, err := o.Converse(ctx, ConverseRequest{Message: "  ", Scope: domain.Scope{OwnerKey: "u1"}})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = o.Converse(ctx, ConverseRequest{Message: "hi", Scope: domain.Scope{OwnerKey: "u1"}, ModelID: "llama-9000"})
	assert.ErrorIs(t, err, ai.ErrUnknownModel)

	_, err = o.Converse(ctx, ConverseRequest{Message: "hi", Scope: domain.Scope{OwnerKey: "u1"}, K: -1})
	assert.ErrorIs(t, err, ErrInvalidK)

	assert.Zero(t, model.callCount())
}

func TestConverseModelError(t *testing.T) {
	model := &scriptedModel{err: fmt.Errorf("upstream 503")}
	o := newOrchestrator(t, model)
	_, err := o.Converse(context.Background(), ConverseRequest{Message: "hi", Scope: domain.Scope{OwnerKey: "u1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")
}

func TestConverseWithoutPassagesStillAnswers(t *testing.T) {
	model := &scriptedModel{outputs: []string{`{"reply":"No documents yet.","actionRequired":{"moreContext":"upload a file"}}`}}
	o := newOrchestrator(t, model)
	reply, err := o.Converse(context.Background(), ConverseRequest{
		Message: "anything?",
		Scope:   domain.Scope{OwnerKey: "nobody"},
	})
	require.NoError(t, err)
	assert.Contains(t, model.calls[0][2].Content, "N/A")
	require.NotNil(t, reply.ActionRequired)
	assert.NotNil(t, reply.References)
	assert.NotNil(t, reply.SuggestedQueries)
}
