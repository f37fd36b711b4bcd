package rag

import (
	"fmt"
	"strconv"
	"strings"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

const placeholder = "N/A"

// Context is the bounded prompt material for one model call.
type Context struct {
	History  []domain.Turn
	Passages []domain.ScoredPassage
}

// HistoryBlock renders the retained turns one per line.
func (c Context) HistoryBlock() string {
	return FormatHistory(c.History)
}

// PassageBlock renders the retained passages in rank order.
func (c Context) PassageBlock() string {
	var b strings.Builder
	for i, sp := range c.Passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatPassage(i+1, sp))
	}
	return b.String()
}

// String is the full context block: prior turns, then passages.
func (c Context) String() string {
	return "Prior turns:\n" + orPlaceholder(c.HistoryBlock()) +
		"\n\nContext passages:\n" + orPlaceholder(c.PassageBlock())
}

// Assembler bounds retrieved passages and chat history.
type Assembler struct {
	counter   ai.TokenCounter
	maxTokens int
}

type AssemblerOption func(*Assembler)

// WithTokenBudget caps the passage block at maxTokens as measured by counter.
// The top-ranked passage is always kept.
func WithTokenBudget(counter ai.TokenCounter, maxTokens int) AssemblerOption {
	return func(a *Assembler) {
		a.counter = counter
		a.maxTokens = maxTokens
	}
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble never fails; missing metadata renders as a placeholder.
func (a *Assembler) Assemble(result domain.RetrievalResult, history []domain.Turn, contextWindowTurns int) Context {
	return Context{
		History:  TruncateHistory(history, contextWindowTurns),
		Passages: a.budget(result.Passages),
	}
}

func (a *Assembler) budget(passages []domain.ScoredPassage) []domain.ScoredPassage {
	if a.counter == nil || a.maxTokens <= 0 || len(passages) == 0 {
		return passages
	}
	used := 0
	for i, sp := range passages {
		used += a.counter.CountTokens(FormatPassage(i+1, sp))
		if i > 0 && used > a.maxTokens {
			return passages[:i]
		}
	}
	return passages
}

// TruncateHistory keeps the most recent 2*n turns in their original order.
func TruncateHistory(history []domain.Turn, n int) []domain.Turn {
	if n <= 0 || len(history) == 0 {
		return []domain.Turn{}
	}
	limit := 2 * n
	if len(history) <= limit {
		return append([]domain.Turn(nil), history...)
	}
	return append([]domain.Turn(nil), history[len(history)-limit:]...)
}

// FormatHistory renders turns as "user: ..." / "ai: ..." lines.
func FormatHistory(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		sender := string(t.Sender)
		if sender == "" {
			sender = placeholder
		}
		lines = append(lines, sender+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

// FormatPassage renders one passage with a header the citation pass can
// match page and file from.
func FormatPassage(index int, sp domain.ScoredPassage) string {
	return fmt.Sprintf("<passage index=%d file=%q page=%s ordinal=%s label=%q score=%.4f>\n%s\n</passage>",
		index,
		orPlaceholder(sp.FileName),
		positive(sp.Page),
		positive(sp.Ordinal),
		orPlaceholder(string(sp.Label)),
		sp.Score,
		orPlaceholder(sp.Content),
	)
}

func positive(n int) string {
	if n <= 0 {
		return placeholder
	}
	return strconv.Itoa(n)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
