package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/chathistory"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/rag"
)

const maxDerivedTitleRunes = 48

// Config holds the collaborators of the chat service.
type Config struct {
	Orchestrator *rag.Orchestrator
	Annotator    *rag.Annotator
	History      chathistory.Store
	Registry     *ai.Registry
	Logger       *slog.Logger
}

// App answers chat turns, produces citations and manages saved sessions.
type App struct {
	orchestrator *rag.Orchestrator
	annotator    *rag.Annotator
	history      chathistory.Store
	registry     *ai.Registry
	logger       *slog.Logger
	now          func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("chat orchestrator required")
	}
	if cfg.Annotator == nil {
		return nil, fmt.Errorf("citation annotator required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("chat history store required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("model registry required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		orchestrator: cfg.Orchestrator,
		annotator:    cfg.Annotator,
		history:      cfg.History,
		registry:     cfg.Registry,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// ChatRequest is one user turn.
type ChatRequest struct {
	OwnerKey      string
	Message       string
	History       []domain.Turn
	FileNames     []string
	Model         string
	ContextWindow int
	K             int
	// AutoSave appends the exchange to the session named Title, or to a
	// session titled after the message when Title is empty.
	AutoSave bool
	Title    string
}

// ChatResponse is the parsed reply plus the session it was saved to.
type ChatResponse struct {
	domain.AIReply
	Title string `json:"title,omitempty"`
	Saved bool   `json:"saved"`
}

func (a *App) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	owner := strings.TrimSpace(req.OwnerKey)
	if owner == "" {
		return ChatResponse{}, ErrOwnerRequired
	}
	reply, err := a.orchestrator.Converse(ctx, rag.ConverseRequest{
		Message:       req.Message,
		History:       req.History,
		Scope:         domain.Scope{OwnerKey: owner, FileNames: req.FileNames},
		ModelID:       req.Model,
		ContextWindow: req.ContextWindow,
		K:             req.K,
	})
	if err != nil {
		return ChatResponse{}, err
	}
	resp := ChatResponse{AIReply: reply}
	if !req.AutoSave {
		return resp, nil
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DeriveTitle(req.Message)
	}
	resp.Title = title
	if err := a.appendExchange(ctx, owner, title, req, reply); err != nil {
		util.LoggerFromContext(ctx).WarnContext(ctx, "auto-save chat failed", "title", title, "err", err)
		return resp, nil
	}
	resp.Saved = true
	return resp, nil
}

func (a *App) appendExchange(ctx context.Context, owner, title string, req ChatRequest, reply domain.AIReply) error {
	raw, err := a.history.Load(ctx, owner, title)
	if err != nil && !errors.Is(err, chathistory.ErrNotFound) {
		return err
	}
	session, err := chathistory.DecodeSession(title, raw)
	if err != nil {
		return err
	}
	if len(req.FileNames) > 0 {
		session.FileNames = req.FileNames
	}
	if req.Model != "" {
		session.Model = req.Model
	}
	if req.ContextWindow > 0 {
		session.ContextWindow = req.ContextWindow
	}
	session.NewChat = false
	session.Turns = append(session.Turns,
		domain.Turn{Sender: domain.SenderUser, Text: strings.TrimSpace(req.Message)},
		domain.Turn{Sender: domain.SenderAI, Text: reply.Reply},
	)
	session.UpdatedAt = a.now()
	data, err := chathistory.EncodeSession(session)
	if err != nil {
		return err
	}
	return a.history.Save(ctx, owner, title, data)
}

// DeriveTitle turns a first message into a session title usable as a
// storage key.
func DeriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	title = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '-'
		}
		return r
	}, title)
	if utf8.RuneCountInString(title) > maxDerivedTitleRunes {
		title = strings.TrimSpace(string([]rune(title)[:maxDerivedTitleRunes]))
	}
	title = strings.Trim(title, ".")
	if title == "" {
		return "Chat " + time.Now().UTC().Format("2006-01-02 15-04-05")
	}
	return title
}

// ReferencesRequest asks for the sources of an earlier answer.
type ReferencesRequest struct {
	OwnerKey  string
	Question  string
	Answer    string
	FileNames []string
	Model     string
	K         int
}

// ReferencesResponse carries the annotated answer and what was parsed from
// it.
type ReferencesResponse struct {
	Annotated string         `json:"annotated"`
	Segments  []rag.Segment  `json:"segments"`
	Citations []rag.Citation `json:"citations"`
}

func (a *App) References(ctx context.Context, req ReferencesRequest) (ReferencesResponse, error) {
	owner := strings.TrimSpace(req.OwnerKey)
	if owner == "" {
		return ReferencesResponse{}, ErrOwnerRequired
	}
	annotation, err := a.annotator.AnnotateWithSources(ctx, rag.AnnotateRequest{
		Question:           req.Question,
		Answer:             req.Answer,
		Scope:              domain.Scope{OwnerKey: owner},
		CandidateFileNames: req.FileNames,
		ModelID:            req.Model,
		K:                  req.K,
	})
	if err != nil {
		return ReferencesResponse{}, err
	}
	known := append(append([]string(nil), req.FileNames...), annotation.FileNames...)
	segments := rag.ParseAnnotated(annotation.Text, known...)
	if segments == nil {
		segments = []rag.Segment{}
	}
	return ReferencesResponse{
		Annotated: annotation.Text,
		Segments:  segments,
		Citations: rag.Citations(annotation.Text, known...),
	}, nil
}

// Models lists the selectable chat models.
func (a *App) Models() []ai.ModelSpec {
	return a.registry.List()
}

// DefaultModel is the model used when a request names none.
func (a *App) DefaultModel() ai.ModelSpec {
	return a.registry.Default()
}

func (a *App) ListSessions(ctx context.Context, owner string) ([]string, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrOwnerRequired
	}
	return a.history.List(ctx, owner)
}

func (a *App) LoadSession(ctx context.Context, owner, title string) (json.RawMessage, error) {
	if err := checkKey(owner, title); err != nil {
		return nil, err
	}
	return a.history.Load(ctx, owner, title)
}

func (a *App) SaveSession(ctx context.Context, owner, title string, data json.RawMessage) error {
	if err := checkKey(owner, title); err != nil {
		return err
	}
	return a.history.Save(ctx, owner, title, data)
}

func (a *App) ClearSession(ctx context.Context, owner, title string) error {
	if err := checkKey(owner, title); err != nil {
		return err
	}
	return a.history.Clear(ctx, owner, title)
}

func (a *App) DeleteSession(ctx context.Context, owner, title string) error {
	if err := checkKey(owner, title); err != nil {
		return err
	}
	return a.history.Delete(ctx, owner, title)
}

func checkKey(owner, title string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrOwnerRequired
	}
	if strings.TrimSpace(title) == "" {
		return ErrTitleRequired
	}
	return nil
}
