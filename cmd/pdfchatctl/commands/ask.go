package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"pdfchat/pkg/chathistory"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/rag"
)

// AskAction answers one question against the indexed files.
func AskAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}
	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	fileNames, err := appCtx.prepareScope(ctx, cmd)
	if err != nil {
		return err
	}
	model, err := appCtx.ChatModel()
	if err != nil {
		return err
	}

	title := strings.TrimSpace(cmd.String("session"))
	var session domain.ChatSession
	if title != "" {
		raw, err := appCtx.History.Load(ctx, appCtx.Owner, title)
		if err != nil && !errors.Is(err, chathistory.ErrNotFound) {
			return err
		}
		if session, err = chathistory.DecodeSession(title, raw); err != nil {
			return err
		}
	}

	retriever := rag.NewRetriever(appCtx.Vectors, rag.WithRetrieverLogger(appCtx.Logger))
	orchestrator := rag.NewOrchestrator(retriever, rag.NewAssembler(), model, appCtx.Registry,
		rag.WithOrchestratorLogger(appCtx.Logger))
	reply, err := orchestrator.Converse(ctx, rag.ConverseRequest{
		Message:       question,
		History:       session.Turns,
		Scope:         domain.Scope{OwnerKey: appCtx.Owner, FileNames: fileNames},
		ModelID:       cmd.String("model"),
		ContextWindow: int(cmd.Int("window")),
		K:             int(cmd.Int("k")),
	})
	if err != nil {
		var malformed *rag.MalformedReplyError
		if errors.As(err, &malformed) {
			appCtx.Logger.Error("malformed model reply", "raw", malformed.Raw)
		}
		return err
	}

	if title != "" {
		session.Turns = append(session.Turns,
			domain.Turn{Sender: domain.SenderUser, Text: question},
			domain.Turn{Sender: domain.SenderAI, Text: reply.Reply},
		)
		if len(fileNames) > 0 {
			session.FileNames = fileNames
		}
		session.NewChat = false
		session.UpdatedAt = time.Now().UTC()
		data, err := chathistory.EncodeSession(session)
		if err != nil {
			return err
		}
		if err := appCtx.History.Save(ctx, appCtx.Owner, title, data); err != nil {
			return err
		}
	}
	return printJSON(cmd, reply)
}

type citeOutput struct {
	Annotated string         `json:"annotated"`
	Citations []rag.Citation `json:"citations"`
}

// CiteAction annotates an answer with verbatim quotes from the indexed
// files.
func CiteAction(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	fileNames, err := appCtx.prepareScope(ctx, cmd)
	if err != nil {
		return err
	}
	model, err := appCtx.ChatModel()
	if err != nil {
		return err
	}
	retriever := rag.NewRetriever(appCtx.Vectors, rag.WithRetrieverLogger(appCtx.Logger))
	annotator := rag.NewAnnotator(retriever, model, appCtx.Registry, rag.WithAnnotatorLogger(appCtx.Logger))
	annotation, err := annotator.AnnotateWithSources(ctx, rag.AnnotateRequest{
		Question:           cmd.String("question"),
		Answer:             cmd.String("answer"),
		Scope:              domain.Scope{OwnerKey: appCtx.Owner},
		CandidateFileNames: fileNames,
		ModelID:            cmd.String("model"),
		K:                  int(cmd.Int("k")),
	})
	if err != nil {
		var noContext *rag.NoContextFoundError
		if errors.As(err, &noContext) {
			return fmt.Errorf("no references available")
		}
		return err
	}
	known := append(append([]string(nil), fileNames...), annotation.FileNames...)
	return printJSON(cmd, citeOutput{
		Annotated: annotation.Text,
		Citations: rag.Citations(annotation.Text, known...),
	})
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
