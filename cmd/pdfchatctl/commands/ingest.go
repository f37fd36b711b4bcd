package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"pdfchat/pkg/rag"
)

// IngestAction indexes the files given as arguments.
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one file path is required")
	}
	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	docs, err := appCtx.IngestFiles(ctx, paths, rag.IngestOptions{
		GenerateQuestions: !cmd.Bool("no-questions"),
		ModelID:           cmd.String("model"),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, docs)
}
