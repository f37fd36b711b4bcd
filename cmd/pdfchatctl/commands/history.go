package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

// HistoryListAction prints the saved session titles.
func HistoryListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	titles, err := appCtx.History.List(ctx, appCtx.Owner)
	if err != nil {
		return err
	}
	for _, title := range titles {
		fmt.Fprintln(cmd.Root().Writer, title)
	}
	return nil
}

// HistoryShowAction prints one session as stored.
func HistoryShowAction(ctx context.Context, cmd *cli.Command) error {
	title, err := titleArg(cmd)
	if err != nil {
		return err
	}
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	raw, err := appCtx.History.Load(ctx, appCtx.Owner, title)
	if err != nil {
		return fmt.Errorf("session %q: %w", title, err)
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, string(raw))
	return err
}

// HistoryClearAction empties a session without removing it.
func HistoryClearAction(ctx context.Context, cmd *cli.Command) error {
	title, err := titleArg(cmd)
	if err != nil {
		return err
	}
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.History.Clear(ctx, appCtx.Owner, title); err != nil {
		return fmt.Errorf("session %q: %w", title, err)
	}
	appCtx.Logger.Info("session cleared", "title", title)
	return nil
}

// HistoryDeleteAction removes a session.
func HistoryDeleteAction(ctx context.Context, cmd *cli.Command) error {
	title, err := titleArg(cmd)
	if err != nil {
		return err
	}
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.History.Delete(ctx, appCtx.Owner, title); err != nil {
		return fmt.Errorf("session %q: %w", title, err)
	}
	appCtx.Logger.Info("session deleted", "title", title)
	return nil
}

func titleArg(cmd *cli.Command) (string, error) {
	title := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if title == "" {
		return "", fmt.Errorf("a session title is required")
	}
	return title, nil
}
