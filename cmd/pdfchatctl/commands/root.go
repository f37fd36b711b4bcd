package commands

import (
	"time"

	"github.com/urfave/cli/v3"
)

// NewRootCommand assembles the pdfchatctl command tree.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "pdfchatctl",
		Usage: "index documents and chat with them from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file path",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "owner scope key",
				Value:   "local",
				Sources: cli.EnvVars("PDFCHAT_OWNER"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "postgres DSN; empty keeps the index in memory for one run",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "embedding-dim",
				Usage:   "embedding vector dimensions",
				Value:   256,
				Sources: cli.EnvVars("PDFCHAT_EMBEDDING_DIM"),
			},
			&cli.StringFlag{
				Name:    "storage-dir",
				Usage:   "raw file directory",
				Value:   "data/files",
				Sources: cli.EnvVars("STORAGE_DIR"),
			},
			&cli.StringFlag{
				Name:    "history-dir",
				Usage:   "chat history directory",
				Value:   "data/history",
				Sources: cli.EnvVars("CHAT_HISTORY_DIR"),
			},
			&cli.StringFlag{
				Name:    "embedding-provider",
				Usage:   "openai, ollama, gemini or hash",
				Value:   "hash",
				Sources: cli.EnvVars("EMBEDDING_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Sources: cli.EnvVars("EMBEDDING_MODEL"),
			},
			&cli.StringFlag{
				Name:    "embedding-base-url",
				Sources: cli.EnvVars("EMBEDDING_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "chat-provider",
				Usage:   "openai, ollama or gemini",
				Value:   "openai",
				Sources: cli.EnvVars("CHAT_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "chat-base-url",
				Sources: cli.EnvVars("CHAT_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "provider API key",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall command deadline",
				Value: 5 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "index files",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-questions",
						Usage: "skip title and starter question generation",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "model id for question generation",
					},
				},
				Action: IngestAction,
			},
			{
				Name:      "ask",
				Usage:     "ask a question about indexed files",
				ArgsUsage: "<question>",
				Flags: append(scopeFlags(),
					&cli.StringFlag{
						Name:  "session",
						Usage: "append the exchange to this saved session",
					},
					&cli.IntFlag{
						Name:  "window",
						Usage: "history turns sent to the model",
					},
				),
				Action: AskAction,
			},
			{
				Name:  "cite",
				Usage: "annotate an answer with quotes from the indexed files",
				Flags: append(scopeFlags(),
					&cli.StringFlag{
						Name:     "question",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "answer",
						Required: true,
					},
				),
				Action: CiteAction,
			},
			{
				Name:  "history",
				Usage: "manage saved chat sessions",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list session titles",
						Action: HistoryListAction,
					},
					{
						Name:      "show",
						Usage:     "print a session",
						ArgsUsage: "<title>",
						Action:    HistoryShowAction,
					},
					{
						Name:      "clear",
						Usage:     "empty a session",
						ArgsUsage: "<title>",
						Action:    HistoryClearAction,
					},
					{
						Name:      "delete",
						Usage:     "remove a session",
						ArgsUsage: "<title>",
						Action:    HistoryDeleteAction,
					},
				},
			},
		},
	}
}

func scopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "file",
			Usage: "restrict retrieval to these file names",
		},
		&cli.StringSliceFlag{
			Name:  "doc",
			Usage: "index these paths before answering",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "chat model id",
		},
		&cli.IntFlag{
			Name:  "k",
			Usage: "passages per file",
		},
	}
}
