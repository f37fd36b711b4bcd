package ai

import "context"

// Embedding task hints. Providers that do not distinguish tasks ignore them.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message sent to a chat model.
type Message struct {
	Role    Role
	Content string
}

// InvokeOptions selects the model and sampling for one call. JSON asks the
// provider for a JSON-object response when it supports one.
type InvokeOptions struct {
	Model       string
	Temperature float64
	JSON        bool
}

// ChatModel turns prompt messages into raw response text.
// All LLM providers (OpenAI, Ollama, Gemini) implement this interface.
type ChatModel interface {
	Invoke(ctx context.Context, messages []Message, opts InvokeOptions) (string, error)
}

// Embedder provides embeddings for text.
type Embedder interface {
	EmbedText(ctx context.Context, text, taskType string) ([]float32, error)
}

// BatchEmbedder optionally supports embedding multiple texts at once.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}
