package ai

import (
	"fmt"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderHash   = "hash"
)

// ProviderConfig selects and configures one model provider.
type ProviderConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"baseURL"`
	APIKey     string `yaml:"apiKey"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewChatModel builds the chat backend named by cfg.Provider.
func NewChatModel(cfg ProviderConfig) (ChatModel, error) {
	switch normalizeProvider(cfg.Provider) {
	case ProviderOpenAI, "":
		client, err := NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOllama:
		return NewOllamaClient(cfg.BaseURL), nil
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", cfg.Provider)
	}
}

// NewEmbedder builds the embedding backend named by cfg.Provider.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	switch normalizeProvider(cfg.Provider) {
	case ProviderOpenAI, "":
		client, err := NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		model := cfg.Model
		if strings.TrimSpace(model) == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbedder(client, model, cfg.Dimensions), nil
	case ProviderOllama:
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("ollama embedding model required")
		}
		return NewOllamaEmbedder(NewOllamaClient(cfg.BaseURL), cfg.Model, cfg.Dimensions), nil
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		model := cfg.Model
		if strings.TrimSpace(model) == "" {
			model = "text-embedding-004"
		}
		return NewGeminiEmbedder(client, model), nil
	case ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
