package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pdfchat/pkg/ai"
)

// ConfigPath is the default config file, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string            `yaml:"port"`
	LogLevel           string            `yaml:"logLevel"`
	DatabaseURL        string            `yaml:"databaseURL"`
	EmbeddingDim       int               `yaml:"embeddingDim"`
	Embedding          ai.ProviderConfig `yaml:"embedding"`
	Chat               ai.ProviderConfig `yaml:"chat"`
	Models             []ai.ModelSpec    `yaml:"models"`
	DefaultModel       string            `yaml:"defaultModel"`
	RedisAddr          string            `yaml:"redisAddr"`
	RedisPassword      string            `yaml:"redisPassword"`
	RateLimitPerMinute int               `yaml:"rateLimitPerMinute"`
	HistoryBackend     string            `yaml:"historyBackend"`
	HistoryDir         string            `yaml:"historyDir"`
	HistoryPrefix      string            `yaml:"historyPrefix"`
	TokenBudget        int               `yaml:"tokenBudget"`
	ChatK              int               `yaml:"chatK"`
	CitationK          int               `yaml:"citationK"`
	MaxBodyBytes       int64             `yaml:"maxBodyBytes"`
	CORSOrigins        []string          `yaml:"corsOrigins"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "CHAT_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setInt(&cfg.EmbeddingDim, "PDFCHAT_EMBEDDING_DIM")
	setString(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setString(&cfg.Chat.Provider, "CHAT_PROVIDER")
	setString(&cfg.Chat.BaseURL, "CHAT_BASE_URL")
	setString(&cfg.Chat.APIKey, "CHAT_API_KEY")
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.Chat.APIKey == "" {
			cfg.Chat.APIKey = v
		}
	}
	setString(&cfg.DefaultModel, "DEFAULT_MODEL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RateLimitPerMinute, "CHAT_RATE_LIMIT_PER_MINUTE")
	setString(&cfg.HistoryBackend, "CHAT_HISTORY_BACKEND")
	setString(&cfg.HistoryDir, "CHAT_HISTORY_DIR")
	setString(&cfg.HistoryPrefix, "CHAT_HISTORY_PREFIX")
	setInt(&cfg.TokenBudget, "CHAT_TOKEN_BUDGET")
	setInt(&cfg.ChatK, "CHAT_K")
	setInt(&cfg.CitationK, "CHAT_CITATION_K")
	if v := os.Getenv("CHAT_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = "file"
	}
	if cfg.HistoryBackend == "file" && cfg.HistoryDir == "" {
		cfg.HistoryDir = "data/history"
	}
	if cfg.ChatK == 0 {
		cfg.ChatK = 10
	}
	if cfg.CitationK == 0 {
		cfg.CitationK = 20
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or CHAT_PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.HistoryBackend {
	case "file":
		if strings.TrimSpace(cfg.HistoryDir) == "" {
			return errors.New("config: historyDir is required for historyBackend=file")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for historyBackend=redis")
		}
	default:
		return fmt.Errorf("config: unsupported historyBackend %q (file or redis)", cfg.HistoryBackend)
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when rateLimitPerMinute is set")
	}
	if cfg.TokenBudget < 0 {
		return errors.New("config: tokenBudget must be >= 0")
	}
	if cfg.ChatK < 0 || cfg.CitationK < 0 {
		return errors.New("config: chatK and citationK must be >= 0")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("config: maxBodyBytes must be >= 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
