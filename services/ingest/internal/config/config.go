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
	Port                   string            `yaml:"port"`
	LogLevel               string            `yaml:"logLevel"`
	DatabaseURL            string            `yaml:"databaseURL"`
	EmbeddingDim           int               `yaml:"embeddingDim"`
	StorageBackend         string            `yaml:"storageBackend"`
	StorageDir             string            `yaml:"storageDir"`
	MinioEndpoint          string            `yaml:"minioEndpoint"`
	MinioAccessKey         string            `yaml:"minioAccessKey"`
	MinioSecretKey         string            `yaml:"minioSecretKey"`
	MinioBucket            string            `yaml:"minioBucket"`
	MinioUseSSL            bool              `yaml:"minioUseSSL"`
	Embedding              ai.ProviderConfig `yaml:"embedding"`
	Chat                   ai.ProviderConfig `yaml:"chat"`
	Models                 []ai.ModelSpec    `yaml:"models"`
	DefaultModel           string            `yaml:"defaultModel"`
	RedisAddr              string            `yaml:"redisAddr"`
	RedisPassword          string            `yaml:"redisPassword"`
	QueueName              string            `yaml:"queueName"`
	QueueGroup             string            `yaml:"queueGroup"`
	QueueConcurrency       int               `yaml:"queueConcurrency"`
	QueueMaxRetries        int               `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int               `yaml:"queueRetryDelaySeconds"`
	ChunkSize              int               `yaml:"chunkSize"`
	ChunkOverlap           int               `yaml:"chunkOverlap"`
	EmbedConcurrency       int               `yaml:"embedConcurrency"`
	PdftotextEnabled       bool              `yaml:"pdftotextEnabled"`
	ExtractTimeoutSeconds  int               `yaml:"extractTimeoutSeconds"`
	MaxUploadBytes         int64             `yaml:"maxUploadBytes"`
	AllowedExtensions      []string          `yaml:"allowedExtensions"`
	CORSOrigins            []string          `yaml:"corsOrigins"`
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
	setString(&cfg.Port, "INGEST_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setInt(&cfg.EmbeddingDim, "PDFCHAT_EMBEDDING_DIM")
	setString(&cfg.StorageBackend, "STORAGE_BACKEND")
	setString(&cfg.StorageDir, "STORAGE_DIR")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
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
	setString(&cfg.QueueName, "INGEST_QUEUE_NAME")
	setString(&cfg.QueueGroup, "INGEST_QUEUE_GROUP")
	setInt(&cfg.QueueConcurrency, "INGEST_QUEUE_CONCURRENCY")
	setInt(&cfg.QueueMaxRetries, "INGEST_QUEUE_MAX_RETRIES")
	setInt(&cfg.QueueRetryDelaySeconds, "INGEST_QUEUE_RETRY_DELAY_SECONDS")
	setInt(&cfg.ChunkSize, "INGEST_CHUNK_SIZE")
	setInt(&cfg.ChunkOverlap, "INGEST_CHUNK_OVERLAP")
	setInt(&cfg.EmbedConcurrency, "INGEST_EMBED_CONCURRENCY")
	setBool(&cfg.PdftotextEnabled, "INGEST_PDFTOTEXT_ENABLED")
	setInt(&cfg.ExtractTimeoutSeconds, "INGEST_EXTRACT_TIMEOUT_SECONDS")
	if v := os.Getenv("INGEST_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "minio"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 && cfg.ChunkSize > 200 {
		cfg.ChunkOverlap = 200
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or INGEST_PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageBackend {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for storageBackend=minio")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minio credentials are required (MINIO_ACCESS_KEY + MINIO_SECRET_KEY)")
		}
	case "disk":
		if strings.TrimSpace(cfg.StorageDir) == "" {
			return errors.New("config: storageDir is required for storageBackend=disk")
		}
	default:
		return fmt.Errorf("config: unsupported storageBackend %q (minio or disk)", cfg.StorageBackend)
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or INGEST_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or INGEST_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.EmbedConcurrency < 0 {
		return errors.New("config: embedConcurrency must be >= 0")
	}
	if cfg.ExtractTimeoutSeconds < 0 {
		return errors.New("config: extractTimeoutSeconds must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queue settings must be >= 0")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
