package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"prospek"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"prospek"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Conversion service (docling-compatible)
	ConvertURL         string `envconfig:"CONVERT_URL" default:"http://docling:8000"`
	ConvertPreset      string `envconfig:"CONVERT_PRESET" default:"financial_deck"`
	PageBreakToken     string `envconfig:"PAGE_BREAK_TOKEN" default:"[[[DOC_PAGE_BREAK]]]"`
	RenderDPI          int    `envconfig:"RENDER_DPI" default:"144"`
	ConvertTimeoutSecs int    `envconfig:"CONVERT_TIMEOUT_SECONDS" default:"300"`

	// Embedding service
	EmbedProvider    string `envconfig:"EMBED_PROVIDER" default:"llamacpp"`
	EmbedBaseURL     string `envconfig:"EMBED_BASE_URL" default:"http://llamacpp:8080"`
	EmbedModel       string `envconfig:"EMBED_MODEL" default:"embedding"`
	EmbedDim         int    `envconfig:"EMBED_DIM" default:"1024"`
	EmbedBatchSize   int    `envconfig:"EMBED_BATCH_SIZE" default:"10"`
	EmbedTimeoutSecs int    `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`

	// Pipeline
	PipelineBatchSize    int `envconfig:"PIPELINE_BATCH_SIZE" default:"10"`
	PipelineIntervalSecs int `envconfig:"PIPELINE_INTERVAL_SECONDS" default:"30"`
	PipelineMaxRetries   int `envconfig:"PIPELINE_MAX_RETRIES" default:"3"`
	PipelineRetryBaseMS  int `envconfig:"PIPELINE_RETRY_BASE_MS" default:"500"`
	PipelineConcurrency  int `envconfig:"PIPELINE_CONCURRENCY" default:"4"`
	ClaimLeaseMins       int `envconfig:"CLAIM_LEASE_MINUTES" default:"10"`

	// NSQ boundary to the download connector and event subscribers
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Optional Weaviate search mirror
	MirrorEnabled  bool   `envconfig:"MIRROR_ENABLED" default:"false"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"weaviate:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Operator alerts (Telegram)
	TelegramToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	DataDir      string `envconfig:"DATA_DIR" default:"./data"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may also be set in the shell; .env is best effort.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ConvertURL == "" {
		return fmt.Errorf("%w: CONVERT_URL", ErrMissingRequired)
	}
	if c.PageBreakToken == "" {
		return fmt.Errorf("%w: PAGE_BREAK_TOKEN", ErrMissingRequired)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("%w: EMBED_DIM must be positive", ErrMissingRequired)
	}
	return nil
}
