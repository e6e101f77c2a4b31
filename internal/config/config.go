// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8000"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// GitLab
	GitLabURL string `env:"GITLAB_URL" envDefault:"https://gitlab.com"`
	GitLabPAT string `env:"GITLAB_PAT"`

	// LLM (chat / query planning)
	LLMProvider   string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Embeddings
	EmbeddingProvider       string `env:"EMBEDDING_PROVIDER" envDefault:"openai"`
	OpenAIEmbeddingModel    string `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	LocalEmbeddingURL       string `env:"LOCAL_EMBEDDING_URL" envDefault:"http://embedding-server:8080"`
	LocalEmbeddingDimension int    `env:"LOCAL_EMBEDDING_DIMENSION" envDefault:"384"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"gitlab_chat"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"gitlab_chat"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`

	// Qdrant
	QdrantHost string `env:"QDRANT_HOST" envDefault:"localhost"`
	QdrantPort int    `env:"QDRANT_PORT" envDefault:"6334"`

	// Redis (job queue)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Indexing
	ChunkSize    int           `env:"CHUNK_SIZE" envDefault:"512"`
	ChunkOverlap int           `env:"CHUNK_OVERLAP" envDefault:"50"`
	TopKResults  int           `env:"TOP_K_RESULTS" envDefault:"10"`
	ReposPath    string        `env:"REPOS_PATH" envDefault:"/app/repos"`
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
}

// DatabaseURL constructs the Postgres connection URL.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB,
	)
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
