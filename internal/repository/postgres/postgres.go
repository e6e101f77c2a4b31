package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the schema if it does not exist yet. Statements are
// idempotent so this is safe to run on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id BIGSERIAL PRIMARY KEY,
			gitlab_id BIGINT NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			path_with_namespace VARCHAR(500) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			default_branch VARCHAR(100) NOT NULL DEFAULT 'main',
			http_url_to_repo VARCHAR(500) NOT NULL DEFAULT '',
			is_indexed BOOLEAN NOT NULL DEFAULT FALSE,
			is_selected BOOLEAN NOT NULL DEFAULT FALSE,
			indexing_status VARCHAR(50) NOT NULL DEFAULT 'pending',
			indexing_error TEXT NOT NULL DEFAULT '',
			last_indexed_at TIMESTAMPTZ,
			last_indexed_commit VARCHAR(40) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS indexed_items (
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			item_type VARCHAR(50) NOT NULL,
			item_id BIGINT NOT NULL,
			item_iid BIGINT NOT NULL DEFAULT 0,
			qdrant_point_ids TEXT[] NOT NULL DEFAULT '{}',
			last_updated_at TIMESTAMPTZ,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (project_id, item_type, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			title VARCHAR(500) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role VARCHAR(20) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS llm_providers (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			provider_type VARCHAR(50) NOT NULL,
			api_key TEXT NOT NULL,
			model_id VARCHAR(255) NOT NULL,
			base_url VARCHAR(500) NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_indexed_items_project_type
			ON indexed_items (project_id, item_type)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
