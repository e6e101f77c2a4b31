package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/glrag/glrag/internal/repository"
)

const providerColumns = `id, name, provider_type, api_key, model_id, base_url,
	is_default, created_at, updated_at`

// ProviderRepo implements repository.ProviderRepository
type ProviderRepo struct {
	db *DB
}

// NewProviderRepo creates a new LLM provider repository
func NewProviderRepo(db *DB) *ProviderRepo {
	return &ProviderRepo{db: db}
}

func scanProvider(row pgx.Row) (*repository.LLMProvider, error) {
	var p repository.LLMProvider
	err := row.Scan(
		&p.ID, &p.Name, &p.ProviderType, &p.APIKey, &p.ModelID, &p.BaseURL,
		&p.IsDefault, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan provider: %w", err)
	}
	return &p, nil
}

// GetAll returns all configured providers
func (r *ProviderRepo) GetAll(ctx context.Context) ([]*repository.LLMProvider, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+providerColumns+` FROM llm_providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*repository.LLMProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// GetByID returns one provider
func (r *ProviderRepo) GetByID(ctx context.Context, id int64) (*repository.LLMProvider, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM llm_providers WHERE id = $1`, id)
	return scanProvider(row)
}

// GetDefault returns the provider marked default
func (r *ProviderRepo) GetDefault(ctx context.Context) (*repository.LLMProvider, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM llm_providers WHERE is_default LIMIT 1`)
	return scanProvider(row)
}

// Create inserts a provider. The first provider ever created becomes default.
func (r *ProviderRepo) Create(ctx context.Context, p *repository.LLMProvider) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO llm_providers (name, provider_type, api_key, model_id, base_url, is_default)
		VALUES ($1, $2, $3, $4, $5,
			NOT EXISTS (SELECT 1 FROM llm_providers))
		RETURNING id, is_default, created_at, updated_at`,
		p.Name, p.ProviderType, p.APIKey, p.ModelID, p.BaseURL).
		Scan(&p.ID, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

// Update replaces a provider's mutable fields
func (r *ProviderRepo) Update(ctx context.Context, p *repository.LLMProvider) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE llm_providers SET name = $2, provider_type = $3, api_key = $4,
			model_id = $5, base_url = $6, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.ProviderType, p.APIKey, p.ModelID, p.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a provider
func (r *ProviderRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM llm_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetDefault marks one provider default and clears the flag on the rest
func (r *ProviderRepo) SetDefault(ctx context.Context, id int64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE llm_providers SET is_default = FALSE WHERE is_default`); err != nil {
		return fmt.Errorf("failed to clear default: %w", err)
	}
	result, err := tx.Exec(ctx,
		`UPDATE llm_providers SET is_default = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// Ensure ProviderRepo implements the interface
var _ repository.ProviderRepository = (*ProviderRepo)(nil)
