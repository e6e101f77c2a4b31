package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/glrag/glrag/internal/repository"
)

const itemColumns = `id, project_id, item_type, item_id, item_iid,
	qdrant_point_ids, last_updated_at, indexed_at`

// ItemRepo implements repository.ItemRepository
type ItemRepo struct {
	db *DB
}

// NewItemRepo creates a new indexed item repository
func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

func scanItem(row pgx.Row) (*repository.IndexedItem, error) {
	var it repository.IndexedItem
	err := row.Scan(
		&it.ID, &it.ProjectID, &it.ItemType, &it.ItemID, &it.ItemIID,
		&it.QdrantPointID, &it.LastUpdatedAt, &it.IndexedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan indexed item: %w", err)
	}
	return &it, nil
}

func (r *ItemRepo) queryItems(ctx context.Context, query string, args ...any) ([]*repository.IndexedItem, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed items: %w", err)
	}
	defer rows.Close()

	var items []*repository.IndexedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByProject returns all indexed items for a project
func (r *ItemRepo) GetByProject(ctx context.Context, projectID int64) ([]*repository.IndexedItem, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+` FROM indexed_items WHERE project_id = $1`, projectID)
}

// GetByType returns indexed items of one type for a project
func (r *ItemRepo) GetByType(ctx context.Context, projectID int64, itemType string) ([]*repository.IndexedItem, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+` FROM indexed_items WHERE project_id = $1 AND item_type = $2`,
		projectID, itemType)
}

// Get returns one indexed item by its natural key
func (r *ItemRepo) Get(ctx context.Context, projectID int64, itemType string, itemID int64) (*repository.IndexedItem, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM indexed_items
		 WHERE project_id = $1 AND item_type = $2 AND item_id = $3`,
		projectID, itemType, itemID)
	return scanItem(row)
}

// Upsert inserts or replaces the manifest row for an item
func (r *ItemRepo) Upsert(ctx context.Context, item *repository.IndexedItem) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO indexed_items (project_id, item_type, item_id, item_iid, qdrant_point_ids, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, item_type, item_id) DO UPDATE SET
			item_iid = EXCLUDED.item_iid,
			qdrant_point_ids = EXCLUDED.qdrant_point_ids,
			last_updated_at = EXCLUDED.last_updated_at,
			indexed_at = NOW()`,
		item.ProjectID, item.ItemType, item.ItemID, item.ItemIID,
		item.QdrantPointID, item.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert indexed item: %w", err)
	}
	return nil
}

// Delete removes one manifest row by its row id
func (r *ItemRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM indexed_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexed item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByProject removes all manifest rows for a project
func (r *ItemRepo) DeleteByProject(ctx context.Context, projectID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM indexed_items WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete indexed items: %w", err)
	}
	return nil
}

// Ensure ItemRepo implements the interface
var _ repository.ItemRepository = (*ItemRepo)(nil)
