package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glrag/glrag/internal/repository"
)

const projectColumns = `id, gitlab_id, name, path_with_namespace, description,
	default_branch, http_url_to_repo, is_indexed, is_selected, indexing_status,
	indexing_error, last_indexed_at, last_indexed_commit, created_at, updated_at`

// ProjectRepo implements repository.ProjectRepository
type ProjectRepo struct {
	db *DB
}

// NewProjectRepo creates a new project repository
func NewProjectRepo(db *DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func scanProject(row pgx.Row) (*repository.Project, error) {
	var p repository.Project
	err := row.Scan(
		&p.ID, &p.GitLabID, &p.Name, &p.PathWithNamespace, &p.Description,
		&p.DefaultBranch, &p.HTTPURLToRepo, &p.IsIndexed, &p.IsSelected,
		&p.IndexingStatus, &p.IndexingError, &p.LastIndexedAt,
		&p.LastIndexedCommit, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

func (r *ProjectRepo) queryProjects(ctx context.Context, query string, args ...any) ([]*repository.Project, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*repository.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetAll returns all projects ordered by name
func (r *ProjectRepo) GetAll(ctx context.Context) ([]*repository.Project, error) {
	return r.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
}

// GetByID returns a project by local id
func (r *ProjectRepo) GetByID(ctx context.Context, id int64) (*repository.Project, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// GetByGitLabID returns a project by its GitLab id
func (r *ProjectRepo) GetByGitLabID(ctx context.Context, gitlabID int64) (*repository.Project, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE gitlab_id = $1`, gitlabID)
	return scanProject(row)
}

// GetSelected returns projects selected for querying
func (r *ProjectRepo) GetSelected(ctx context.Context) ([]*repository.Project, error) {
	return r.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE is_selected ORDER BY name`)
}

// GetIndexed returns successfully indexed projects eligible for syncing
func (r *ProjectRepo) GetIndexed(ctx context.Context) ([]*repository.Project, error) {
	return r.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE is_indexed AND indexing_status IN ('completed', 'error')
		 ORDER BY name`)
}

// Upsert creates or updates a project by GitLab id. The second return value
// reports whether a new row was created.
func (r *ProjectRepo) Upsert(ctx context.Context, gitlabID int64, fields repository.ProjectFields) (*repository.Project, bool, error) {
	var created bool
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO projects (gitlab_id, name, path_with_namespace, description, default_branch, http_url_to_repo)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gitlab_id) DO UPDATE SET
			name = EXCLUDED.name,
			path_with_namespace = EXCLUDED.path_with_namespace,
			description = EXCLUDED.description,
			default_branch = EXCLUDED.default_branch,
			http_url_to_repo = EXCLUDED.http_url_to_repo,
			updated_at = NOW()
		RETURNING `+projectColumns+`, (xmax = 0)`,
		gitlabID, fields.Name, fields.PathWithNamespace, fields.Description,
		fields.DefaultBranch, fields.HTTPURLToRepo)

	var p repository.Project
	err := row.Scan(
		&p.ID, &p.GitLabID, &p.Name, &p.PathWithNamespace, &p.Description,
		&p.DefaultBranch, &p.HTTPURLToRepo, &p.IsIndexed, &p.IsSelected,
		&p.IndexingStatus, &p.IndexingError, &p.LastIndexedAt,
		&p.LastIndexedCommit, &p.CreatedAt, &p.UpdatedAt, &created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert project: %w", err)
	}
	return &p, created, nil
}

// SetSelected sets project selection status
func (r *ProjectRepo) SetSelected(ctx context.Context, id int64, selected bool) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE projects SET is_selected = $2, updated_at = NOW() WHERE id = $1`, id, selected)
	if err != nil {
		return fmt.Errorf("failed to set selection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus updates indexing status and error message
func (r *ProjectRepo) UpdateStatus(ctx context.Context, id int64, status, errMsg string) error {
	var err error
	switch status {
	case repository.StatusCompleted:
		_, err = r.db.Pool.Exec(ctx, `
			UPDATE projects SET indexing_status = $2, indexing_error = $3,
				is_indexed = TRUE, last_indexed_at = NOW(), updated_at = NOW()
			WHERE id = $1`, id, status, errMsg)
	default:
		_, err = r.db.Pool.Exec(ctx, `
			UPDATE projects SET indexing_status = $2, indexing_error = $3, updated_at = NOW()
			WHERE id = $1`, id, status, errMsg)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// SetLastIndexedCommit records the HEAD commit captured by the code stage
func (r *ProjectRepo) SetLastIndexedCommit(ctx context.Context, id int64, commit string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE projects SET last_indexed_commit = $2, updated_at = NOW() WHERE id = $1`, id, commit)
	if err != nil {
		return fmt.Errorf("failed to set last indexed commit: %w", err)
	}
	return nil
}

// RecoverStaleSyncing resets projects stuck in "syncing" since before cutoff
func (r *ProjectRepo) RecoverStaleSyncing(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE projects SET indexing_status = 'completed', updated_at = NOW()
		WHERE is_indexed AND indexing_status = 'syncing' AND last_indexed_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stale projects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ensure ProjectRepo implements the interface
var _ repository.ProjectRepository = (*ProjectRepo)(nil)
