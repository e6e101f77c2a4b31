// Package indexer runs the content indexing pipeline: fetching GitLab
// content, chunking it, embedding the chunks, and recording ownership of the
// resulting vector points.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glrag/glrag/internal/chunking"
	"github.com/glrag/glrag/internal/embedder"
	"github.com/glrag/glrag/internal/gitlab"
	"github.com/glrag/glrag/internal/gitrepo"
	"github.com/glrag/glrag/internal/repository"
	"github.com/glrag/glrag/internal/vectorstore"
)

// itemPace spaces per-item work during bulk indexing so note fetches don't
// hammer the GitLab API beyond the client's own rate limit.
const itemPace = 200 * time.Millisecond

// gitlabAPI is the slice of the GitLab client the indexing pipeline uses.
type gitlabAPI interface {
	ListProjects(ctx context.Context) ([]*gitlab.Project, error)
	ListIssues(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]*gitlab.Issue, error)
	ListIssueIDs(ctx context.Context, projectID int64) ([]int64, error)
	ListIssueNotes(ctx context.Context, projectID, iid int64) ([]*gitlab.Note, error)
	ListMergeRequests(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]*gitlab.MergeRequest, error)
	ListMergeRequestIDs(ctx context.Context, projectID int64) ([]int64, error)
	ListMergeRequestNotes(ctx context.Context, projectID, iid int64) ([]*gitlab.Note, error)
	GetRawFile(ctx context.Context, projectID int64, path, ref string) ([]byte, error)
	ListTree(ctx context.Context, projectID int64, ref string) ([]*gitlab.TreeEntry, error)
}

var _ gitlabAPI = (*gitlab.Client)(nil)

// repoManager manages the local working trees used for code indexing.
type repoManager interface {
	Ensure(ctx context.Context, projectID int64, cloneURL string) (string, error)
	Head(ctx context.Context, projectID int64) (string, error)
	ChangedFiles(ctx context.Context, projectID int64, oldCommit, newCommit string) ([]string, error)
}

var _ repoManager = (*gitrepo.Manager)(nil)

// contentChunker splits fetched content into embeddable chunks.
type contentChunker interface {
	ChunkIssue(issue *gitlab.Issue, projectID int64) []chunking.Chunk
	ChunkMergeRequest(mr *gitlab.MergeRequest, projectID int64) []chunking.Chunk
	ChunkComment(note *gitlab.Note, parentType string, parentIID, projectID int64) []chunking.Chunk
	ChunkReadme(content string, projectID int64, projectName, webURL string) []chunking.Chunk
	ChunkCodeFile(filePath, content string, projectID int64) []chunking.Chunk
}

var _ contentChunker = (*chunking.Chunker)(nil)

// Indexer orchestrates full and incremental indexing of GitLab projects
type Indexer struct {
	projects repository.ProjectRepository
	items    repository.ItemRepository
	gitlab   gitlabAPI
	chunker  contentChunker
	embedder embedder.Embedder
	store    vectorstore.VectorStore
	repos    repoManager

	gitlabURL string
	pace      time.Duration
}

// New creates an Indexer
func New(
	projects repository.ProjectRepository,
	items repository.ItemRepository,
	gitlabClient *gitlab.Client,
	chunker *chunking.Chunker,
	emb embedder.Embedder,
	store vectorstore.VectorStore,
	repos *gitrepo.Manager,
	gitlabURL string,
) *Indexer {
	return &Indexer{
		projects:  projects,
		items:     items,
		gitlab:    gitlabClient,
		chunker:   chunker,
		embedder:  emb,
		store:     store,
		repos:     repos,
		gitlabURL: gitlabURL,
		pace:      itemPace,
	}
}

// embedChunks embeds chunks and upserts them as points, returning the
// deterministic point ids. Re-indexing unchanged content produces the same
// ids, so upserts overwrite instead of duplicating.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []chunking.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	points := make([]vectorstore.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		id := vectorstore.PointID(metaInt64(c.Metadata, "project_id"), metaString(c.Metadata, "type"), chunkEntity(c.Metadata), c.Content)
		ids[i] = id

		meta := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["token_count"] = c.TokenCount

		points[i] = vectorstore.Point{
			ID:       id,
			Content:  c.Content,
			Vector:   vectors[i],
			Metadata: meta,
		}
	}

	if err := ix.store.Upsert(ctx, points); err != nil {
		return nil, err
	}
	return ids, nil
}

// chunkEntity picks the identifying metadata field for point id derivation
func chunkEntity(meta map[string]any) string {
	for _, key := range []string{"issue_id", "mr_id", "file_path"} {
		if v, ok := meta[key]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// setStatus updates project status, logging rather than failing when the
// bookkeeping write itself errors
func (ix *Indexer) setStatus(ctx context.Context, projectID int64, status, errMsg string) {
	if err := ix.projects.UpdateStatus(ctx, projectID, status, errMsg); err != nil {
		slog.Error("failed to update project status",
			"project_id", projectID, "status", status, "error", err)
	}
}

// webURL builds the browsable project URL
func (ix *Indexer) webURL(p *repository.Project) string {
	return ix.gitlabURL + "/" + p.PathWithNamespace
}

// defaultBranch returns the project's default branch, falling back to main
func defaultBranch(p *repository.Project) string {
	if p.DefaultBranch == "" {
		return "main"
	}
	return p.DefaultBranch
}

// ClearIndex removes all vectors and manifest rows for a project and resets
// its status to pending.
func (ix *Indexer) ClearIndex(ctx context.Context, projectID int64) error {
	p, err := ix.projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if err := ix.store.DeleteByProject(ctx, p.GitLabID); err != nil {
		return err
	}
	if err := ix.items.DeleteByProject(ctx, projectID); err != nil {
		return err
	}
	ix.setStatus(ctx, projectID, repository.StatusPending, "")
	return nil
}
