package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glrag/glrag/internal/gitlab"
	"github.com/glrag/glrag/internal/repository"
)

// readmeCandidates are tried in order when probing for a project README
var readmeCandidates = []string{"README.md", "readme.md", "Readme.md", "README.MD"}

// IndexProject runs the full indexing pipeline for a project: README, issues
// with comments, merge requests with comments, and code. Stage failures mark
// the project errored.
func (ix *Indexer) IndexProject(ctx context.Context, projectID int64) error {
	p, err := ix.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("project %d: %w", projectID, err)
	}

	slog.Info("starting full index", "project_id", projectID, "path", p.PathWithNamespace)
	ix.setStatus(ctx, projectID, repository.StatusIndexing, "")

	stages := []struct {
		name string
		run  func(context.Context, *repository.Project) error
	}{
		{"readme", ix.indexReadme},
		{"issues", ix.indexIssues},
		{"merge_requests", ix.indexMergeRequests},
		{"code", ix.indexCode},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, p); err != nil {
			// A canceled context means the user stopped the run; the stop
			// handler already set the stopped status, don't overwrite it.
			if errors.Is(err, context.Canceled) {
				slog.Info("indexing stopped", "project_id", projectID, "stage", stage.name)
				return fmt.Errorf("stage %s: %w", stage.name, err)
			}
			slog.Error("indexing stage failed",
				"project_id", projectID, "stage", stage.name, "error", err)
			ix.setStatus(ctx, projectID, repository.StatusError, err.Error())
			return fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}

	ix.setStatus(ctx, projectID, repository.StatusCompleted, "")
	slog.Info("full index completed", "project_id", projectID)
	return nil
}

// fetchReadme probes the README filename variants on the default branch,
// returning the first non-empty hit
func (ix *Indexer) fetchReadme(ctx context.Context, p *repository.Project) (string, bool) {
	for _, name := range readmeCandidates {
		content, err := ix.gitlab.GetRawFile(ctx, p.GitLabID, name, defaultBranch(p))
		if err != nil {
			continue
		}
		if text := string(content); strings.TrimSpace(text) != "" {
			return text, true
		}
	}
	return "", false
}

// readmeHashIID packs the leading 8 hex chars of the content hash into an
// int64 for storage in the manifest's item_iid column
func readmeHashIID(content string) int64 {
	sum := sha256.Sum256([]byte(content))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return int64(v)
}

func (ix *Indexer) indexReadme(ctx context.Context, p *repository.Project) error {
	content, ok := ix.fetchReadme(ctx, p)
	if !ok {
		slog.Info("no README found", "project_id", p.ID)
		return nil
	}

	chunks := ix.chunker.ChunkReadme(content, p.GitLabID, p.Name, ix.webURL(p))
	if len(chunks) == 0 {
		return nil
	}

	pointIDs, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	return ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeReadme,
		ItemID:        p.GitLabID,
		ItemIID:       readmeHashIID(content),
		QdrantPointID: pointIDs,
	})
}

// indexOneIssue chunks an issue plus its comments, embeds everything, and
// records the manifest row
func (ix *Indexer) indexOneIssue(ctx context.Context, p *repository.Project, issue *gitlab.Issue) error {
	chunks := ix.chunker.ChunkIssue(issue, p.GitLabID)

	notes, err := ix.gitlab.ListIssueNotes(ctx, p.GitLabID, issue.IID)
	if err != nil {
		return err
	}
	for _, note := range notes {
		chunks = append(chunks, ix.chunker.ChunkComment(note, "issue", issue.IID, p.GitLabID)...)
	}

	pointIDs, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	updatedAt := issue.UpdatedAt
	return ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeIssue,
		ItemID:        issue.ID,
		ItemIID:       issue.IID,
		QdrantPointID: pointIDs,
		LastUpdatedAt: &updatedAt,
	})
}

func (ix *Indexer) indexIssues(ctx context.Context, p *repository.Project) error {
	issues, err := ix.gitlab.ListIssues(ctx, p.GitLabID, nil)
	if err != nil {
		return err
	}

	indexed := 0
	for _, issue := range issues {
		if err := ix.indexOneIssue(ctx, p, issue); err != nil {
			slog.Warn("failed to index issue",
				"project_id", p.ID, "issue_iid", issue.IID, "error", err)
		} else {
			indexed++
		}
		if err := sleepCtx(ctx, ix.pace); err != nil {
			return err
		}
	}
	slog.Info("indexed issues", "project_id", p.ID, "count", indexed)
	return nil
}

// indexOneMergeRequest mirrors indexOneIssue for MRs
func (ix *Indexer) indexOneMergeRequest(ctx context.Context, p *repository.Project, mr *gitlab.MergeRequest) error {
	chunks := ix.chunker.ChunkMergeRequest(mr, p.GitLabID)

	notes, err := ix.gitlab.ListMergeRequestNotes(ctx, p.GitLabID, mr.IID)
	if err != nil {
		return err
	}
	for _, note := range notes {
		chunks = append(chunks, ix.chunker.ChunkComment(note, "merge_request", mr.IID, p.GitLabID)...)
	}

	pointIDs, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	updatedAt := mr.UpdatedAt
	return ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeMergeRequest,
		ItemID:        mr.ID,
		ItemIID:       mr.IID,
		QdrantPointID: pointIDs,
		LastUpdatedAt: &updatedAt,
	})
}

func (ix *Indexer) indexMergeRequests(ctx context.Context, p *repository.Project) error {
	mrs, err := ix.gitlab.ListMergeRequests(ctx, p.GitLabID, nil)
	if err != nil {
		return err
	}

	indexed := 0
	for _, mr := range mrs {
		if err := ix.indexOneMergeRequest(ctx, p, mr); err != nil {
			slog.Warn("failed to index merge request",
				"project_id", p.ID, "mr_iid", mr.IID, "error", err)
		} else {
			indexed++
		}
		if err := sleepCtx(ctx, ix.pace); err != nil {
			return err
		}
	}
	slog.Info("indexed merge requests", "project_id", p.ID, "count", indexed)
	return nil
}

// indexFile chunks and embeds one file, returning its point ids
func (ix *Indexer) indexFile(ctx context.Context, repoPath, relPath string, gitlabID int64) ([]string, error) {
	content, err := os.ReadFile(filepath.Join(repoPath, relPath))
	if err != nil {
		return nil, err
	}
	chunks := ix.chunker.ChunkCodeFile(relPath, string(content), gitlabID)
	return ix.embedChunks(ctx, chunks)
}

func (ix *Indexer) indexCode(ctx context.Context, p *repository.Project) error {
	if p.HTTPURLToRepo == "" {
		slog.Info("project has no repository URL, skipping code", "project_id", p.ID)
		return nil
	}

	repoPath, err := ix.repos.Ensure(ctx, p.GitLabID, p.HTTPURLToRepo)
	if err != nil {
		slog.Warn("clone unavailable, indexing code via API",
			"project_id", p.ID, "error", err)
		return ix.indexCodeViaAPI(ctx, p)
	}

	allPointIDs, filesIndexed, err := ix.walkAndIndex(ctx, p, repoPath)
	if err != nil {
		return err
	}

	if err := ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeCode,
		ItemID:        p.GitLabID,
		QdrantPointID: allPointIDs,
	}); err != nil {
		return err
	}

	head, err := ix.repos.Head(ctx, p.GitLabID)
	if err != nil {
		slog.Warn("failed to resolve HEAD", "project_id", p.ID, "error", err)
	} else if err := ix.projects.SetLastIndexedCommit(ctx, p.ID, head); err != nil {
		return err
	}

	slog.Info("indexed code", "project_id", p.ID, "files", filesIndexed)
	return nil
}

// walkAndIndex chunks and embeds every indexable file under repoPath,
// returning the resulting point ids and the file count. Per-file failures
// log and skip.
func (ix *Indexer) walkAndIndex(ctx context.Context, p *repository.Project, repoPath string) ([]string, int, error) {
	var allPointIDs []string
	filesIndexed := 0

	err := filepath.WalkDir(repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return relErr
		}
		if entry.IsDir() {
			if skipDirs[entry.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !isIndexableFile(rel, entry) {
			return nil
		}

		pointIDs, err := ix.indexFile(ctx, repoPath, rel, p.GitLabID)
		if err != nil {
			slog.Warn("failed to index file", "project_id", p.ID, "file", rel, "error", err)
			return nil
		}
		allPointIDs = append(allPointIDs, pointIDs...)
		filesIndexed++
		return nil
	})
	return allPointIDs, filesIndexed, err
}

// indexCodeViaAPI walks the repository tree over the REST API when a local
// clone cannot be obtained. last_indexed_commit stays unset, so the first
// sync after a successful clone records HEAD and diffs from there.
func (ix *Indexer) indexCodeViaAPI(ctx context.Context, p *repository.Project) error {
	entries, err := ix.gitlab.ListTree(ctx, p.GitLabID, defaultBranch(p))
	if err != nil {
		return err
	}

	var allPointIDs []string
	filesIndexed := 0
	for _, entry := range entries {
		if entry.Type != "blob" || !isIndexablePath(entry.Path) {
			continue
		}
		content, err := ix.gitlab.GetRawFile(ctx, p.GitLabID, entry.Path, defaultBranch(p))
		if err != nil {
			slog.Warn("failed to fetch file", "project_id", p.ID, "file", entry.Path, "error", err)
			continue
		}
		if len(content) > maxFileSize {
			continue
		}

		chunks := ix.chunker.ChunkCodeFile(entry.Path, string(content), p.GitLabID)
		pointIDs, err := ix.embedChunks(ctx, chunks)
		if err != nil {
			slog.Warn("failed to index file", "project_id", p.ID, "file", entry.Path, "error", err)
			continue
		}
		allPointIDs = append(allPointIDs, pointIDs...)
		filesIndexed++
	}

	if err := ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeCode,
		ItemID:        p.GitLabID,
		QdrantPointID: allPointIDs,
	}); err != nil {
		return err
	}

	slog.Info("indexed code via API", "project_id", p.ID, "files", filesIndexed)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshProjects pulls the accessible project list from GitLab and upserts
// each into the database. Returns counts of created and updated rows.
func (ix *Indexer) RefreshProjects(ctx context.Context) (created, updated int, err error) {
	projects, err := ix.gitlab.ListProjects(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, proj := range projects {
		_, isNew, err := ix.projects.Upsert(ctx, proj.ID, repository.ProjectFields{
			Name:              proj.Name,
			PathWithNamespace: proj.PathWithNamespace,
			Description:       proj.Description,
			DefaultBranch:     proj.DefaultBranch,
			HTTPURLToRepo:     proj.HTTPURLToRepo,
		})
		if err != nil {
			return created, updated, err
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	slog.Info("project refresh complete", "created", created, "updated", updated)
	return created, updated, nil
}
