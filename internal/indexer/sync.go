package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glrag/glrag/internal/repository"
)

// StaleSyncCutoff is how long a project may sit in "syncing" before the
// periodic sweep assumes its worker died and recovers it.
const StaleSyncCutoff = 2 * time.Minute

// SyncProject incrementally syncs a project: README by content hash, issues
// and MRs by updated_after delta, code by git diff, plus cleanup of items
// deleted upstream. A never-indexed project gets a full index instead.
func (ix *Indexer) SyncProject(ctx context.Context, projectID int64) error {
	p, err := ix.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("project %d: %w", projectID, err)
	}

	if p.LastIndexedAt == nil {
		slog.Info("project never indexed, running full index", "project_id", projectID)
		return ix.IndexProject(ctx, projectID)
	}
	since := *p.LastIndexedAt

	slog.Info("starting incremental sync", "project_id", projectID, "since", since)
	ix.setStatus(ctx, projectID, repository.StatusSyncing, "")

	stages := []struct {
		name string
		run  func(context.Context, *repository.Project) error
	}{
		{"readme", ix.syncReadme},
		{"issues", func(ctx context.Context, p *repository.Project) error { return ix.syncIssues(ctx, p, since) }},
		{"merge_requests", func(ctx context.Context, p *repository.Project) error { return ix.syncMergeRequests(ctx, p, since) }},
		{"code", ix.syncCode},
		{"cleanup", ix.cleanupDeletedItems},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, p); err != nil {
			// A canceled context means the user stopped the run; the stop
			// handler already set the stopped status, don't overwrite it.
			if errors.Is(err, context.Canceled) {
				slog.Info("sync stopped", "project_id", projectID, "stage", stage.name)
				return fmt.Errorf("stage %s: %w", stage.name, err)
			}
			slog.Error("sync stage failed",
				"project_id", projectID, "stage", stage.name, "error", err)
			ix.setStatus(ctx, projectID, repository.StatusError, err.Error())
			return fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}

	ix.setStatus(ctx, projectID, repository.StatusCompleted, "")
	slog.Info("incremental sync completed", "project_id", projectID)
	return nil
}

// syncReadme re-fetches the README and re-indexes only when its content hash
// changed since the last run
func (ix *Indexer) syncReadme(ctx context.Context, p *repository.Project) error {
	content, ok := ix.fetchReadme(ctx, p)
	if !ok {
		return nil
	}
	newHash := readmeHashIID(content)

	existing, err := ix.items.Get(ctx, p.ID, repository.ItemTypeReadme, p.GitLabID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if existing != nil && existing.ItemIID == newHash {
		slog.Debug("README unchanged", "project_id", p.ID)
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

	if existing != nil && len(existing.QdrantPointID) > 0 {
		if err := ix.store.DeleteByIDs(ctx, existing.QdrantPointID); err != nil {
			return err
		}
	}
	return ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeReadme,
		ItemID:        p.GitLabID,
		ItemIID:       newHash,
		QdrantPointID: pointIDs,
	})
}

// syncIssues re-indexes issues updated since the last run, dropping each
// issue's previous points before writing the new ones
func (ix *Indexer) syncIssues(ctx context.Context, p *repository.Project, since time.Time) error {
	issues, err := ix.gitlab.ListIssues(ctx, p.GitLabID, &since)
	if err != nil {
		return err
	}

	updated := 0
	for _, issue := range issues {
		existing, err := ix.items.Get(ctx, p.ID, repository.ItemTypeIssue, issue.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil && len(existing.QdrantPointID) > 0 {
			if err := ix.store.DeleteByIDs(ctx, existing.QdrantPointID); err != nil {
				slog.Warn("failed to delete stale points",
					"project_id", p.ID, "issue_iid", issue.IID, "error", err)
			}
		}

		if err := ix.indexOneIssue(ctx, p, issue); err != nil {
			slog.Warn("failed to sync issue",
				"project_id", p.ID, "issue_iid", issue.IID, "error", err)
		} else {
			updated++
		}
		if err := sleepCtx(ctx, ix.pace); err != nil {
			return err
		}
	}
	slog.Info("synced updated issues", "project_id", p.ID, "count", updated)
	return nil
}

// syncMergeRequests mirrors syncIssues for MRs
func (ix *Indexer) syncMergeRequests(ctx context.Context, p *repository.Project, since time.Time) error {
	mrs, err := ix.gitlab.ListMergeRequests(ctx, p.GitLabID, &since)
	if err != nil {
		return err
	}

	updated := 0
	for _, mr := range mrs {
		existing, err := ix.items.Get(ctx, p.ID, repository.ItemTypeMergeRequest, mr.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil && len(existing.QdrantPointID) > 0 {
			if err := ix.store.DeleteByIDs(ctx, existing.QdrantPointID); err != nil {
				slog.Warn("failed to delete stale points",
					"project_id", p.ID, "mr_iid", mr.IID, "error", err)
			}
		}

		if err := ix.indexOneMergeRequest(ctx, p, mr); err != nil {
			slog.Warn("failed to sync merge request",
				"project_id", p.ID, "mr_iid", mr.IID, "error", err)
		} else {
			updated++
		}
		if err := sleepCtx(ctx, ix.pace); err != nil {
			return err
		}
	}
	slog.Info("synced updated merge requests", "project_id", p.ID, "count", updated)
	return nil
}

// syncCode pulls the local clone and re-indexes only files the diff between
// the last indexed commit and the new HEAD touched. Points for old versions
// of a file are overwritten by the deterministic ids; points for content
// removed from a file are kept in the union and swept on the next full index.
func (ix *Indexer) syncCode(ctx context.Context, p *repository.Project) error {
	if p.HTTPURLToRepo == "" {
		return nil
	}

	// Capture HEAD before Ensure pulls: when no last indexed commit was
	// recorded, the pre-pull HEAD is the diff baseline, so changes brought
	// in by this very pull are still indexed.
	oldHead := ""
	if head, err := ix.repos.Head(ctx, p.GitLabID); err == nil {
		oldHead = head
	}

	repoPath, err := ix.repos.Ensure(ctx, p.GitLabID, p.HTTPURLToRepo)
	if err != nil {
		return err
	}
	newHead, err := ix.repos.Head(ctx, p.GitLabID)
	if err != nil {
		return err
	}

	base := p.LastIndexedCommit
	if base == "" {
		base = oldHead
	}
	if base == newHead {
		slog.Debug("no code changes", "project_id", p.ID)
		if p.LastIndexedCommit != newHead {
			return ix.projects.SetLastIndexedCommit(ctx, p.ID, newHead)
		}
		return nil
	}
	if base == "" {
		// Fresh clone during sync; nothing to diff against.
		return ix.reindexAllCode(ctx, p, repoPath, newHead)
	}

	changed, err := ix.repos.ChangedFiles(ctx, p.GitLabID, base, newHead)
	if err != nil {
		slog.Warn("diff failed, re-walking tree", "project_id", p.ID, "error", err)
		return ix.reindexAllCode(ctx, p, repoPath, newHead)
	}

	var newPointIDs []string
	filesUpdated := 0
	for _, rel := range changed {
		if _, err := os.Stat(filepath.Join(repoPath, rel)); err != nil {
			continue // deleted upstream
		}
		if !isIndexablePath(rel) {
			continue
		}

		pointIDs, err := ix.indexFile(ctx, repoPath, rel, p.GitLabID)
		if err != nil {
			slog.Warn("failed to sync file", "project_id", p.ID, "file", rel, "error", err)
			continue
		}
		newPointIDs = append(newPointIDs, pointIDs...)
		filesUpdated++
	}

	existing, err := ix.items.Get(ctx, p.ID, repository.ItemTypeCode, p.GitLabID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	merged := newPointIDs
	if existing != nil {
		merged = unionIDs(existing.QdrantPointID, newPointIDs)
	}
	if err := ix.items.Upsert(ctx, &repository.IndexedItem{
		ProjectID:     p.ID,
		ItemType:      repository.ItemTypeCode,
		ItemID:        p.GitLabID,
		QdrantPointID: merged,
	}); err != nil {
		return err
	}
	if err := ix.projects.SetLastIndexedCommit(ctx, p.ID, newHead); err != nil {
		return err
	}

	slog.Info("synced code", "project_id", p.ID, "files", filesUpdated)
	return nil
}

// reindexAllCode re-walks the entire checkout, replacing the code manifest
// row's point set. Used when there is no usable diff baseline.
func (ix *Indexer) reindexAllCode(ctx context.Context, p *repository.Project, repoPath, head string) error {
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
	if err := ix.projects.SetLastIndexedCommit(ctx, p.ID, head); err != nil {
		return err
	}
	slog.Info("re-indexed code", "project_id", p.ID, "files", filesIndexed)
	return nil
}

// cleanupDeletedItems removes vectors and manifest rows for issues and MRs
// that no longer exist on GitLab
func (ix *Indexer) cleanupDeletedItems(ctx context.Context, p *repository.Project) error {
	issueIDs, err := ix.gitlab.ListIssueIDs(ctx, p.GitLabID)
	if err != nil {
		return err
	}
	currentIssues := make(map[int64]bool, len(issueIDs))
	for _, id := range issueIDs {
		currentIssues[id] = true
	}

	mrIDs, err := ix.gitlab.ListMergeRequestIDs(ctx, p.GitLabID)
	if err != nil {
		return err
	}
	currentMRs := make(map[int64]bool, len(mrIDs))
	for _, id := range mrIDs {
		currentMRs[id] = true
	}

	removed := 0
	for itemType, current := range map[string]map[int64]bool{
		repository.ItemTypeIssue:        currentIssues,
		repository.ItemTypeMergeRequest: currentMRs,
	} {
		items, err := ix.items.GetByType(ctx, p.ID, itemType)
		if err != nil {
			return err
		}
		for _, item := range items {
			if current[item.ItemID] {
				continue
			}
			if len(item.QdrantPointID) > 0 {
				if err := ix.store.DeleteByIDs(ctx, item.QdrantPointID); err != nil {
					return err
				}
			}
			if err := ix.items.Delete(ctx, item.ID); err != nil {
				return err
			}
			removed++
		}
	}

	if removed > 0 {
		slog.Info("cleaned up deleted items", "project_id", p.ID, "removed", removed)
	}
	return nil
}

// RecoverStale resets projects stuck in "syncing" past the cutoff and
// returns their ids so the caller can re-queue them.
func (ix *Indexer) RecoverStale(ctx context.Context) ([]int64, error) {
	ids, err := ix.projects.RecoverStaleSyncing(ctx, time.Now().Add(-StaleSyncCutoff))
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		slog.Warn("recovered stale syncing projects", "project_ids", ids)
	}
	return ids, nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
