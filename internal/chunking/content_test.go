package chunking

import (
	"strings"
	"testing"
	"time"

	"github.com/glrag/glrag/internal/gitlab"
)

func testIssue() *gitlab.Issue {
	return &gitlab.Issue{
		ID:          101,
		IID:         7,
		ProjectID:   42,
		Title:       "Login fails with SSO",
		Description: "Steps to reproduce:\n\n1. Open the login page\n\n2. Click SSO",
		State:       "opened",
		Author:      "alice",
		Labels:      []string{"bug", "auth"},
		Milestone:   "v2.0",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		WebURL:      "https://gitlab.example.com/group/proj/-/issues/7",
	}
}

func TestChunkIssue(t *testing.T) {
	c := newTestChunker(t, 512, 50)
	chunks := c.ChunkIssue(testIssue(), 42)

	if len(chunks) < 2 {
		t.Fatalf("expected metadata card plus description chunks, got %d", len(chunks))
	}

	card := chunks[0]
	if !strings.HasPrefix(card.Content, "Issue #7: Login fails with SSO") {
		t.Errorf("unexpected card header: %q", card.Content)
	}
	if !strings.Contains(card.Content, "Labels: bug, auth") {
		t.Errorf("card missing labels: %q", card.Content)
	}
	if !strings.Contains(card.Content, "Milestone: v2.0") {
		t.Errorf("card missing milestone: %q", card.Content)
	}
	if card.Metadata["created_at"] != "2025-03-01T12:00:00Z" {
		t.Errorf("expected created_at in payload, got %v", card.Metadata["created_at"])
	}
	if card.Metadata["subtype"] != "metadata" {
		t.Errorf("expected metadata subtype, got %v", card.Metadata["subtype"])
	}
	if card.Metadata["issue_iid"] != int64(7) {
		t.Errorf("expected issue_iid 7, got %v", card.Metadata["issue_iid"])
	}
	if card.Metadata["project_id"] != int64(42) {
		t.Errorf("expected project_id 42, got %v", card.Metadata["project_id"])
	}

	desc := chunks[1]
	if desc.Metadata["subtype"] != "description" {
		t.Errorf("expected description subtype, got %v", desc.Metadata["subtype"])
	}
}

func TestChunkIssue_ClosedDate(t *testing.T) {
	c := newTestChunker(t, 512, 50)
	issue := testIssue()
	issue.State = "closed"
	closedAt := time.Date(2025, 3, 5, 8, 30, 0, 0, time.UTC)
	issue.ClosedAt = &closedAt

	chunks := c.ChunkIssue(issue, 42)
	if !strings.Contains(chunks[0].Content, "Closed: 2025-03-05T08:30:00Z") {
		t.Errorf("card missing closed date: %q", chunks[0].Content)
	}
}

func TestChunkIssue_NoDescription(t *testing.T) {
	c := newTestChunker(t, 512, 50)
	issue := testIssue()
	issue.Description = ""

	chunks := c.ChunkIssue(issue, 42)
	if len(chunks) != 1 {
		t.Fatalf("expected only the metadata card, got %d chunks", len(chunks))
	}
}

func TestChunkMergeRequest(t *testing.T) {
	c := newTestChunker(t, 512, 50)
	mergedAt := time.Date(2025, 4, 3, 16, 0, 0, 0, time.UTC)
	mr := &gitlab.MergeRequest{
		ID:           202,
		IID:          13,
		Title:        "Add retry to sync",
		Description:  "Wraps the sync call with retries.",
		State:        "merged",
		Author:       "bob",
		SourceBranch: "feature/retry",
		TargetBranch: "main",
		CreatedAt:    time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
		MergedAt:     &mergedAt,
		WebURL:       "https://gitlab.example.com/group/proj/-/merge_requests/13",
	}

	chunks := c.ChunkMergeRequest(mr, 42)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	card := chunks[0]
	if !strings.HasPrefix(card.Content, "Merge Request !13: Add retry to sync") {
		t.Errorf("unexpected card header: %q", card.Content)
	}
	if !strings.Contains(card.Content, "Source: feature/retry -> main") {
		t.Errorf("card missing branches: %q", card.Content)
	}
	if card.Metadata["type"] != "merge_request" {
		t.Errorf("expected merge_request type, got %v", card.Metadata["type"])
	}
	if card.Metadata["source_branch"] != "feature/retry" {
		t.Errorf("expected source branch metadata, got %v", card.Metadata["source_branch"])
	}
	if !strings.Contains(card.Content, "Merged: 2025-04-03T16:00:00Z") {
		t.Errorf("card missing merged date: %q", card.Content)
	}
	if card.Metadata["created_at"] != "2025-04-02T09:00:00Z" {
		t.Errorf("expected created_at in payload, got %v", card.Metadata["created_at"])
	}
}

func TestChunkComment(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	note := &gitlab.Note{
		ID:        9,
		Body:      "Reproduced on staging.",
		Author:    "carol",
		CreatedAt: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	chunks := c.ChunkComment(note, "issue", 7, 42)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	meta := chunks[0].Metadata
	if meta["type"] != "comment" || meta["parent_type"] != "issue" {
		t.Errorf("unexpected metadata: %v", meta)
	}
	if meta["comment_id"] != int64(9) {
		t.Errorf("expected comment_id 9, got %v", meta["comment_id"])
	}
	if meta["created_at"] != "2025-03-02T10:00:00Z" {
		t.Errorf("expected created_at in payload, got %v", meta["created_at"])
	}
}

func TestChunkComment_SkipsSystemNotes(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	system := &gitlab.Note{ID: 10, Body: "changed the label", System: true}
	if chunks := c.ChunkComment(system, "issue", 7, 42); chunks != nil {
		t.Errorf("expected system note to be skipped, got %d chunks", len(chunks))
	}

	empty := &gitlab.Note{ID: 11, Body: "   "}
	if chunks := c.ChunkComment(empty, "issue", 7, 42); chunks != nil {
		t.Errorf("expected empty note to be skipped, got %d chunks", len(chunks))
	}
}

func TestChunkReadme(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	chunks := c.ChunkReadme("# Proj\n\nDoes things.", 42, "proj", "https://gitlab.example.com/group/proj")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Content, "# Project README: proj") {
		t.Errorf("missing preamble: %q", chunks[0].Content)
	}
	if chunks[0].Metadata["file_path"] != "README.md" {
		t.Errorf("expected README.md file_path, got %v", chunks[0].Metadata["file_path"])
	}

	if chunks := c.ChunkReadme("  ", 42, "proj", ""); chunks != nil {
		t.Error("expected empty readme to produce no chunks")
	}
}
