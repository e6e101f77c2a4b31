package chunking

import (
	"fmt"
	"strings"
	"time"

	"github.com/glrag/glrag/internal/gitlab"
)

// ChunkIssue produces one metadata card chunk followed by semantic chunks of
// the issue description
func (c *Chunker) ChunkIssue(issue *gitlab.Issue, projectID int64) []Chunk {
	var card strings.Builder
	fmt.Fprintf(&card, "Issue #%d: %s\n\n", issue.IID, issue.Title)
	fmt.Fprintf(&card, "State: %s\n", issue.State)
	fmt.Fprintf(&card, "Author: %s\n", issue.Author)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&card, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	if issue.Milestone != "" {
		fmt.Fprintf(&card, "Milestone: %s\n", issue.Milestone)
	}
	fmt.Fprintf(&card, "Created: %s\n", issue.CreatedAt.Format(time.RFC3339))
	if issue.ClosedAt != nil {
		fmt.Fprintf(&card, "Closed: %s\n", issue.ClosedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&card, "URL: %s", issue.WebURL)

	content := card.String()
	chunks := []Chunk{{
		Content: content,
		Metadata: map[string]any{
			"type":       "issue",
			"subtype":    "metadata",
			"project_id": projectID,
			"issue_id":   issue.ID,
			"issue_iid":  issue.IID,
			"title":      issue.Title,
			"state":      issue.State,
			"labels":     issue.Labels,
			"created_at": issue.CreatedAt.Format(time.RFC3339),
			"web_url":    issue.WebURL,
		},
		TokenCount: c.CountTokens(content),
	}}

	if issue.Description != "" {
		chunks = append(chunks, c.SemanticChunk(issue.Description, map[string]any{
			"type":       "issue",
			"subtype":    "description",
			"project_id": projectID,
			"issue_id":   issue.ID,
			"issue_iid":  issue.IID,
			"title":      issue.Title,
			"web_url":    issue.WebURL,
		})...)
	}
	return chunks
}

// ChunkMergeRequest produces one metadata card chunk followed by semantic
// chunks of the MR description
func (c *Chunker) ChunkMergeRequest(mr *gitlab.MergeRequest, projectID int64) []Chunk {
	var card strings.Builder
	fmt.Fprintf(&card, "Merge Request !%d: %s\n\n", mr.IID, mr.Title)
	fmt.Fprintf(&card, "State: %s\n", mr.State)
	fmt.Fprintf(&card, "Author: %s\n", mr.Author)
	fmt.Fprintf(&card, "Source: %s -> %s\n", mr.SourceBranch, mr.TargetBranch)
	if len(mr.Labels) > 0 {
		fmt.Fprintf(&card, "Labels: %s\n", strings.Join(mr.Labels, ", "))
	}
	fmt.Fprintf(&card, "Created: %s\n", mr.CreatedAt.Format(time.RFC3339))
	if mr.MergedAt != nil {
		fmt.Fprintf(&card, "Merged: %s\n", mr.MergedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&card, "URL: %s", mr.WebURL)

	content := card.String()
	chunks := []Chunk{{
		Content: content,
		Metadata: map[string]any{
			"type":          "merge_request",
			"subtype":       "metadata",
			"project_id":    projectID,
			"mr_id":         mr.ID,
			"mr_iid":        mr.IID,
			"title":         mr.Title,
			"state":         mr.State,
			"labels":        mr.Labels,
			"source_branch": mr.SourceBranch,
			"target_branch": mr.TargetBranch,
			"created_at":    mr.CreatedAt.Format(time.RFC3339),
			"web_url":       mr.WebURL,
		},
		TokenCount: c.CountTokens(content),
	}}

	if mr.Description != "" {
		chunks = append(chunks, c.SemanticChunk(mr.Description, map[string]any{
			"type":       "merge_request",
			"subtype":    "description",
			"project_id": projectID,
			"mr_id":      mr.ID,
			"mr_iid":     mr.IID,
			"title":      mr.Title,
			"web_url":    mr.WebURL,
		})...)
	}
	return chunks
}

// ChunkComment chunks one comment with its parent context. System notes
// (label changes, assignments) are skipped.
func (c *Chunker) ChunkComment(note *gitlab.Note, parentType string, parentIID, projectID int64) []Chunk {
	if note.System || strings.TrimSpace(note.Body) == "" {
		return nil
	}
	return c.SemanticChunk(note.Body, map[string]any{
		"type":        "comment",
		"parent_type": parentType,
		"parent_iid":  parentIID,
		"project_id":  projectID,
		"comment_id":  note.ID,
		"author":      note.Author,
		"created_at":  note.CreatedAt.Format(time.RFC3339),
	})
}

// ChunkReadme chunks README content, prefixed with a project preamble so
// every chunk embeds the project identity
func (c *Chunker) ChunkReadme(content string, projectID int64, projectName, webURL string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	preamble := fmt.Sprintf("# Project README: %s\n\nURL: %s\n\n---\n\n", projectName, webURL)
	return c.SemanticChunk(preamble+content, map[string]any{
		"type":         "readme",
		"project_id":   projectID,
		"project_name": projectName,
		"web_url":      webURL,
		"file_path":    "README.md",
	})
}
