package gitlab

import "time"

// Project is a GitLab project as seen by the indexer
type Project struct {
	ID                int64
	Name              string
	PathWithNamespace string
	Description       string
	DefaultBranch     string
	HTTPURLToRepo     string
	WebURL            string
}

// Issue is a GitLab issue with the fields the pipeline cares about
type Issue struct {
	ID          int64
	IID         int64
	ProjectID   int64
	Title       string
	Description string
	State       string
	Labels      []string
	Author      string
	Milestone   string
	WebURL      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// MergeRequest is a GitLab merge request
type MergeRequest struct {
	ID           int64
	IID          int64
	ProjectID    int64
	Title        string
	Description  string
	State        string
	SourceBranch string
	TargetBranch string
	Labels       []string
	Author       string
	WebURL       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
}

// TreeEntry is one entry in a repository tree listing. Type is "blob" for
// files and "tree" for directories.
type TreeEntry struct {
	ID   string
	Name string
	Type string
	Path string
}

// Note is a comment on an issue or merge request. System notes are
// GitLab-generated activity entries (label changes, assignments).
type Note struct {
	ID        int64
	Body      string
	Author    string
	System    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
