// Package gitlab wraps the GitLab REST API behind the small surface the
// indexing pipeline and retriever need.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when GitLab reports 404 for a resource
var ErrNotFound = errors.New("gitlab: not found")

const (
	perPage  = 100
	maxPages = 100 // hard cap so a runaway project cannot stall a worker

	retryMax     = 3
	retryWaitMin = 1 * time.Second
	retryWaitMax = 10 * time.Second
)

// Client is a rate-limited GitLab API client
type Client struct {
	gl *gl.Client
}

// NewClient creates a Client against baseURL authenticated with a personal
// access token. Requests are throttled to one per 100ms and retried up to
// three times on transient failures.
func NewClient(baseURL, token string) (*Client, error) {
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

	client, err := gl.NewClient(token,
		gl.WithBaseURL(baseURL+"/api/v4"),
		gl.WithCustomLimiter(limiter),
		gl.WithCustomRetryMax(retryMax),
		gl.WithCustomRetryWaitMinMax(retryWaitMin, retryWaitMax),
		gl.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &Client{gl: client}, nil
}

func wrapErr(resp *gl.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// ListProjects returns all projects the token's user is a member of
func (c *Client) ListProjects(ctx context.Context) ([]*Project, error) {
	opts := &gl.ListProjectsOptions{
		Membership:  gl.Ptr(true),
		OrderBy:     gl.Ptr("last_activity_at"),
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var projects []*Project
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Projects.ListProjects(opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", wrapErr(resp, err))
		}
		for _, p := range batch {
			projects = append(projects, convertProject(p))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return projects, nil
}

// GetProject returns one project by id
func (c *Client) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	p, resp, err := c.gl.Projects.GetProject(int(projectID), nil, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", projectID, wrapErr(resp, err))
	}
	return convertProject(p), nil
}

// ListIssues returns project issues, optionally only those updated after the
// given time. A nil updatedAfter returns everything.
func (c *Client) ListIssues(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]*Issue, error) {
	opts := &gl.ListProjectIssuesOptions{
		UpdatedAfter: updatedAfter,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
		ListOptions:  gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var issues []*Issue
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Issues.ListProjectIssues(int(projectID), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for project %d: %w", projectID, wrapErr(resp, err))
		}
		for _, is := range batch {
			issues = append(issues, convertIssue(is))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return issues, nil
}

// GetIssue returns one issue by its project-scoped iid
func (c *Client) GetIssue(ctx context.Context, projectID, iid int64) (*Issue, error) {
	is, resp, err := c.gl.Issues.GetIssue(int(projectID), int(iid), gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d!%d: %w", projectID, iid, wrapErr(resp, err))
	}
	return convertIssue(is), nil
}

// SearchFilters narrows an issue or merge request search. Zero-valued fields
// are not sent, leaving GitLab's defaults in effect.
type SearchFilters struct {
	Search       string
	State        string
	Labels       []string
	UpdatedAfter *time.Time
}

// optString returns nil for an empty string so the parameter is omitted
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return gl.Ptr(s)
}

// SearchIssues searches project issues with the given filters, newest first
func (c *Client) SearchIssues(ctx context.Context, projectID int64, filters SearchFilters, limit int) ([]*Issue, error) {
	opts := &gl.ListProjectIssuesOptions{
		Search:       optString(filters.Search),
		State:        optString(filters.State),
		UpdatedAfter: filters.UpdatedAfter,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
		ListOptions:  gl.ListOptions{PerPage: limit, Page: 1},
	}
	if len(filters.Labels) > 0 {
		labels := gl.LabelOptions(filters.Labels)
		opts.Labels = &labels
	}
	batch, resp, err := c.gl.Issues.ListProjectIssues(int(projectID), opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to search issues in project %d: %w", projectID, wrapErr(resp, err))
	}
	issues := make([]*Issue, 0, len(batch))
	for _, is := range batch {
		issues = append(issues, convertIssue(is))
	}
	return issues, nil
}

// ListIssueIDs returns the global ids of every issue in the project. Used
// for deletion detection, where fetching full issue bodies would be waste.
func (c *Client) ListIssueIDs(ctx context.Context, projectID int64) ([]int64, error) {
	opts := &gl.ListProjectIssuesOptions{
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var ids []int64
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Issues.ListProjectIssues(int(projectID), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list issue ids for project %d: %w", projectID, wrapErr(resp, err))
		}
		for _, is := range batch {
			ids = append(ids, int64(is.ID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ids, nil
}

// ListIssueNotes returns all comments on an issue, oldest first
func (c *Client) ListIssueNotes(ctx context.Context, projectID, iid int64) ([]*Note, error) {
	opts := &gl.ListIssueNotesOptions{
		OrderBy:     gl.Ptr("created_at"),
		Sort:        gl.Ptr("asc"),
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var notes []*Note
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Notes.ListIssueNotes(int(projectID), int(iid), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for issue %d!%d: %w", projectID, iid, wrapErr(resp, err))
		}
		for _, n := range batch {
			notes = append(notes, convertNote(n))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return notes, nil
}

// ListMergeRequests returns project merge requests, optionally only those
// updated after the given time
func (c *Client) ListMergeRequests(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]*MergeRequest, error) {
	opts := &gl.ListProjectMergeRequestsOptions{
		UpdatedAfter: updatedAfter,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
		ListOptions:  gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var mrs []*MergeRequest
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(int(projectID), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list merge requests for project %d: %w", projectID, wrapErr(resp, err))
		}
		for _, mr := range batch {
			mrs = append(mrs, convertMergeRequest(mr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return mrs, nil
}

// GetMergeRequest returns one merge request by its project-scoped iid
func (c *Client) GetMergeRequest(ctx context.Context, projectID, iid int64) (*MergeRequest, error) {
	mr, resp, err := c.gl.MergeRequests.GetMergeRequest(int(projectID), int(iid), nil, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request %d!%d: %w", projectID, iid, wrapErr(resp, err))
	}
	return convertMergeRequest(&mr.BasicMergeRequest), nil
}

// SearchMergeRequests searches project merge requests with the given
// filters, newest first
func (c *Client) SearchMergeRequests(ctx context.Context, projectID int64, filters SearchFilters, limit int) ([]*MergeRequest, error) {
	opts := &gl.ListProjectMergeRequestsOptions{
		Search:       optString(filters.Search),
		State:        optString(filters.State),
		UpdatedAfter: filters.UpdatedAfter,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
		ListOptions:  gl.ListOptions{PerPage: limit, Page: 1},
	}
	if len(filters.Labels) > 0 {
		labels := gl.LabelOptions(filters.Labels)
		opts.Labels = &labels
	}
	batch, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(int(projectID), opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to search merge requests in project %d: %w", projectID, wrapErr(resp, err))
	}
	mrs := make([]*MergeRequest, 0, len(batch))
	for _, mr := range batch {
		mrs = append(mrs, convertMergeRequest(mr))
	}
	return mrs, nil
}

// ListMergeRequestIDs returns the global ids of every merge request in the
// project, for deletion detection
func (c *Client) ListMergeRequestIDs(ctx context.Context, projectID int64) ([]int64, error) {
	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var ids []int64
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(int(projectID), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list merge request ids for project %d: %w", projectID, wrapErr(resp, err))
		}
		for _, mr := range batch {
			ids = append(ids, int64(mr.ID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ids, nil
}

// ListMergeRequestNotes returns all comments on a merge request, oldest first
func (c *Client) ListMergeRequestNotes(ctx context.Context, projectID, iid int64) ([]*Note, error) {
	opts := &gl.ListMergeRequestNotesOptions{
		OrderBy:     gl.Ptr("created_at"),
		Sort:        gl.Ptr("asc"),
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var notes []*Note
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Notes.ListMergeRequestNotes(int(projectID), int(iid), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for merge request %d!%d: %w", projectID, iid, wrapErr(resp, err))
		}
		for _, n := range batch {
			notes = append(notes, convertNote(n))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return notes, nil
}

// GetRawFile returns a file's content from the repository at the given ref.
// Returns ErrNotFound when the file does not exist on that ref.
func (c *Client) GetRawFile(ctx context.Context, projectID int64, path, ref string) ([]byte, error) {
	opts := &gl.GetRawFileOptions{Ref: gl.Ptr(ref)}
	data, resp, err := c.gl.RepositoryFiles.GetRawFile(int(projectID), path, opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get raw file %q: %w", path, wrapErr(resp, err))
	}
	return data, nil
}

// ListTree lists the repository tree at ref recursively. Only blob entries
// matter to callers; tree entries are included so they can prune.
func (c *Client) ListTree(ctx context.Context, projectID int64, ref string) ([]*TreeEntry, error) {
	opts := &gl.ListTreeOptions{
		Ref:         gl.Ptr(ref),
		Recursive:   gl.Ptr(true),
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
	}

	var entries []*TreeEntry
	for page := 0; page < maxPages; page++ {
		batch, resp, err := c.gl.Repositories.ListTree(int(projectID), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list tree for project %d: %w", projectID, wrapErr(resp, err))
		}
		for _, node := range batch {
			entries = append(entries, &TreeEntry{
				ID:   node.ID,
				Name: node.Name,
				Type: node.Type,
				Path: node.Path,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return entries, nil
}

func convertProject(p *gl.Project) *Project {
	return &Project{
		ID:                int64(p.ID),
		Name:              p.Name,
		PathWithNamespace: p.PathWithNamespace,
		Description:       p.Description,
		DefaultBranch:     p.DefaultBranch,
		HTTPURLToRepo:     p.HTTPURLToRepo,
		WebURL:            p.WebURL,
	}
}

func convertIssue(is *gl.Issue) *Issue {
	out := &Issue{
		ID:          int64(is.ID),
		IID:         int64(is.IID),
		ProjectID:   int64(is.ProjectID),
		Title:       is.Title,
		Description: is.Description,
		State:       is.State,
		Labels:      is.Labels,
		WebURL:      is.WebURL,
	}
	if is.Author != nil {
		out.Author = is.Author.Username
	}
	if is.Milestone != nil {
		out.Milestone = is.Milestone.Title
	}
	if is.CreatedAt != nil {
		out.CreatedAt = *is.CreatedAt
	}
	if is.UpdatedAt != nil {
		out.UpdatedAt = *is.UpdatedAt
	}
	out.ClosedAt = is.ClosedAt
	return out
}

func convertMergeRequest(mr *gl.BasicMergeRequest) *MergeRequest {
	out := &MergeRequest{
		ID:           int64(mr.ID),
		IID:          int64(mr.IID),
		ProjectID:    int64(mr.ProjectID),
		Title:        mr.Title,
		Description:  mr.Description,
		State:        mr.State,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		Labels:       mr.Labels,
		WebURL:       mr.WebURL,
	}
	if mr.Author != nil {
		out.Author = mr.Author.Username
	}
	if mr.CreatedAt != nil {
		out.CreatedAt = *mr.CreatedAt
	}
	if mr.UpdatedAt != nil {
		out.UpdatedAt = *mr.UpdatedAt
	}
	out.MergedAt = mr.MergedAt
	return out
}

func convertNote(n *gl.Note) *Note {
	out := &Note{
		ID:     int64(n.ID),
		Body:   n.Body,
		System: n.System,
		Author: n.Author.Username,
	}
	if n.CreatedAt != nil {
		out.CreatedAt = *n.CreatedAt
	}
	if n.UpdatedAt != nil {
		out.UpdatedAt = *n.UpdatedAt
	}
	return out
}
