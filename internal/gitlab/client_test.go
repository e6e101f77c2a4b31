package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

type requestLog struct {
	paths   []string
	queries []url.Values
}

// newTestClient starts a stub GitLab API that records each request and
// returns an empty JSON list.
func newTestClient(t *testing.T) (*Client, *requestLog) {
	t.Helper()
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.paths = append(log.paths, r.URL.Path)
		log.queries = append(log.queries, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, "test-token")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, log
}

func TestListings_SetRequiredOrdering(t *testing.T) {
	tests := []struct {
		name        string
		call        func(ctx context.Context, c *Client) error
		wantPath    string
		wantOrderBy string
		wantSort    string
	}{
		{
			name:        "issues newest first",
			call:        func(ctx context.Context, c *Client) error { _, err := c.ListIssues(ctx, 1, nil); return err },
			wantPath:    "/api/v4/projects/1/issues",
			wantOrderBy: "updated_at",
			wantSort:    "desc",
		},
		{
			name:        "merge requests newest first",
			call:        func(ctx context.Context, c *Client) error { _, err := c.ListMergeRequests(ctx, 1, nil); return err },
			wantPath:    "/api/v4/projects/1/merge_requests",
			wantOrderBy: "updated_at",
			wantSort:    "desc",
		},
		{
			name:        "issue notes oldest first",
			call:        func(ctx context.Context, c *Client) error { _, err := c.ListIssueNotes(ctx, 1, 5); return err },
			wantPath:    "/api/v4/projects/1/issues/5/notes",
			wantOrderBy: "created_at",
			wantSort:    "asc",
		},
		{
			name:        "merge request notes oldest first",
			call:        func(ctx context.Context, c *Client) error { _, err := c.ListMergeRequestNotes(ctx, 1, 7); return err },
			wantPath:    "/api/v4/projects/1/merge_requests/7/notes",
			wantOrderBy: "created_at",
			wantSort:    "asc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, log := newTestClient(t)
			if err := tt.call(context.Background(), client); err != nil {
				t.Fatalf("call: %v", err)
			}
			if len(log.queries) != 1 {
				t.Fatalf("expected 1 request, got %d", len(log.queries))
			}
			if log.paths[0] != tt.wantPath {
				t.Errorf("path = %q, expected %q", log.paths[0], tt.wantPath)
			}
			q := log.queries[0]
			if q.Get("order_by") != tt.wantOrderBy || q.Get("sort") != tt.wantSort {
				t.Errorf("ordering = %s/%s, expected %s/%s",
					q.Get("order_by"), q.Get("sort"), tt.wantOrderBy, tt.wantSort)
			}
		})
	}
}

func TestSearchIssues_ForwardsFilters(t *testing.T) {
	client, log := newTestClient(t)

	after := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.SearchIssues(context.Background(), 1, SearchFilters{
		Search:       "login",
		State:        "opened",
		Labels:       []string{"bug", "auth"},
		UpdatedAfter: &after,
	}, 5)
	if err != nil {
		t.Fatalf("SearchIssues: %v", err)
	}

	q := log.queries[0]
	if q.Get("search") != "login" || q.Get("state") != "opened" {
		t.Errorf("search/state not sent: %v", q)
	}
	if q.Get("labels") != "bug,auth" {
		t.Errorf("labels = %q, expected %q", q.Get("labels"), "bug,auth")
	}
	if !strings.HasPrefix(q.Get("updated_after"), "2025-07-01T") {
		t.Errorf("updated_after = %q", q.Get("updated_after"))
	}
	if q.Get("per_page") != "5" {
		t.Errorf("per_page = %q, expected 5", q.Get("per_page"))
	}
}

func TestSearchMergeRequests_OmitsEmptyFilters(t *testing.T) {
	client, log := newTestClient(t)

	if _, err := client.SearchMergeRequests(context.Background(), 1, SearchFilters{Search: "retry"}, 5); err != nil {
		t.Fatalf("SearchMergeRequests: %v", err)
	}

	q := log.queries[0]
	if q.Get("search") != "retry" {
		t.Errorf("search = %q, expected %q", q.Get("search"), "retry")
	}
	for _, param := range []string{"state", "labels", "updated_after"} {
		if q.Has(param) {
			t.Errorf("expected %s omitted, got %q", param, q.Get(param))
		}
	}
}
