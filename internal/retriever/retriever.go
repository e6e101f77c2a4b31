// Package retriever executes search plans against the vector store and the
// GitLab API, merging both sources into one ranked result list.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glrag/glrag/internal/embedder"
	"github.com/glrag/glrag/internal/gitlab"
	"github.com/glrag/glrag/internal/planner"
	"github.com/glrag/glrag/internal/vectorstore"
)

// DefaultTopK is the result count when the caller does not specify one.
const DefaultTopK = 10

// apiProjectLimit caps how many projects an API sub-query fans out to.
const apiProjectLimit = 3

// apiResultLimit caps results per project for API search actions.
const apiResultLimit = 5

// Result is one retrieved record, from either source.
type Result struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// gitlabAPI is the slice of the GitLab client the retriever needs.
type gitlabAPI interface {
	GetIssue(ctx context.Context, projectID, iid int64) (*gitlab.Issue, error)
	GetMergeRequest(ctx context.Context, projectID, iid int64) (*gitlab.MergeRequest, error)
	SearchIssues(ctx context.Context, projectID int64, filters gitlab.SearchFilters, limit int) ([]*gitlab.Issue, error)
	SearchMergeRequests(ctx context.Context, projectID int64, filters gitlab.SearchFilters, limit int) ([]*gitlab.MergeRequest, error)
}

var _ gitlabAPI = (*gitlab.Client)(nil)

// Retriever runs hybrid retrieval over indexed vectors and live API data.
type Retriever struct {
	embedder embedder.Embedder
	store    vectorstore.VectorStore
	gitlab   gitlabAPI
	topK     int
}

// New creates a Retriever. topK <= 0 falls back to DefaultTopK.
func New(emb embedder.Embedder, store vectorstore.VectorStore, gl gitlabAPI, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: emb, store: store, gitlab: gl, topK: topK}
}

// Retrieve executes a plan scoped to the given projects and returns at most
// topK ranked, deduplicated results.
func (r *Retriever) Retrieve(ctx context.Context, plan *planner.SearchPlan, projectIDs []int64, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = r.topK
	}

	queries := make([]planner.SubQuery, len(plan.SubQueries))
	copy(queries, plan.SubQueries)
	sort.SliceStable(queries, func(i, j int) bool {
		return queries[i].Priority < queries[j].Priority
	})

	var results []Result
	switch plan.Strategy {
	case planner.StrategyAPIFirst:
		results = r.runSequential(ctx, queries, projectIDs, topK, planner.QueryAPI, planner.QueryVector, topK)
	case planner.StrategyVectorFirst:
		results = r.runSequential(ctx, queries, projectIDs, topK, planner.QueryVector, planner.QueryAPI, topK/2)
	case planner.StrategyAPIOnly:
		results = r.runOnly(ctx, queries, projectIDs, topK, planner.QueryAPI)
	case planner.StrategyVectorOnly:
		results = r.runOnly(ctx, queries, projectIDs, topK, planner.QueryVector)
	default: // parallel and code_deep both fan out everything retrievable
		results = r.runParallel(ctx, queries, projectIDs, topK)
	}

	results = applyContentPriority(results, plan.ContentPriority)
	results = rankAndDedupe(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// runParallel fans out every non-code-analysis sub-query concurrently. A
// failing sub-query logs and contributes nothing; it does not fail the plan.
func (r *Retriever) runParallel(ctx context.Context, queries []planner.SubQuery, projectIDs []int64, topK int) []Result {
	var (
		mu      sync.Mutex
		results []Result
	)
	g, ctx := errgroup.WithContext(ctx)

	for _, sq := range queries {
		if sq.Type == planner.QueryCodeAnalysis {
			continue
		}
		g.Go(func() error {
			got, err := r.runSubQuery(ctx, sq, projectIDs, topK)
			if err != nil {
				slog.Warn("sub-query failed", "type", sq.Type, "action", sq.Action, "error", err)
				return nil
			}
			mu.Lock()
			results = append(results, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runSequential executes sub-queries of the primary type first, then falls
// back to the secondary type only when the primary yielded fewer than
// threshold results.
func (r *Retriever) runSequential(ctx context.Context, queries []planner.SubQuery, projectIDs []int64, topK int, primary, secondary string, threshold int) []Result {
	results := r.runOnly(ctx, queries, projectIDs, topK, primary)
	if len(results) >= threshold {
		return results
	}
	remaining := topK - len(results)
	results = append(results, r.runOnly(ctx, queries, projectIDs, remaining, secondary)...)
	return results
}

// runOnly executes just the sub-queries of one type, in priority order.
func (r *Retriever) runOnly(ctx context.Context, queries []planner.SubQuery, projectIDs []int64, topK int, queryType string) []Result {
	var results []Result
	for _, sq := range queries {
		if sq.Type != queryType {
			continue
		}
		got, err := r.runSubQuery(ctx, sq, projectIDs, topK)
		if err != nil {
			slog.Warn("sub-query failed", "type", sq.Type, "action", sq.Action, "error", err)
			continue
		}
		results = append(results, got...)
	}
	return results
}

func (r *Retriever) runSubQuery(ctx context.Context, sq planner.SubQuery, projectIDs []int64, topK int) ([]Result, error) {
	switch sq.Type {
	case planner.QueryVector:
		return r.vectorSearch(ctx, sq, projectIDs, topK)
	case planner.QueryAPI:
		return r.apiQuery(ctx, sq, projectIDs), nil
	default:
		return nil, fmt.Errorf("unknown sub-query type %q", sq.Type)
	}
}

func (r *Retriever) vectorSearch(ctx context.Context, sq planner.SubQuery, projectIDs []int64, topK int) ([]Result, error) {
	vector, err := r.embedder.Embed(ctx, sq.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, vector, topK, vectorstore.Filter{
		ProjectIDs: projectIDs,
		Types:      sq.ContentTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:       hit.ID,
			Score:    float64(hit.Score),
			Content:  hit.Content,
			Metadata: hit.Metadata,
		})
	}
	return results, nil
}

// apiQuery runs one API action against at most the first three projects in
// scope. Per-project failures log and skip; fresh data is best-effort.
func (r *Retriever) apiQuery(ctx context.Context, sq planner.SubQuery, projectIDs []int64) []Result {
	if len(projectIDs) > apiProjectLimit {
		projectIDs = projectIDs[:apiProjectLimit]
	}

	var results []Result
	for _, projectID := range projectIDs {
		got, err := r.runAction(ctx, sq, projectID)
		if err != nil {
			slog.Warn("api query failed", "action", sq.Action, "project_id", projectID, "error", err)
			continue
		}
		results = append(results, got...)
	}
	return results
}

func (r *Retriever) runAction(ctx context.Context, sq planner.SubQuery, projectID int64) ([]Result, error) {
	switch sq.Action {
	case planner.ActionGetIssue:
		iid, ok := paramInt64(sq.Params, "issue_iid")
		if !ok {
			return nil, nil
		}
		issue, err := r.gitlab.GetIssue(ctx, projectID, iid)
		if err != nil {
			return nil, err
		}
		return []Result{issueResult(issue, projectID)}, nil

	case planner.ActionGetMR:
		iid, ok := paramInt64(sq.Params, "mr_iid")
		if !ok {
			return nil, nil
		}
		mr, err := r.gitlab.GetMergeRequest(ctx, projectID, iid)
		if err != nil {
			return nil, err
		}
		return []Result{mrResult(mr, projectID)}, nil

	case planner.ActionSearchIssues:
		issues, err := r.gitlab.SearchIssues(ctx, projectID, searchFilters(sq.Params), apiResultLimit)
		if err != nil {
			return nil, err
		}
		results := make([]Result, 0, len(issues))
		for _, issue := range issues {
			results = append(results, issueResult(issue, projectID))
		}
		return results, nil

	case planner.ActionSearchMRs:
		mrs, err := r.gitlab.SearchMergeRequests(ctx, projectID, searchFilters(sq.Params), apiResultLimit)
		if err != nil {
			return nil, err
		}
		results := make([]Result, 0, len(mrs))
		for _, mr := range mrs {
			results = append(results, mrResult(mr, projectID))
		}
		return results, nil

	default:
		return nil, fmt.Errorf("unknown api action %q", sq.Action)
	}
}

// issueResult formats a live API issue as a retrieval record. API results get
// score 1.0: they are exact matches, not similarity guesses.
func issueResult(issue *gitlab.Issue, projectID int64) Result {
	content := fmt.Sprintf("Issue #%d: %s\n\n%s", issue.IID, issue.Title, issue.Description)
	return Result{
		ID:      fmt.Sprintf("api_issue_%d_%d", projectID, issue.ID),
		Score:   1.0,
		Content: content,
		Metadata: map[string]any{
			"type":       "issue",
			"project_id": projectID,
			"issue_id":   issue.ID,
			"issue_iid":  issue.IID,
			"title":      issue.Title,
			"state":      issue.State,
			"labels":     issue.Labels,
			"web_url":    issue.WebURL,
			"source":     "api",
		},
	}
}

func mrResult(mr *gitlab.MergeRequest, projectID int64) Result {
	content := fmt.Sprintf("Merge Request !%d: %s\n\n%s", mr.IID, mr.Title, mr.Description)
	return Result{
		ID:      fmt.Sprintf("api_mr_%d_%d", projectID, mr.ID),
		Score:   1.0,
		Content: content,
		Metadata: map[string]any{
			"type":       "merge_request",
			"project_id": projectID,
			"mr_id":      mr.ID,
			"mr_iid":     mr.IID,
			"title":      mr.Title,
			"state":      mr.State,
			"labels":     mr.Labels,
			"web_url":    mr.WebURL,
			"source":     "api",
		},
	}
}

// applyContentPriority boosts scores by content type: earlier entries in the
// priority list get a bigger multiplier.
func applyContentPriority(results []Result, priority []string) []Result {
	if len(priority) == 0 {
		return results
	}

	boost := make(map[string]float64, len(priority))
	for idx, contentType := range priority {
		boost[contentType] = 1.0 + 0.1*float64(len(priority)-idx)
	}

	for i := range results {
		if b, ok := boost[metaString(results[i].Metadata, "type")]; ok {
			results[i].Score *= b
		}
	}
	return results
}

// rankAndDedupe sorts by score descending and keeps the best-scoring instance
// of each logical record.
func rankAndDedupe(results []Result) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	seen := make(map[string]struct{}, len(results))
	unique := results[:0:0]
	for _, result := range results {
		key := dedupeKey(result, len(unique))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, result)
	}
	return unique
}

// dedupeKey identifies the logical record behind a result so the same issue
// reached via vector and API counts once.
func dedupeKey(result Result, position int) string {
	meta := result.Metadata
	switch metaString(meta, "type") {
	case "issue":
		return fmt.Sprintf("issue_%v_%v", meta["project_id"], meta["issue_iid"])
	case "merge_request":
		return fmt.Sprintf("mr_%v_%v", meta["project_id"], meta["mr_iid"])
	case "code":
		return fmt.Sprintf("code_%v_%v_%v", meta["project_id"], meta["file_path"], meta["start_line"])
	case "comment":
		return fmt.Sprintf("comment_%v", meta["comment_id"])
	}
	if result.ID != "" {
		return result.ID
	}
	return fmt.Sprintf("pos_%d", position)
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// searchFilters maps a plan's API search params onto client search filters.
// Everything the planner extracted reaches GitLab, not just the search text.
func searchFilters(params map[string]any) gitlab.SearchFilters {
	f := gitlab.SearchFilters{
		Search: paramString(params, "search"),
		State:  paramString(params, "state"),
	}
	if labels, ok := params["labels"].([]string); ok {
		f.Labels = labels
	}
	if after := paramString(params, "updated_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			f.UpdatedAfter = &t
		} else if t, err := time.Parse("2006-01-02", after); err == nil {
			f.UpdatedAfter = &t
		}
	}
	return f
}

func paramInt64(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
