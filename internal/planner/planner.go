// Package planner turns a natural-language query into a structured
// SearchPlan. An LLM extracts filters (labels, state, iids, date ranges,
// content types) under a JSON-only contract; the planner maps those filters
// onto sub-queries and picks an execution strategy for the retriever.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glrag/glrag/internal/llm"
)

// Strategy selects how the retriever executes a plan's sub-queries.
type Strategy string

const (
	StrategyParallel    Strategy = "parallel"
	StrategyAPIFirst    Strategy = "api_first"
	StrategyVectorFirst Strategy = "vector_first"
	StrategyAPIOnly     Strategy = "api_only"
	StrategyVectorOnly  Strategy = "vector_only"
	StrategyCodeDeep    Strategy = "code_deep"
)

// Sub-query types.
const (
	QueryVector       = "vector"
	QueryAPI          = "api"
	QueryCodeAnalysis = "code_analysis"
)

// API sub-query actions.
const (
	ActionGetIssue     = "get_issue"
	ActionGetMR        = "get_mr"
	ActionSearchIssues = "search_issues"
	ActionSearchMRs    = "search_mrs"
)

// SubQuery is a single unit of retrieval work within a plan.
type SubQuery struct {
	Type         string
	Query        string
	Action       string
	Params       map[string]any
	ContentTypes []string
	Priority     int
}

// SearchPlan describes how to answer a query: which sub-queries to run,
// in what strategy, and how to weight result content types.
type SearchPlan struct {
	OriginalQuery   string
	Strategy        Strategy
	SubQueries      []SubQuery
	ContentPriority []string
}

// codeKeywords triggers the deep code-analysis strategy when any of them
// appears in the query.
var codeKeywords = []string{
	"code", "function", "class", "method", "implementation", "file",
	"module", "import", "api", "endpoint", "handler", "component",
	"hook", "variable", "constant",
}

const extractionPrompt = `You are a query analyzer for a GitLab search system. Extract structured filters from the user's natural language query.

Return a JSON object with these optional fields:
- "labels": list of label names mentioned (e.g., ["bug", "feature"])
- "state": issue/MR state ("opened", "closed", "merged", "all")
- "search_terms": key search terms for text matching
- "date_filter": object with "after" and/or "before" dates (ISO format)
- "content_types": list of content types to search ("issue", "merge_request", "code", "comment")
- "issue_iid": specific issue number if mentioned
- "mr_iid": specific MR number if mentioned
- "needs_api_query": boolean - true if query requires fresh data from GitLab API

Examples:
Query: "Issues labeled 'bug' created last month"
Output: {"labels": ["bug"], "date_filter": {"after": "2024-01-01"}, "content_types": ["issue"]}

Query: "What is issue #123 about?"
Output: {"issue_iid": 123, "content_types": ["issue"], "needs_api_query": true}

Query: "Code that handles authentication"
Output: {"search_terms": "authentication", "content_types": ["code"]}

Return only the JSON object, nothing else.`

// queryFilters is the shape the extraction LLM is asked to produce.
type queryFilters struct {
	Labels      []string `json:"labels"`
	State       string   `json:"state"`
	SearchTerms string   `json:"search_terms"`
	DateFilter  *struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"date_filter"`
	ContentTypes []string `json:"content_types"`
	IssueIID     int64    `json:"issue_iid"`
	MRIID        int64    `json:"mr_iid"`
	NeedsAPI     bool     `json:"needs_api_query"`
}

// Planner builds SearchPlans from user queries.
type Planner struct {
	llm llm.LLM
}

// New creates a Planner backed by the given LLM.
func New(client llm.LLM) *Planner {
	return &Planner{llm: client}
}

// Plan analyzes a query and returns an executable SearchPlan. Malformed or
// missing LLM output degrades to an unfiltered vector-only plan rather than
// failing the request.
func (p *Planner) Plan(ctx context.Context, query string) *SearchPlan {
	filters, err := p.extractFilters(ctx, query)
	if err != nil {
		slog.Warn("filter extraction failed, falling back to vector search", "error", err)
		return fallbackPlan(query)
	}
	return buildPlan(query, filters)
}

// extractFilters asks the LLM for structured filters in JSON mode.
func (p *Planner) extractFilters(ctx context.Context, query string) (queryFilters, error) {
	var filters queryFilters

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Query: %q", query)},
	}
	resp, err := p.llm.Generate(ctx, messages, llm.GenerateOptions{
		Temperature: 0,
		MaxTokens:   500,
		JSONMode:    true,
	})
	if err != nil {
		return filters, fmt.Errorf("filter extraction request failed: %w", err)
	}

	if err := json.Unmarshal([]byte(stripFences(resp)), &filters); err != nil {
		return filters, fmt.Errorf("unparseable filter JSON: %w", err)
	}
	return filters, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite the JSON-only instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// buildPlan maps extracted filters onto sub-queries and a strategy.
func buildPlan(query string, f queryFilters) *SearchPlan {
	plan := &SearchPlan{
		OriginalQuery:   query,
		Strategy:        StrategyParallel,
		ContentPriority: f.ContentTypes,
	}

	// A specific issue or MR number means the user wants that exact item:
	// hit the API first and backfill from vectors only if needed.
	if f.IssueIID > 0 {
		plan.Strategy = StrategyAPIFirst
		plan.SubQueries = append(plan.SubQueries, SubQuery{
			Type:     QueryAPI,
			Query:    query,
			Action:   ActionGetIssue,
			Params:   map[string]any{"issue_iid": f.IssueIID},
			Priority: 1,
		})
	}
	if f.MRIID > 0 {
		plan.Strategy = StrategyAPIFirst
		plan.SubQueries = append(plan.SubQueries, SubQuery{
			Type:     QueryAPI,
			Query:    query,
			Action:   ActionGetMR,
			Params:   map[string]any{"mr_iid": f.MRIID},
			Priority: 1,
		})
	}

	if plan.Strategy != StrategyAPIFirst && wantsCode(query, f.ContentTypes) {
		plan.Strategy = StrategyCodeDeep
		plan.SubQueries = append(plan.SubQueries, SubQuery{
			Type:     QueryCodeAnalysis,
			Query:    query,
			Priority: 1,
		})
	}

	// Vector search always participates.
	plan.SubQueries = append(plan.SubQueries, SubQuery{
		Type:         QueryVector,
		Query:        vectorQuery(query, f.SearchTerms),
		ContentTypes: f.ContentTypes,
		Priority:     2,
	})

	// Structured filters that vectors cannot express become API searches.
	if plan.Strategy == StrategyParallel && hasAPIFilters(f) {
		params := apiParams(f)
		if wantsType(f.ContentTypes, "issue") {
			plan.SubQueries = append(plan.SubQueries, SubQuery{
				Type: QueryAPI, Query: query, Action: ActionSearchIssues,
				Params: params, Priority: 3,
			})
		}
		if wantsType(f.ContentTypes, "merge_request") {
			plan.SubQueries = append(plan.SubQueries, SubQuery{
				Type: QueryAPI, Query: query, Action: ActionSearchMRs,
				Params: params, Priority: 3,
			})
		}
	}

	return plan
}

// fallbackPlan is the degraded plan used when filter extraction fails:
// a single unfiltered vector search.
func fallbackPlan(query string) *SearchPlan {
	return &SearchPlan{
		OriginalQuery: query,
		Strategy:      StrategyVectorOnly,
		SubQueries: []SubQuery{
			{Type: QueryVector, Query: query, Priority: 1},
		},
	}
}

// wantsCode reports whether the query should trigger deep code analysis.
func wantsCode(query string, contentTypes []string) bool {
	if !wantsType(contentTypes, "code") {
		return false
	}
	lower := strings.ToLower(query)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// wantsType reports whether t is requested. An empty content_types list
// means "everything" for vector search but not for API searches, so issue
// and MR searches require an explicit mention.
func wantsType(contentTypes []string, t string) bool {
	for _, ct := range contentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

func vectorQuery(query, searchTerms string) string {
	if searchTerms != "" {
		return searchTerms
	}
	return query
}

func hasAPIFilters(f queryFilters) bool {
	return len(f.Labels) > 0 || f.State != "" || f.SearchTerms != "" ||
		f.DateFilter != nil || f.NeedsAPI
}

func apiParams(f queryFilters) map[string]any {
	params := map[string]any{}
	if len(f.Labels) > 0 {
		params["labels"] = f.Labels
	}
	if f.State != "" {
		params["state"] = f.State
	}
	if f.SearchTerms != "" {
		params["search"] = f.SearchTerms
	}
	if f.DateFilter != nil && f.DateFilter.After != "" {
		params["updated_after"] = f.DateFilter.After
	}
	return params
}
