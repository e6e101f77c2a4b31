package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/glrag/glrag/internal/llm"
)

// fakeLLM returns a canned response or error.
type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func subQueriesByType(plan *SearchPlan, queryType string) []SubQuery {
	var out []SubQuery
	for _, sq := range plan.SubQueries {
		if sq.Type == queryType {
			out = append(out, sq)
		}
	}
	return out
}

func TestPlan_IssueIIDTriggersAPIFirst(t *testing.T) {
	p := New(&fakeLLM{response: `{"issue_iid": 123, "content_types": ["issue"], "needs_api_query": true}`})

	plan := p.Plan(context.Background(), "What is issue #123 about?")
	if plan.Strategy != StrategyAPIFirst {
		t.Fatalf("expected api_first strategy, got %s", plan.Strategy)
	}

	apiQueries := subQueriesByType(plan, QueryAPI)
	if len(apiQueries) != 1 {
		t.Fatalf("expected 1 api sub-query, got %d", len(apiQueries))
	}
	if apiQueries[0].Action != ActionGetIssue {
		t.Errorf("expected get_issue action, got %s", apiQueries[0].Action)
	}
	if iid, _ := apiQueries[0].Params["issue_iid"].(int64); iid != 123 {
		t.Errorf("expected issue_iid 123, got %v", apiQueries[0].Params["issue_iid"])
	}
	if len(subQueriesByType(plan, QueryVector)) != 1 {
		t.Error("expected a vector sub-query alongside the api query")
	}
}

func TestPlan_MRIIDTriggersAPIFirst(t *testing.T) {
	p := New(&fakeLLM{response: `{"mr_iid": 45, "content_types": ["merge_request"]}`})

	plan := p.Plan(context.Background(), "Summarize MR !45")
	if plan.Strategy != StrategyAPIFirst {
		t.Fatalf("expected api_first strategy, got %s", plan.Strategy)
	}
	apiQueries := subQueriesByType(plan, QueryAPI)
	if len(apiQueries) != 1 || apiQueries[0].Action != ActionGetMR {
		t.Fatalf("expected one get_mr sub-query, got %+v", apiQueries)
	}
}

func TestPlan_CodeQueryTriggersCodeDeep(t *testing.T) {
	p := New(&fakeLLM{response: `{"search_terms": "authentication", "content_types": ["code"]}`})

	plan := p.Plan(context.Background(), "Show me the code that handles authentication")
	if plan.Strategy != StrategyCodeDeep {
		t.Fatalf("expected code_deep strategy, got %s", plan.Strategy)
	}
	if len(subQueriesByType(plan, QueryCodeAnalysis)) != 1 {
		t.Error("expected a code_analysis sub-query")
	}

	vectors := subQueriesByType(plan, QueryVector)
	if len(vectors) != 1 {
		t.Fatalf("expected a vector sub-query, got %d", len(vectors))
	}
	if vectors[0].Query != "authentication" {
		t.Errorf("expected vector query to use search terms, got %q", vectors[0].Query)
	}
}

func TestPlan_CodeContentTypeWithoutKeywordStaysParallel(t *testing.T) {
	p := New(&fakeLLM{response: `{"content_types": ["code"]}`})

	plan := p.Plan(context.Background(), "what changed recently?")
	if plan.Strategy != StrategyParallel {
		t.Errorf("expected parallel strategy without code keywords, got %s", plan.Strategy)
	}
}

func TestPlan_LabelsAddAPISearches(t *testing.T) {
	p := New(&fakeLLM{response: `{"labels": ["bug"], "state": "opened", "content_types": ["issue", "merge_request"]}`})

	plan := p.Plan(context.Background(), "open bugs")
	if plan.Strategy != StrategyParallel {
		t.Fatalf("expected parallel strategy, got %s", plan.Strategy)
	}

	actions := map[string]bool{}
	for _, sq := range subQueriesByType(plan, QueryAPI) {
		actions[sq.Action] = true
	}
	if !actions[ActionSearchIssues] || !actions[ActionSearchMRs] {
		t.Errorf("expected search_issues and search_mrs sub-queries, got %v", actions)
	}
}

func TestPlan_MalformedJSONDegradesToVectorOnly(t *testing.T) {
	p := New(&fakeLLM{response: "I think you want issues about bugs"})

	plan := p.Plan(context.Background(), "find the bugs")
	if plan.Strategy != StrategyVectorOnly {
		t.Fatalf("expected vector_only fallback, got %s", plan.Strategy)
	}
	if len(plan.SubQueries) != 1 || plan.SubQueries[0].Type != QueryVector {
		t.Fatalf("expected a single unfiltered vector sub-query, got %+v", plan.SubQueries)
	}
	if len(plan.SubQueries[0].ContentTypes) != 0 {
		t.Error("fallback vector query must be unfiltered")
	}
}

func TestPlan_LLMErrorDegradesToVectorOnly(t *testing.T) {
	p := New(&fakeLLM{err: errors.New("model unavailable")})

	plan := p.Plan(context.Background(), "anything")
	if plan.Strategy != StrategyVectorOnly {
		t.Fatalf("expected vector_only fallback, got %s", plan.Strategy)
	}
	if plan.OriginalQuery != "anything" {
		t.Errorf("expected original query preserved, got %q", plan.OriginalQuery)
	}
}

func TestPlan_FencedJSONAccepted(t *testing.T) {
	p := New(&fakeLLM{response: "```json\n{\"labels\": [\"bug\"], \"content_types\": [\"issue\"]}\n```"})

	plan := p.Plan(context.Background(), "bugs")
	if plan.Strategy != StrategyParallel {
		t.Fatalf("expected parallel strategy from fenced JSON, got %s", plan.Strategy)
	}
	if len(subQueriesByType(plan, QueryAPI)) == 0 {
		t.Error("expected api sub-queries from parsed filters")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"padded", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.input); got != tt.want {
				t.Errorf("stripFences(%q) = %q, expected %q", tt.input, got, tt.want)
			}
		})
	}
}
