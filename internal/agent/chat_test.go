package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/glrag/glrag/internal/llm"
	"github.com/glrag/glrag/internal/planner"
	"github.com/glrag/glrag/internal/retriever"
)

type stubLLM struct {
	response string
	err      error
	messages []llm.Message
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	s.messages = messages
	return s.response, s.err
}

func (s *stubLLM) GenerateStream(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	s.messages = messages
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Token: s.response}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type stubPlanner struct{}

func (stubPlanner) Plan(ctx context.Context, query string) *planner.SearchPlan {
	return &planner.SearchPlan{
		OriginalQuery: query,
		Strategy:      planner.StrategyVectorOnly,
		SubQueries:    []planner.SubQuery{{Type: planner.QueryVector, Query: query}},
	}
}

type stubRetriever struct {
	results []retriever.Result
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, plan *planner.SearchPlan, projectIDs []int64, topK int) ([]retriever.Result, error) {
	return s.results, s.err
}

type stubAnalyzer struct {
	answer   string
	err      error
	analyzed []int64
}

func (s *stubAnalyzer) Analyze(ctx context.Context, query string, projectID int64) (*Analysis, error) {
	s.analyzed = append(s.analyzed, projectID)
	if s.err != nil {
		return nil, s.err
	}
	return &Analysis{Answer: s.answer}, nil
}

func newTestChatAgent(model *stubLLM, r *stubRetriever, code *stubAnalyzer) *ChatAgent {
	return NewChatAgent(model, stubPlanner{}, r, code)
}

func TestChat_IncludesRetrievedContext(t *testing.T) {
	model := &stubLLM{response: "The login bug is tracked in issue #5."}
	r := &stubRetriever{results: []retriever.Result{
		{Content: "Issue #5: Login fails", Metadata: map[string]any{"type": "issue", "issue_iid": int64(5), "title": "Login fails"}},
	}}
	agent := newTestChatAgent(model, r, &stubAnalyzer{})

	answer, err := agent.Chat(context.Background(), "why does login fail?", nil, []int64{1})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "The login bug is tracked in issue #5." {
		t.Errorf("unexpected answer: %q", answer)
	}

	last := model.messages[len(model.messages)-1]
	if !strings.Contains(last.Content, "[Issue #5] Login fails") {
		t.Errorf("expected issue context in prompt, got %q", last.Content)
	}
	if !strings.Contains(last.Content, "User Question: why does login fail?") {
		t.Errorf("expected question in prompt, got %q", last.Content)
	}
}

func TestChat_EmptyAnswerFallback(t *testing.T) {
	agent := newTestChatAgent(&stubLLM{response: ""}, &stubRetriever{}, &stubAnalyzer{})

	answer, err := agent.Chat(context.Background(), "hello there", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "I couldn't generate a response." {
		t.Errorf("expected fallback answer, got %q", answer)
	}
}

func TestChat_RetrievalErrorPropagates(t *testing.T) {
	agent := newTestChatAgent(&stubLLM{}, &stubRetriever{err: errors.New("store down")}, &stubAnalyzer{})

	if _, err := agent.Chat(context.Background(), "hi", nil, nil); err == nil {
		t.Fatal("expected error when retrieval fails")
	}
}

func TestChat_CodeQueryRunsAnalysisOnFirstProject(t *testing.T) {
	model := &stubLLM{response: "answer"}
	code := &stubAnalyzer{answer: "auth lives in auth.py"}
	agent := newTestChatAgent(model, &stubRetriever{}, code)

	if _, err := agent.Chat(context.Background(), "show me the authentication code", nil, []int64{7, 8, 9}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(code.analyzed) != 1 || code.analyzed[0] != 7 {
		t.Errorf("expected analysis on first project only, got %v", code.analyzed)
	}

	last := model.messages[len(model.messages)-1]
	if !strings.Contains(last.Content, "[Code Analysis]\nauth lives in auth.py") {
		t.Errorf("expected analysis in context, got %q", last.Content)
	}
}

func TestChat_AnalysisFailureIsNonFatal(t *testing.T) {
	model := &stubLLM{response: "answer"}
	code := &stubAnalyzer{err: errors.New("rg missing")}
	agent := newTestChatAgent(model, &stubRetriever{}, code)

	answer, err := agent.Chat(context.Background(), "explain this function", nil, []int64{7})
	if err != nil {
		t.Fatalf("expected analysis failure tolerated, got %v", err)
	}
	if answer != "answer" {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestChat_HistoryTrimmedToWindow(t *testing.T) {
	model := &stubLLM{response: "answer"}
	agent := newTestChatAgent(model, &stubRetriever{}, &stubAnalyzer{})

	var history []llm.Message
	for i := 0; i < historyWindow+6; i++ {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: "old"})
	}

	if _, err := agent.Chat(context.Background(), "hello", history, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// System prompt + trimmed history + question.
	if want := 1 + historyWindow + 1; len(model.messages) != want {
		t.Errorf("expected %d messages, got %d", want, len(model.messages))
	}
}

func TestChatStream(t *testing.T) {
	model := &stubLLM{response: "streamed"}
	agent := newTestChatAgent(model, &stubRetriever{}, &stubAnalyzer{})

	ch, err := agent.ChatStream(context.Background(), "hello", nil, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var full string
	for chunk := range ch {
		full += chunk.Token
	}
	if full != "streamed" {
		t.Errorf("unexpected stream content: %q", full)
	}
}

func TestGenerateTitle(t *testing.T) {
	agent := newTestChatAgent(&stubLLM{response: "  Login Bug Investigation  "}, &stubRetriever{}, &stubAnalyzer{})

	title, err := agent.GenerateTitle(context.Background(), "why does login fail?")
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if title != "Login Bug Investigation" {
		t.Errorf("expected trimmed title, got %q", title)
	}
}

func TestGenerateTitle_Truncation(t *testing.T) {
	agent := newTestChatAgent(&stubLLM{response: strings.Repeat("a", 80)}, &stubRetriever{}, &stubAnalyzer{})

	title, err := agent.GenerateTitle(context.Background(), "q")
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if len(title) != 50 {
		t.Errorf("expected 50-char title, got %d chars", len(title))
	}
}

func TestGenerateTitle_EmptyResponse(t *testing.T) {
	agent := newTestChatAgent(&stubLLM{response: "  "}, &stubRetriever{}, &stubAnalyzer{})

	title, err := agent.GenerateTitle(context.Background(), "q")
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if title != "New Conversation" {
		t.Errorf("expected default title, got %q", title)
	}
}

func TestFormatContext(t *testing.T) {
	results := []retriever.Result{
		{Content: "issue body", Metadata: map[string]any{"type": "issue", "issue_iid": int64(5), "title": "Login fails", "web_url": "https://gl/i/5"}},
		{Content: "mr body", Metadata: map[string]any{"type": "merge_request", "mr_iid": int64(9), "title": "Fix login"}},
		{Content: "func auth()", Metadata: map[string]any{"type": "code", "file_path": "auth.go", "start_line": 10, "end_line": 30}},
		{Content: "lgtm", Metadata: map[string]any{"type": "comment", "author": "alice", "parent_type": "issue", "parent_iid": int64(5)}},
		{Content: "readme text", Metadata: map[string]any{"type": "readme"}},
	}

	got := formatContext(results)
	for _, want := range []string{
		"[Issue #5] Login fails",
		"URL: https://gl/i/5",
		"[MR !9] Fix login",
		"[Code] auth.go (lines 10-30)",
		"[Comment by alice] on issue #5",
		"[Result 5]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in context, got:\n%s", want, got)
		}
	}
}

func TestFormatContext_Empty(t *testing.T) {
	if got := formatContext(nil); got != "No relevant context found." {
		t.Errorf("expected empty-context message, got %q", got)
	}
}

func TestIsCodeQuery(t *testing.T) {
	tests := []struct {
		query    string
		expected bool
	}{
		{"show me the implementation of login", true},
		{"which FUNCTION handles retries?", true},
		{"what is the api endpoint for search?", true},
		{"when was the last release?", false},
		{"who reported the login bug?", false},
	}
	for _, tt := range tests {
		if got := isCodeQuery(tt.query); got != tt.expected {
			t.Errorf("isCodeQuery(%q) = %v, expected %v", tt.query, got, tt.expected)
		}
	}
}
