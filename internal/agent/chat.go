package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glrag/glrag/internal/llm"
	"github.com/glrag/glrag/internal/planner"
	"github.com/glrag/glrag/internal/retriever"
)

const chatSystemPrompt = `You are a helpful assistant that answers questions about GitLab projects. You have access to indexed data from issues, merge requests, code, and comments.

When answering:
1. Be specific and cite your sources (issue numbers, MR numbers, file paths)
2. If information comes from multiple sources, synthesize it clearly
3. If you're not sure about something, say so
4. For code questions, include relevant code snippets when helpful
5. Provide links when available (web_url fields)

IMPORTANT: Always format your responses using Markdown syntax (not HTML). Use:
- **bold** for emphasis
- ` + "`backticks`" + ` for inline code
- ` + "```language" + ` for code blocks
- [text](url) for links
- - or * for bullet lists
- 1. 2. 3. for numbered lists

Context will be provided from the search results. Use this context to answer the user's question accurately.`

const titlePrompt = "Generate a short, descriptive title (max 50 chars) for a conversation that starts with the following message. Return only the title, no quotes or punctuation."

// historyWindow is how many trailing conversation messages are replayed to
// the model.
const historyWindow = 10

const maxAnswerTokens = 2000

// codeQueryKeywords flags queries that warrant repository-level analysis in
// addition to vector retrieval.
var codeQueryKeywords = []string{
	"code", "function", "class", "method", "implementation", "file",
	"module", "import", "api", "endpoint", "handler", "component",
	"hook", "variable", "constant",
}

type queryPlanner interface {
	Plan(ctx context.Context, query string) *planner.SearchPlan
}

type contextRetriever interface {
	Retrieve(ctx context.Context, plan *planner.SearchPlan, projectIDs []int64, topK int) ([]retriever.Result, error)
}

type codeAnalyzer interface {
	Analyze(ctx context.Context, query string, projectID int64) (*Analysis, error)
}

// ChatAgent answers user questions with retrieval-augmented generation.
type ChatAgent struct {
	llm       llm.LLM
	planner   queryPlanner
	retriever contextRetriever
	code      codeAnalyzer
}

// NewChatAgent wires the planning, retrieval, and analysis stages behind a
// single chat surface.
func NewChatAgent(model llm.LLM, p queryPlanner, r contextRetriever, code codeAnalyzer) *ChatAgent {
	return &ChatAgent{llm: model, planner: p, retriever: r, code: code}
}

// Chat answers a query and returns the full response.
func (a *ChatAgent) Chat(ctx context.Context, query string, history []llm.Message, projectIDs []int64) (string, error) {
	messages, err := a.buildMessages(ctx, query, history, projectIDs)
	if err != nil {
		return "", err
	}
	answer, err := a.llm.Generate(ctx, messages, llm.GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   maxAnswerTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %w", err)
	}
	if answer == "" {
		answer = "I couldn't generate a response."
	}
	return answer, nil
}

// ChatStream answers a query, streaming response tokens as they arrive.
func (a *ChatAgent) ChatStream(ctx context.Context, query string, history []llm.Message, projectIDs []int64) (<-chan llm.StreamChunk, error) {
	messages, err := a.buildMessages(ctx, query, history, projectIDs)
	if err != nil {
		return nil, err
	}
	return a.llm.GenerateStream(ctx, messages, llm.GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   maxAnswerTokens,
	})
}

// GenerateTitle produces a short conversation title from its first message.
func (a *ChatAgent) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	title, err := a.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: titlePrompt},
		{Role: llm.RoleUser, Content: firstMessage},
	}, llm.GenerateOptions{Temperature: 0.7, MaxTokens: 50})
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Conversation"
	}
	if len(title) > 50 {
		title = title[:50]
	}
	return title, nil
}

// buildMessages runs retrieval (and code analysis when warranted) and
// assembles the model conversation: system prompt, recent history, then the
// context-wrapped question.
func (a *ChatAgent) buildMessages(ctx context.Context, query string, history []llm.Message, projectIDs []int64) ([]llm.Message, error) {
	plan := a.planner.Plan(ctx, query)

	results, err := a.retriever.Retrieve(ctx, plan, projectIDs, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	contextBlock := formatContext(results)

	// Deep code analysis runs against the first project only; one repo walk
	// per question is expensive enough.
	if isCodeQuery(query) && len(projectIDs) > 0 {
		analysis, err := a.code.Analyze(ctx, query, projectIDs[0])
		if err != nil {
			slog.Warn("code analysis failed", "project_id", projectIDs[0], "error", err)
		} else if analysis.Answer != "" {
			contextBlock += fmt.Sprintf("\n\n---\n[Code Analysis]\n%s", analysis.Answer)
		}
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: chatSystemPrompt}}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\n---\nUser Question: %s", contextBlock, query),
	})
	return messages, nil
}

// formatContext renders retrieval results as labeled context blocks.
func formatContext(results []retriever.Result) string {
	if len(results) == 0 {
		return "No relevant context found."
	}

	parts := make([]string, 0, len(results))
	for i, result := range results {
		meta := result.Metadata
		var header string
		switch metaValue(meta, "type") {
		case "issue":
			header = fmt.Sprintf("[Issue #%v] %v", metaOr(meta, "issue_iid", "?"), metaOr(meta, "title", "Untitled"))
			if url := metaValue(meta, "web_url"); url != "" {
				header += "\nURL: " + url
			}
		case "merge_request":
			header = fmt.Sprintf("[MR !%v] %v", metaOr(meta, "mr_iid", "?"), metaOr(meta, "title", "Untitled"))
			if url := metaValue(meta, "web_url"); url != "" {
				header += "\nURL: " + url
			}
		case "code":
			header = fmt.Sprintf("[Code] %v", metaOr(meta, "file_path", "unknown"))
			if start, ok := meta["start_line"]; ok {
				header += fmt.Sprintf(" (lines %v-%v)", start, meta["end_line"])
			}
		case "comment":
			header = fmt.Sprintf("[Comment by %v] on %v #%v",
				metaOr(meta, "author", "unknown"), meta["parent_type"], meta["parent_iid"])
		default:
			header = fmt.Sprintf("[Result %d]", i+1)
		}
		parts = append(parts, fmt.Sprintf("---\n%s\n\n%s\n", header, result.Content))
	}
	return strings.Join(parts, "\n")
}

func isCodeQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range codeQueryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func metaValue(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func metaOr(meta map[string]any, key string, fallback any) any {
	if meta != nil {
		if v, ok := meta[key]; ok && v != nil && v != "" {
			return v
		}
	}
	return fallback
}
