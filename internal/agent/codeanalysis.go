// Package agent implements the LLM-driven layers on top of retrieval: a
// bounded tool-use loop for exploring cloned repositories and the chat agent
// that ties planning, retrieval, and generation together.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

// maxIterations bounds the tool-use loop so a confused model cannot spin
// forever against the repository.
const maxIterations = 10

const codeAnalysisPrompt = `You are a code analysis agent. You have access to a cloned repository and can use tools to explore it.

Your goal is to answer questions about the codebase by:
1. Searching for relevant code patterns using ripgrep
2. Reading specific files to understand implementation details
3. Listing directories to understand project structure
4. Finding function/class definitions

When you have gathered enough information, provide your final answer with:
- Clear explanation of what you found
- Specific file paths and line numbers when referencing code
- Code snippets when relevant

If you cannot find relevant information, say so clearly.`

// chatCompleter is the slice of the OpenAI client the agent loop needs.
// *openai.Client satisfies it.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ chatCompleter = (*openai.Client)(nil)

// ToolCall records one tool invocation the model made during analysis.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Analysis is the outcome of a code analysis run.
type Analysis struct {
	Answer    string     `json:"answer"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// RepoLocator resolves a project's local working tree.
type RepoLocator interface {
	Path(projectID int64) string
}

// CodeAnalysisAgent answers questions about a repository by iteratively
// calling exploration tools until the model produces a final answer.
type CodeAnalysisAgent struct {
	client chatCompleter
	model  string
	repos  RepoLocator
}

// NewCodeAnalysisAgent creates an agent using the given OpenAI-compatible
// client and model.
func NewCodeAnalysisAgent(client chatCompleter, model string, repos RepoLocator) *CodeAnalysisAgent {
	return &CodeAnalysisAgent{client: client, model: model, repos: repos}
}

// Analyze explores the project's cloned repository to answer the query. The
// repository must already exist on disk; analysis never clones.
func (a *CodeAnalysisAgent) Analyze(ctx context.Context, query string, projectID int64) (*Analysis, error) {
	repoPath := a.repos.Path(projectID)
	if _, err := os.Stat(repoPath); err != nil {
		return &Analysis{
			Answer: "Repository has not been cloned. Please index the project first.",
		}, nil
	}

	tools := &toolbox{repoPath: repoPath}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: codeAnalysisPrompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Repository: %s\n\nQuestion: %s", repoPath, query)},
	}

	var made []ToolCall
	for i := 0; i < maxIterations; i++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			return nil, fmt.Errorf("code analysis request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty response from model")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			answer := msg.Content
			if answer == "" {
				answer = "Unable to find relevant information."
			}
			return &Analysis{Answer: answer, ToolCalls: made}, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			made = append(made, ToolCall{Tool: call.Function.Name, Arguments: args})

			result := tools.execute(ctx, call.Function.Name, args)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	return &Analysis{
		Answer:    "Analysis reached maximum iterations. Please try a more specific query.",
		ToolCalls: made,
	}, nil
}
