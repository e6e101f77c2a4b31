package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	searchTimeout = 30 * time.Second
	maxFileChars  = 10_000
	maxSearchHits = "20"
	searchContext = "2"
)

// toolbox executes repository exploration tools rooted at one project's
// working tree. Every tool returns a string for the model; errors are
// reported as text, never raised.
type toolbox struct {
	repoPath string
}

func (t *toolbox) execute(ctx context.Context, name string, args map[string]any) string {
	switch name {
	case "search_code":
		return t.searchCode(ctx, argString(args, "pattern"), argString(args, "file_type"))
	case "read_file":
		return t.readFile(argString(args, "file_path"))
	case "list_directory":
		dir := argString(args, "dir_path")
		if dir == "" {
			dir = "."
		}
		return t.listDirectory(dir)
	case "find_definitions":
		return t.findDefinitions(ctx, argString(args, "pattern"), argString(args, "language"))
	default:
		return fmt.Sprintf("Unknown tool: %s", name)
	}
}

// validatePath resolves a model-supplied path and rejects anything that
// escapes the repository root.
func (t *toolbox) validatePath(path string) (string, error) {
	full := filepath.Clean(filepath.Join(t.repoPath, path))
	root := filepath.Clean(t.repoPath)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes repository: %s", path)
	}
	return full, nil
}

// rgTypes maps spoken language names onto ripgrep type flags.
var rgTypes = map[string]string{
	"python":     "py",
	"javascript": "js",
	"typescript": "ts",
	"go":         "go",
	"rust":       "rust",
	"java":       "java",
}

func (t *toolbox) searchCode(ctx context.Context, pattern, fileType string) string {
	if pattern == "" {
		return "Error: empty search pattern"
	}

	args := []string{"--json", "-C", searchContext, "-m", maxSearchHits, pattern}
	if fileType != "" {
		rgType, ok := rgTypes[fileType]
		if !ok {
			rgType = fileType
		}
		args = append(args, "-t", rgType)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rg", args...)
	cmd.Dir = t.repoPath
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "Search timed out."
	}
	if err != nil {
		// rg exits 1 on zero matches; anything in stdout is still usable.
		if len(out) == 0 {
			return "No matches found."
		}
	}
	return formatMatches(out)
}

// formatMatches flattens rg's JSON event stream into file-grouped lines.
func formatMatches(out []byte) string {
	type rgEvent struct {
		Type string `json:"type"`
		Data struct {
			Path struct {
				Text string `json:"text"`
			} `json:"path"`
			LineNumber int `json:"line_number"`
			Lines      struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"data"`
	}

	var (
		matches     []string
		currentFile string
	)
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		var ev rgEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type != "match" {
			continue
		}
		if ev.Data.Path.Text != currentFile {
			currentFile = ev.Data.Path.Text
			matches = append(matches, fmt.Sprintf("\n--- %s ---", currentFile))
		}
		matches = append(matches, fmt.Sprintf("  %d: %s", ev.Data.LineNumber, strings.TrimSpace(ev.Data.Lines.Text)))
	}

	if len(matches) == 0 {
		return "No matches found."
	}
	return strings.Join(matches, "\n")
}

func (t *toolbox) readFile(path string) string {
	full, err := t.validatePath(path)
	if err != nil {
		return fmt.Sprintf("Error: Invalid path - %s", path)
	}

	info, err := os.Stat(full)
	if err != nil {
		return fmt.Sprintf("Error: File not found - %s", path)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file - %s", path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}

	content := string(data)
	if len(content) > maxFileChars {
		content = content[:maxFileChars] + "\n... (truncated)"
	}
	return content
}

func (t *toolbox) listDirectory(path string) string {
	full, err := t.validatePath(path)
	if err != nil {
		return fmt.Sprintf("Error: Invalid path - %s", path)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Sprintf("Error: Directory not found - %s", path)
	}

	var items []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		prefix := "[FILE]"
		if entry.IsDir() {
			prefix = "[DIR] "
		}
		items = append(items, fmt.Sprintf("%s %s", prefix, entry.Name()))
	}
	sort.Strings(items)

	if len(items) == 0 {
		return "Empty directory."
	}
	return strings.Join(items, "\n")
}

// findDefinitions expands a name into the definition prefixes common across
// languages and searches for each.
func (t *toolbox) findDefinitions(ctx context.Context, pattern, language string) string {
	if pattern == "" {
		return "Error: empty pattern"
	}

	prefixes := []string{
		"def " + pattern,
		"class " + pattern,
		"function " + pattern,
		"func " + pattern,
		"const " + pattern,
		"async def " + pattern,
		"async function " + pattern,
	}

	var found []string
	for _, prefix := range prefixes {
		result := t.searchCode(ctx, prefix, language)
		if result != "" && !strings.Contains(result, "No matches found") {
			found = append(found, result)
		}
	}

	if len(found) == 0 {
		return fmt.Sprintf("No definitions found for '%s'.", pattern)
	}
	return strings.Join(found, "\n")
}

// toolDefinitions describes the toolbox for OpenAI function calling.
func toolDefinitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "search_code",
				Description: "Search for patterns in code using ripgrep. Returns matching lines with context.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"pattern": {"type": "string", "description": "The search pattern (regex supported)"},
						"file_type": {"type": "string", "description": "Optional: filter by file type (python, javascript, typescript, go, rust, java)"}
					},
					"required": ["pattern"]
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "read_file",
				Description: "Read the contents of a specific file",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"file_path": {"type": "string", "description": "Path to the file relative to repository root"}
					},
					"required": ["file_path"]
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "list_directory",
				Description: "List files and directories in a path",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"dir_path": {"type": "string", "description": "Directory path relative to repository root (use '.' for root)"}
					},
					"required": ["dir_path"]
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "find_definitions",
				Description: "Find function or class definitions matching a pattern",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"pattern": {"type": "string", "description": "Name pattern to search for (partial matches work)"},
						"language": {"type": "string", "description": "Optional: filter by language"}
					},
					"required": ["pattern"]
				}`),
			},
		},
	}
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
