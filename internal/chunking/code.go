package chunking

import (
	"regexp"
	"strings"
)

var extLanguages = map[string]string{
	".py":     "python",
	".js":     "javascript",
	".jsx":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".java":   "java",
	".go":     "go",
	".rs":     "rust",
	".rb":     "ruby",
	".php":    "php",
	".c":      "c",
	".cpp":    "cpp",
	".h":      "c",
	".hpp":    "cpp",
	".cs":     "csharp",
	".swift":  "swift",
	".kt":     "kotlin",
	".scala":  "scala",
	".vue":    "vue",
	".svelte": "svelte",
	".md":     "markdown",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".xml":    "xml",
	".html":   "html",
	".css":    "css",
	".scss":   "scss",
	".sql":    "sql",
	".sh":     "bash",
	".bash":   "bash",
	".zsh":    "zsh",
}

// DetectLanguage maps a file path to a language name by extension
func DetectLanguage(path string) string {
	lower := strings.ToLower(path)
	for ext, lang := range extLanguages {
		if strings.HasSuffix(lower, ext) {
			return lang
		}
	}
	return "unknown"
}

type syntaxPattern struct {
	re        *regexp.Regexp
	blockType string
}

var pythonPatterns = []syntaxPattern{
	{regexp.MustCompile(`^class\s+\w+`), "class"},
	{regexp.MustCompile(`^def\s+\w+`), "function"},
	{regexp.MustCompile(`^async\s+def\s+\w+`), "async_function"},
}

var jsPatterns = []syntaxPattern{
	{regexp.MustCompile(`^class\s+\w+`), "class"},
	{regexp.MustCompile(`^function\s+\w+`), "function"},
	{regexp.MustCompile(`^const\s+\w+\s*=\s*(?:async\s*)?\(`), "arrow_function"},
	{regexp.MustCompile(`^export\s+(?:default\s+)?(?:async\s+)?function`), "function"},
}

// ChunkCodeFile chunks a source file. Python and JavaScript/TypeScript files
// are split on class and function boundaries; everything else falls back to
// line windows.
func (c *Chunker) ChunkCodeFile(filePath, content string, projectID int64) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	language := DetectLanguage(filePath)
	base := map[string]any{
		"type":       "code",
		"project_id": projectID,
		"file_path":  filePath,
		"language":   language,
	}

	switch language {
	case "python":
		if chunks := c.chunkBySyntax(content, pythonPatterns, base); len(chunks) > 0 {
			return chunks
		}
	case "javascript", "typescript":
		if chunks := c.chunkBySyntax(content, jsPatterns, base); len(chunks) > 0 {
			return chunks
		}
	}
	return c.chunkByLines(content, base)
}

// chunkBySyntax groups lines into blocks that start at definition sites, then
// semantically chunks each block
func (c *Chunker) chunkBySyntax(content string, patterns []syntaxPattern, base map[string]any) []Chunk {
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var block []string
	blockType := "module"
	blockStart := 0

	emit := func(endLine int) {
		text := strings.Join(block, "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		meta := copyMeta(base)
		meta["block_type"] = blockType
		meta["start_line"] = blockStart + 1
		meta["end_line"] = endLine
		chunks = append(chunks, c.SemanticChunk(text, meta)...)
	}

	for i, line := range lines {
		matched := false
		trimmed := strings.TrimSpace(line)
		for _, p := range patterns {
			if p.re.MatchString(trimmed) {
				if len(block) > 0 {
					emit(i)
				}
				block = []string{line}
				blockType = p.blockType
				blockStart = i
				matched = true
				break
			}
		}
		if !matched {
			block = append(block, line)
		}
	}
	if len(block) > 0 {
		emit(len(lines))
	}
	return chunks
}

// chunkByLines packs lines into token-bounded chunks, carrying the last five
// lines forward as overlap
func (c *Chunker) chunkByLines(content string, base map[string]any) []Chunk {
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var current []string
	currentTokens := 0
	startLine := 0

	for i, line := range lines {
		lineTokens := c.CountTokens(line + "\n")

		if currentTokens+lineTokens > c.chunkSize && len(current) > 0 {
			meta := copyMeta(base)
			meta["start_line"] = startLine + 1
			meta["end_line"] = i
			chunks = append(chunks, Chunk{
				Content:    strings.Join(current, "\n"),
				Metadata:   meta,
				TokenCount: currentTokens,
			})

			var overlap []string
			if len(current) > 5 {
				overlap = current[len(current)-5:]
			}
			current = append(append([]string{}, overlap...), line)
			currentTokens = c.CountTokens(strings.Join(current, "\n"))
			startLine = i - len(overlap)
			continue
		}
		current = append(current, line)
		currentTokens += lineTokens
	}

	if len(current) > 0 {
		meta := copyMeta(base)
		meta["start_line"] = startLine + 1
		meta["end_line"] = len(lines)
		chunks = append(chunks, Chunk{
			Content:    strings.Join(current, "\n"),
			Metadata:   meta,
			TokenCount: c.CountTokens(strings.Join(current, "\n")),
		})
	}
	return chunks
}
