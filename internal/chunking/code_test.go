package chunking

import (
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.py", "python"},
		{"src/app.tsx", "typescript"},
		{"cmd/server/main.go", "go"},
		{"lib.rs", "rust"},
		{"README.md", "markdown"},
		{"UPPER.PY", "python"},
		{"Makefile", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectLanguage(tt.path); got != tt.expected {
				t.Errorf("DetectLanguage(%q) = %q, expected %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestChunkCodeFile_PythonSyntax(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	content := `import os

def load_config(path):
    return os.environ

class Server:
    def __init__(self):
        self.port = 8000
`
	chunks := c.ChunkCodeFile("app.py", content, 42)
	if len(chunks) < 2 {
		t.Fatalf("expected definition-split chunks, got %d", len(chunks))
	}

	blockTypes := map[string]bool{}
	for _, chunk := range chunks {
		if chunk.Metadata["language"] != "python" {
			t.Errorf("expected python language, got %v", chunk.Metadata["language"])
		}
		if chunk.Metadata["type"] != "code" {
			t.Errorf("expected code type, got %v", chunk.Metadata["type"])
		}
		if bt, ok := chunk.Metadata["block_type"].(string); ok {
			blockTypes[bt] = true
		}
		if _, ok := chunk.Metadata["start_line"]; !ok {
			t.Error("expected start_line metadata")
		}
	}
	if !blockTypes["function"] {
		t.Errorf("expected a function block, got %v", blockTypes)
	}
	if !blockTypes["class"] {
		t.Errorf("expected a class block, got %v", blockTypes)
	}
}

func TestChunkCodeFile_FallbackToLines(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	content := "server:\n  port: 8000\n  host: 0.0.0.0\n"
	chunks := c.ChunkCodeFile("config.yaml", content, 42)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Metadata["language"] != "yaml" {
		t.Errorf("expected yaml language, got %v", chunks[0].Metadata["language"])
	}
	if chunks[0].Metadata["start_line"] != 1 {
		t.Errorf("expected start_line 1, got %v", chunks[0].Metadata["start_line"])
	}
}

func TestChunkCodeFile_Empty(t *testing.T) {
	c := newTestChunker(t, 512, 50)
	if chunks := c.ChunkCodeFile("empty.go", "   \n ", 42); chunks != nil {
		t.Errorf("expected nil for empty file, got %v", chunks)
	}
}

func TestChunkByLines_SplitsLongFiles(t *testing.T) {
	c := newTestChunker(t, 20, 5)

	var content string
	for i := 0; i < 60; i++ {
		content += "line with several tokens on it\n"
	}

	chunks := c.chunkByLines(content, map[string]any{"type": "code"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Metadata["end_line"].(int)
		start := chunks[i].Metadata["start_line"].(int)
		if start > prevEnd+1 {
			t.Errorf("gap between chunk %d (end %d) and chunk %d (start %d)", i-1, prevEnd, i, start)
		}
	}
}
