package chunking

import (
	"strings"
	"testing"
)

func newTestChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	return c
}

func TestNewChunker_Defaults(t *testing.T) {
	c := newTestChunker(t, 0, -1)

	if c.chunkSize != 512 {
		t.Errorf("expected default chunkSize 512, got %d", c.chunkSize)
	}
	if c.chunkOverlap != 50 {
		t.Errorf("expected default chunkOverlap 50, got %d", c.chunkOverlap)
	}
}

func TestCountTokens(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	if got := c.CountTokens(""); got != 0 {
		t.Errorf("expected 0 tokens for empty string, got %d", got)
	}
	if got := c.CountTokens("hello world"); got == 0 {
		t.Error("expected non-zero tokens for text")
	}
}

func TestSemanticChunk_Empty(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	if chunks := c.SemanticChunk("", nil); chunks != nil {
		t.Errorf("expected nil for empty content, got %v", chunks)
	}
	if chunks := c.SemanticChunk("   \n\n  ", nil); chunks != nil {
		t.Errorf("expected nil for whitespace content, got %v", chunks)
	}
}

func TestSemanticChunk_SingleParagraph(t *testing.T) {
	c := newTestChunker(t, 512, 50)

	chunks := c.SemanticChunk("A short paragraph.", map[string]any{"type": "readme"})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "A short paragraph." {
		t.Errorf("unexpected content: %q", chunks[0].Content)
	}
	if chunks[0].Metadata["type"] != "readme" {
		t.Errorf("metadata not carried: %v", chunks[0].Metadata)
	}
	if chunks[0].TokenCount == 0 {
		t.Error("expected non-zero token count")
	}
}

func TestSemanticChunk_RespectsTokenBudget(t *testing.T) {
	c := newTestChunker(t, 30, 5)

	// Many small paragraphs that cannot all fit in one 30-token chunk.
	paragraphs := make([]string, 20)
	for i := range paragraphs {
		paragraphs[i] = "This paragraph has a handful of words in it."
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := c.SemanticChunk(text, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Content == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSemanticChunk_OversizedParagraph(t *testing.T) {
	c := newTestChunker(t, 20, 5)

	// One paragraph far over the budget must be window-split, not dropped.
	big := strings.Repeat("lexeme ", 200)
	chunks := c.SemanticChunk(big, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected oversized paragraph to split, got %d chunks", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.TokenCount > 20 {
			t.Errorf("chunk exceeds token budget: %d", chunk.TokenCount)
		}
	}
}

func TestSemanticChunk_MetadataIsolated(t *testing.T) {
	c := newTestChunker(t, 30, 5)

	base := map[string]any{"type": "issue"}
	text := strings.Repeat("Some words here.\n\n", 20)
	chunks := c.SemanticChunk(text, base)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Mutating one chunk's metadata must not leak into another's.
	chunks[0].Metadata["type"] = "mutated"
	if chunks[1].Metadata["type"] != "issue" {
		t.Error("chunks share a metadata map")
	}
}

func TestSplitLargeText_Overlap(t *testing.T) {
	c := newTestChunker(t, 10, 3)

	text := strings.Repeat("token ", 50)
	chunks := c.splitLargeText(text, nil)
	if len(chunks) < 3 {
		t.Fatalf("expected several windows, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.TokenCount > 10 {
			t.Errorf("window %d exceeds budget: %d tokens", i, chunk.TokenCount)
		}
	}
}
