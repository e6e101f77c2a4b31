// Package chunking splits GitLab content into token-bounded chunks for
// embedding. Paragraph boundaries are respected where possible; oversized
// paragraphs fall back to token windows with overlap.
package chunking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is a piece of content ready for embedding
type Chunk struct {
	Content    string
	Metadata   map[string]any
	TokenCount int
}

// Chunker splits text into token-bounded chunks
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	enc          *tiktoken.Tiktoken
}

// NewChunker creates a Chunker with the given token budget and overlap.
// Token counting uses the cl100k_base encoding.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 {
		chunkOverlap = 50
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, enc: enc}, nil
}

// CountTokens returns the token count of text
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// overlapText returns the trailing chunkOverlap tokens of text, decoded
func (c *Chunker) overlapText(text string) string {
	if text == "" {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) > c.chunkOverlap {
		tokens = tokens[len(tokens)-c.chunkOverlap:]
	}
	return c.enc.Decode(tokens)
}

// splitLargeText slices text into chunkSize token windows with overlap
func (c *Chunker) splitLargeText(text string, base map[string]any) []Chunk {
	tokens := c.enc.Encode(text, nil, nil)
	var chunks []Chunk

	for start := 0; start < len(tokens); {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Content:    c.enc.Decode(window),
			Metadata:   copyMeta(base),
			TokenCount: len(window),
		})
		if end < len(tokens) {
			start = end - c.chunkOverlap
		} else {
			start = end
		}
	}
	return chunks
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// SemanticChunk splits text on paragraph boundaries, greedily packing
// paragraphs up to the token budget. A paragraph larger than the budget is
// split into token windows on its own. Consecutive chunks share an overlap
// tail from the previous chunk.
func (c *Chunker) SemanticChunk(text string, base map[string]any) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var paragraphs []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var chunks []Chunk
	current := ""
	currentTokens := 0

	flush := func() {
		if current == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:    strings.TrimSpace(current),
			Metadata:   copyMeta(base),
			TokenCount: currentTokens,
		})
	}

	for _, para := range paragraphs {
		paraTokens := c.CountTokens(para)

		if paraTokens > c.chunkSize {
			flush()
			current, currentTokens = "", 0
			chunks = append(chunks, c.splitLargeText(para, base)...)
			continue
		}

		if currentTokens+paraTokens > c.chunkSize {
			flush()
			if overlap := c.overlapText(current); overlap != "" {
				current = overlap + "\n\n" + para
			} else {
				current = para
			}
			currentTokens = c.CountTokens(current)
			continue
		}

		if current == "" {
			current = para
		} else {
			current += "\n\n" + para
		}
		currentTokens += paraTokens
	}

	if strings.TrimSpace(current) != "" {
		currentTokens = c.CountTokens(current)
		flush()
	}
	return chunks
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
