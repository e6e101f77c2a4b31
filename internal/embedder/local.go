package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	// DefaultLocalDimension is the vector size of the bundled MiniLM server.
	DefaultLocalDimension = 384

	// DefaultLocalConcurrency is the number of concurrent embedding requests.
	DefaultLocalConcurrency = 4
)

// LocalEmbedder implements the Embedder interface against a self-hosted
// embedding server exposing POST /vectors.
type LocalEmbedder struct {
	baseURL     string
	dimension   int
	concurrency int
	client      *http.Client
}

type localRequest struct {
	Text string `json:"text"`
}

type localResponse struct {
	Vector []float32 `json:"vector"`
}

// NewLocalEmbedder creates a local embedder for the server at baseURL.
func NewLocalEmbedder(baseURL string, dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = DefaultLocalDimension
	}
	return &LocalEmbedder{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		dimension:   dimension,
		concurrency: DefaultLocalConcurrency,
		client:      http.DefaultClient,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(localRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/vectors", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server error (status %d): %s", resp.StatusCode, string(body))
	}

	var out localResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("empty embedding returned from server")
	}
	return out.Vector, nil
}

// EmbedBatch generates embedding vectors for multiple texts concurrently.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.concurrency)

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}

			vector, err := e.Embed(ctx, t)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = vector
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("batch embedding failed at index %d: %w", i, err)
		}
	}
	return results, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *LocalEmbedder) ModelName() string {
	return "local-minilm"
}

// Ensure LocalEmbedder implements Embedder interface.
var _ Embedder = (*LocalEmbedder)(nil)
