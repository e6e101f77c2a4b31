// Package vectorstore provides interfaces and implementations for vector
// similarity search over indexed GitLab content.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CollectionName is the single collection holding all indexed content.
// Per-project isolation happens through payload filters, not collections.
const CollectionName = "gitlab_content"

// Point is an embedded chunk ready to be stored
type Point struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// SearchResult is a scored hit from the vector store
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Filter restricts a search to given projects and content types. Empty
// slices mean no restriction on that axis.
type Filter struct {
	ProjectIDs []int64
	Types      []string
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// EnsureCollection creates the collection if missing. An existing
	// collection with a different vector dimension is dropped and recreated,
	// losing its points.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or updates points
	Upsert(ctx context.Context, points []Point) error

	// Search performs similarity search constrained by the filter
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]SearchResult, error)

	// DeleteByIDs removes specific points
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByProject removes every point belonging to a project
	DeleteByProject(ctx context.Context, projectID int64) error

	// CountByProject returns the number of points a project owns
	CountByProject(ctx context.Context, projectID int64) (uint64, error)
}

// PointID derives a deterministic point id from the chunk's identity. The
// same entity content always maps to the same id, making re-indexing an
// overwrite instead of a duplicate.
func PointID(projectID int64, contentType, entityID, content string) string {
	if len(content) > 200 {
		content = content[:200]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s:%s", projectID, contentType, entityID, content)))
	return hex.EncodeToString(sum[:])[:32]
}

// FormatUUID dashes a 32-hex point id into canonical UUID form, which is what
// Qdrant accepts as a point id. Inputs that are not 32 hex chars pass through
// unchanged.
func FormatUUID(id string) string {
	if len(id) != 32 {
		return id
	}
	return id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:]
}
