// Package repository defines domain models and data access interfaces for
// projects, indexed items, conversations, and LLM providers.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Indexing status values for a project.
const (
	StatusPending   = "pending"
	StatusIndexing  = "indexing"
	StatusSyncing   = "syncing"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusStopped   = "stopped"
)

// Item types tracked in the indexed_items manifest.
const (
	ItemTypeIssue        = "issue"
	ItemTypeMergeRequest = "merge_request"
	ItemTypeCode         = "code"
	ItemTypeReadme       = "readme"
	ItemTypeComment      = "comment"
)

// Project represents a GitLab project known to the system
type Project struct {
	ID                int64
	GitLabID          int64
	Name              string
	PathWithNamespace string
	Description       string
	DefaultBranch     string
	HTTPURLToRepo     string
	IsIndexed         bool
	IsSelected        bool
	IndexingStatus    string
	IndexingError     string
	LastIndexedAt     *time.Time
	LastIndexedCommit string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IndexedItem links an upstream GitLab entity to the vector points it owns
type IndexedItem struct {
	ID            int64
	ProjectID     int64 // local projects.id, not the GitLab id
	ItemType      string
	ItemID        int64
	ItemIID       int64 // project-scoped number; README rows repurpose it for a content-hash prefix
	QdrantPointID []string
	LastUpdatedAt *time.Time
	IndexedAt     time.Time
}

// Conversation is a chat conversation
type Conversation struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single chat message within a conversation
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string // user, assistant, system
	Content        string
	CreatedAt      time.Time
}

// LLMProvider is a configured chat model provider
type LLMProvider struct {
	ID           int64
	Name         string
	ProviderType string // openai, custom
	APIKey       string
	ModelID      string
	BaseURL      string
	IsDefault    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectFields holds the upstream attributes refreshed from GitLab
type ProjectFields struct {
	Name              string
	PathWithNamespace string
	Description       string
	DefaultBranch     string
	HTTPURLToRepo     string
}

// ProjectRepository defines operations for project persistence
type ProjectRepository interface {
	GetAll(ctx context.Context) ([]*Project, error)
	GetByID(ctx context.Context, id int64) (*Project, error)
	GetByGitLabID(ctx context.Context, gitlabID int64) (*Project, error)
	GetSelected(ctx context.Context) ([]*Project, error)
	GetIndexed(ctx context.Context) ([]*Project, error)
	Upsert(ctx context.Context, gitlabID int64, fields ProjectFields) (*Project, bool, error)
	SetSelected(ctx context.Context, id int64, selected bool) error
	// UpdateStatus sets indexing_status and indexing_error. A "completed"
	// status also marks the project indexed and stamps last_indexed_at.
	UpdateStatus(ctx context.Context, id int64, status, errMsg string) error
	SetLastIndexedCommit(ctx context.Context, id int64, commit string) error
	// RecoverStaleSyncing resets projects stuck in "syncing" whose
	// last_indexed_at is older than the cutoff back to "completed",
	// returning their ids.
	RecoverStaleSyncing(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// ItemRepository defines operations for the indexed_items manifest
type ItemRepository interface {
	GetByProject(ctx context.Context, projectID int64) ([]*IndexedItem, error)
	GetByType(ctx context.Context, projectID int64, itemType string) ([]*IndexedItem, error)
	Get(ctx context.Context, projectID int64, itemType string, itemID int64) (*IndexedItem, error)
	Upsert(ctx context.Context, item *IndexedItem) error
	Delete(ctx context.Context, id int64) error
	DeleteByProject(ctx context.Context, projectID int64) error
}

// ConversationRepository defines operations for conversation persistence
type ConversationRepository interface {
	GetAll(ctx context.Context) ([]*Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	Create(ctx context.Context, title string) (*Conversation, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error
}

// MessageRepository defines operations for message persistence
type MessageRepository interface {
	GetByConversation(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
	Create(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error)
}

// ProviderRepository defines operations for LLM provider persistence
type ProviderRepository interface {
	GetAll(ctx context.Context) ([]*LLMProvider, error)
	GetByID(ctx context.Context, id int64) (*LLMProvider, error)
	GetDefault(ctx context.Context) (*LLMProvider, error)
	Create(ctx context.Context, p *LLMProvider) error
	Update(ctx context.Context, p *LLMProvider) error
	Delete(ctx context.Context, id int64) error
	SetDefault(ctx context.Context, id int64) error
}
