package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glrag/glrag/internal/repository"
)

// ConversationRepo implements repository.ConversationRepository
type ConversationRepo struct {
	db *DB
}

// NewConversationRepo creates a new conversation repository
func NewConversationRepo(db *DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func scanConversation(row pgx.Row) (*repository.Conversation, error) {
	var c repository.Conversation
	err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

// GetAll returns all conversations, most recently updated first
func (r *ConversationRepo) GetAll(ctx context.Context) ([]*repository.Conversation, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*repository.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetByID returns one conversation
func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Conversation, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// Create creates a new conversation
func (r *ConversationRepo) Create(ctx context.Context, title string) (*repository.Conversation, error) {
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO conversations (id, title) VALUES ($1, $2)
		RETURNING id, title, created_at, updated_at`,
		uuid.New(), title)
	return scanConversation(row)
}

// UpdateTitle sets the conversation title
func (r *ConversationRepo) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = NOW() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a conversation and, via cascade, its messages
func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAll removes every conversation
func (r *ConversationRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM conversations`)
	if err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}

// MessageRepo implements repository.MessageRepository
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new message repository
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// GetByConversation returns a conversation's messages in chronological order
func (r *MessageRepo) GetByConversation(ctx context.Context, conversationID uuid.UUID) ([]*repository.Message, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*repository.Message
	for rows.Next() {
		var m repository.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// Create appends a message to a conversation and bumps its updated_at
func (r *MessageRepo) Create(ctx context.Context, conversationID uuid.UUID, role, content string) (*repository.Message, error) {
	var m repository.Message
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, role, content, created_at`,
		uuid.New(), conversationID, role, content).
		Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	return &m, nil
}

// Ensure implementations satisfy the interfaces
var (
	_ repository.ConversationRepository = (*ConversationRepo)(nil)
	_ repository.MessageRepository      = (*MessageRepo)(nil)
)
