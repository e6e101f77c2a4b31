package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type messageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type conversationResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// pathConversationID parses the conversation id URL parameter. Returns
// ok=false after writing a 400 response.
func pathConversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid conversation ID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversations, err := s.conversations.GetAll(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]conversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		messages, err := s.messages.GetByConversation(ctx, conv.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items = append(items, conversationResponse{
			ID:           conv.ID.String(),
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    conv.UpdatedAt.Format(time.RFC3339),
			MessageCount: len(messages),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": items, "total": len(items)})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		respondRepoError(w, err, "Conversation not found")
		return
	}
	messages, err := s.messages.GetByConversation(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msgs := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, messageResponse{
			ID:        m.ID.String(),
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":         conv.ID.String(),
		"title":      conv.Title,
		"created_at": conv.CreatedAt.Format(time.RFC3339),
		"updated_at": conv.UpdatedAt.Format(time.RFC3339),
		"messages":   msgs,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	if err := s.conversations.Delete(r.Context(), id); err != nil {
		respondRepoError(w, err, "Conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "conversation_id": id.String()})
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.DeleteAll(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "cleared", "message": "All conversations deleted"})
}

func (s *Server) handleUpdateConversationTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.conversations.UpdateTitle(r.Context(), id, req.Title); err != nil {
		respondRepoError(w, err, "Conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "updated",
		"conversation_id": id.String(),
		"title":           req.Title,
	})
}
