package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/glrag/glrag/internal/llm"
	"github.com/glrag/glrag/internal/repository"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	ProviderID     int64  `json:"provider_id"`
}

// chatContext is everything resolved before generation starts.
type chatContext struct {
	agent          ChatService
	conversationID uuid.UUID
	isNew          bool
	history        []llm.Message
	projectIDs     []int64
}

// prepareChat resolves the provider, conversation, history, and project scope
// for a chat request. It writes the error response itself on failure.
func (s *Server) prepareChat(w http.ResponseWriter, r *http.Request, req chatRequest) (*chatContext, bool) {
	ctx := r.Context()

	agent, ok := s.agentForProvider(ctx, w, req.ProviderID)
	if !ok {
		return nil, false
	}

	cc := &chatContext{agent: agent}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid conversation ID")
			return nil, false
		}
		if _, err := s.conversations.GetByID(ctx, id); err != nil {
			respondRepoError(w, err, "Conversation not found")
			return nil, false
		}
		cc.conversationID = id
	} else {
		conv, err := s.conversations.Create(ctx, "")
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		cc.conversationID = conv.ID
		cc.isNew = true
	}

	// History excludes the message being sent now.
	messages, err := s.messages.GetByConversation(ctx, cc.conversationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	for _, m := range messages {
		cc.history = append(cc.history, llm.Message{Role: m.Role, Content: m.Content})
	}

	if _, err := s.messages.Create(ctx, cc.conversationID, llm.RoleUser, req.Message); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	// Retrieval is scoped to the selected projects' GitLab ids; vector
	// payloads key on the upstream id.
	selected, err := s.projects.GetSelected(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	for _, p := range selected {
		cc.projectIDs = append(cc.projectIDs, p.GitLabID)
	}

	return cc, true
}

// agentForProvider builds a chat agent for the requested provider, the stored
// default, or the environment config, in that order.
func (s *Server) agentForProvider(ctx context.Context, w http.ResponseWriter, providerID int64) (ChatService, bool) {
	var provider *repository.LLMProvider
	if providerID > 0 {
		p, err := s.providers.GetByID(ctx, providerID)
		if err != nil {
			respondRepoError(w, err, "Provider not found")
			return nil, false
		}
		provider = p
	} else {
		p, err := s.providers.GetDefault(ctx)
		if err == nil {
			provider = p
		}
	}
	return s.agents(provider), true
}

// handleChat streams the answer over server-sent events: message chunks, an
// optional title for new conversations, then done with the conversation id.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	cc, ok := s.prepareChat(w, r, req)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	stream, err := cc.agent.ChatStream(ctx, req.Message, cc.history, cc.projectIDs)
	if err != nil {
		writeSSE(w, flusher, "error", err.Error())
		return
	}

	var full strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			writeSSE(w, flusher, "error", chunk.Error.Error())
			return
		}
		if chunk.Token != "" {
			full.WriteString(chunk.Token)
			writeSSE(w, flusher, "message", chunk.Token)
		}
		if chunk.Done {
			break
		}
	}

	if _, err := s.messages.Create(ctx, cc.conversationID, llm.RoleAssistant, full.String()); err != nil {
		s.logger.Error("failed to save assistant message", "conversation_id", cc.conversationID, "error", err)
	}

	if cc.isNew {
		title, err := cc.agent.GenerateTitle(ctx, req.Message)
		if err != nil {
			s.logger.Warn("failed to generate conversation title", "error", err)
		} else {
			if err := s.conversations.UpdateTitle(ctx, cc.conversationID, title); err != nil {
				s.logger.Warn("failed to save conversation title", "error", err)
			}
			writeSSE(w, flusher, "title", title)
		}
	}

	writeSSE(w, flusher, "done", cc.conversationID.String())
}

// handleChatSync answers without streaming.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	cc, ok := s.prepareChat(w, r, req)
	if !ok {
		return
	}

	ctx := r.Context()
	answer, err := cc.agent.Chat(ctx, req.Message, cc.history, cc.projectIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := s.messages.Create(ctx, cc.conversationID, llm.RoleAssistant, answer); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var title string
	if cc.isNew {
		title, err = cc.agent.GenerateTitle(ctx, req.Message)
		if err != nil {
			s.logger.Warn("failed to generate conversation title", "error", err)
			title = ""
		} else if err := s.conversations.UpdateTitle(ctx, cc.conversationID, title); err != nil {
			s.logger.Warn("failed to save conversation title", "error", err)
		}
	}

	resp := map[string]any{
		"conversation_id": cc.conversationID.String(),
		"message":         answer,
	}
	if title != "" {
		resp["title"] = title
	}
	respondJSON(w, http.StatusOK, resp)
}

// writeSSE emits one server-sent event. Multi-line data is split across data
// lines per the SSE framing rules.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}
