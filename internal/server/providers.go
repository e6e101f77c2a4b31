package server

import (
	"net/http"
	"time"

	"github.com/glrag/glrag/internal/repository"
)

type providerResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ProviderType string `json:"provider_type"`
	ModelID      string `json:"model_id"`
	BaseURL      string `json:"base_url,omitempty"`
	IsDefault    bool   `json:"is_default"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// toProviderResponse excludes the API key from responses.
func toProviderResponse(p *repository.LLMProvider) providerResponse {
	return providerResponse{
		ID:           p.ID,
		Name:         p.Name,
		ProviderType: p.ProviderType,
		ModelID:      p.ModelID,
		BaseURL:      p.BaseURL,
		IsDefault:    p.IsDefault,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.Format(time.RFC3339),
	}
}

func validProviderType(t string) bool {
	return t == "openai" || t == "custom"
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.providers.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		items = append(items, toProviderResponse(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": items, "total": len(items)})
}

func (s *Server) handleGetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := s.providers.GetDefault(r.Context())
	if err != nil {
		// No default configured is a valid state, not an error.
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, toProviderResponse(provider))
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "providerID")
	if !ok {
		return
	}
	provider, err := s.providers.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}
	respondJSON(w, http.StatusOK, toProviderResponse(provider))
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		ProviderType string `json:"provider_type"`
		APIKey       string `json:"api_key"`
		ModelID      string `json:"model_id"`
		BaseURL      string `json:"base_url"`
		IsDefault    bool   `json:"is_default"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !validProviderType(req.ProviderType) {
		respondError(w, http.StatusBadRequest, "Invalid provider_type. Must be one of: openai, custom")
		return
	}
	if req.Name == "" || req.ModelID == "" {
		respondError(w, http.StatusBadRequest, "name and model_id are required")
		return
	}

	provider := &repository.LLMProvider{
		Name:         req.Name,
		ProviderType: req.ProviderType,
		APIKey:       req.APIKey,
		ModelID:      req.ModelID,
		BaseURL:      req.BaseURL,
		IsDefault:    req.IsDefault,
	}
	if err := s.providers.Create(r.Context(), provider); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.IsDefault {
		if err := s.providers.SetDefault(r.Context(), provider.ID); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		provider.IsDefault = true
	}
	respondJSON(w, http.StatusOK, toProviderResponse(provider))
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "providerID")
	if !ok {
		return
	}

	provider, err := s.providers.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}

	var req struct {
		Name         *string `json:"name"`
		ProviderType *string `json:"provider_type"`
		APIKey       *string `json:"api_key"`
		ModelID      *string `json:"model_id"`
		BaseURL      *string `json:"base_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProviderType != nil && !validProviderType(*req.ProviderType) {
		respondError(w, http.StatusBadRequest, "Invalid provider_type. Must be one of: openai, custom")
		return
	}

	if req.Name != nil {
		provider.Name = *req.Name
	}
	if req.ProviderType != nil {
		provider.ProviderType = *req.ProviderType
	}
	if req.APIKey != nil {
		provider.APIKey = *req.APIKey
	}
	if req.ModelID != nil {
		provider.ModelID = *req.ModelID
	}
	if req.BaseURL != nil {
		provider.BaseURL = *req.BaseURL
	}

	if err := s.providers.Update(r.Context(), provider); err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}
	respondJSON(w, http.StatusOK, toProviderResponse(provider))
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "providerID")
	if !ok {
		return
	}
	if err := s.providers.Delete(r.Context(), id); err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "provider_id": id})
}

func (s *Server) handleSetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "providerID")
	if !ok {
		return
	}
	if err := s.providers.SetDefault(r.Context(), id); err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}
	provider, err := s.providers.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Provider not found")
		return
	}
	respondJSON(w, http.StatusOK, toProviderResponse(provider))
}
