package server

import (
	"net/http"
	"time"

	"github.com/glrag/glrag/internal/repository"
)

type projectResponse struct {
	ID                int64   `json:"id"`
	GitLabID          int64   `json:"gitlab_id"`
	Name              string  `json:"name"`
	PathWithNamespace string  `json:"path_with_namespace"`
	Description       string  `json:"description,omitempty"`
	DefaultBranch     string  `json:"default_branch"`
	IsIndexed         bool    `json:"is_indexed"`
	IsSelected        bool    `json:"is_selected"`
	IndexingStatus    string  `json:"indexing_status"`
	IndexingError     string  `json:"indexing_error,omitempty"`
	LastIndexedAt     *string `json:"last_indexed_at"`
}

func toProjectResponse(p *repository.Project) projectResponse {
	resp := projectResponse{
		ID:                p.ID,
		GitLabID:          p.GitLabID,
		Name:              p.Name,
		PathWithNamespace: p.PathWithNamespace,
		Description:       p.Description,
		DefaultBranch:     p.DefaultBranch,
		IsIndexed:         p.IsIndexed,
		IsSelected:        p.IsSelected,
		IndexingStatus:    p.IndexingStatus,
		IndexingError:     p.IndexingError,
	}
	if p.LastIndexedAt != nil {
		ts := p.LastIndexedAt.Format(time.RFC3339)
		resp.LastIndexedAt = &ts
	}
	return resp
}

func projectListResponse(projects []*repository.Project) map[string]any {
	items := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		items = append(items, toProjectResponse(p))
	}
	return map[string]any{"projects": items, "total": len(items)}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, projectListResponse(projects))
}

func (s *Server) handleListSelected(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.GetSelected(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, projectListResponse(projects))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}
	respondJSON(w, http.StatusOK, toProjectResponse(project))
}

// handleVectorCounts reports how many points each project owns in the vector
// store. A project whose count lookup fails is skipped rather than failing
// the whole response.
func (s *Server) handleVectorCounts(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	counts := make(map[int64]uint64, len(projects))
	var total uint64
	for _, p := range projects {
		count, err := s.store.CountByProject(r.Context(), p.GitLabID)
		if err != nil {
			s.logger.Warn("failed to count vectors", "gitlab_id", p.GitLabID, "error", err)
			continue
		}
		counts[p.GitLabID] = count
		total += count
	}
	respondJSON(w, http.StatusOK, map[string]any{"counts": counts, "total": total})
}

// handleRefreshProjects pulls the project list from GitLab synchronously so
// the caller sees fresh counts immediately.
func (s *Server) handleRefreshProjects(w http.ResponseWriter, r *http.Request) {
	created, updated, err := s.indexer.RefreshProjects(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"total":   created + updated,
		"created": created,
		"updated": updated,
	})
}

func (s *Server) handleSelectProject(w http.ResponseWriter, r *http.Request) {
	s.setSelection(w, r, true, "selected")
}

func (s *Server) handleDeselectProject(w http.ResponseWriter, r *http.Request) {
	s.setSelection(w, r, false, "deselected")
}

func (s *Server) setSelection(w http.ResponseWriter, r *http.Request, selected bool, status string) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if err := s.projects.SetSelected(r.Context(), id, selected); err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status, "project_id": id})
}

func (s *Server) handleIndexProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}

	if guardAlreadyIndexing(w, project) {
		return
	}

	taskID, err := s.queue.EnqueueIndexProject(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"project_id": id,
		"task_id":    taskID,
		"mode":       "full",
	})
}

func (s *Server) handleSyncProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}

	if guardAlreadyIndexing(w, project) {
		return
	}

	mode := "incremental"
	if !project.IsIndexed {
		mode = "full"
	}

	taskID, err := s.queue.EnqueueSyncProject(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"project_id": id,
		"task_id":    taskID,
		"mode":       mode,
	})
}

// guardAlreadyIndexing enforces one indexing run per project. Returns true if
// it wrote the guard response.
func guardAlreadyIndexing(w http.ResponseWriter, project *repository.Project) bool {
	if project.IndexingStatus != repository.StatusIndexing && project.IndexingStatus != repository.StatusSyncing {
		return false
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "already_indexing",
		"project_id": project.ID,
		"message":    "Project is already being indexed or synced",
	})
	return true
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     project.IndexingStatus,
		"error":      project.IndexingError,
		"is_indexed": project.IsIndexed,
	})
}

func (s *Server) handleStopIndexing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}

	if project.IndexingStatus != repository.StatusIndexing && project.IndexingStatus != repository.StatusSyncing {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":     "not_indexing",
			"project_id": id,
			"message":    "Project is not currently being indexed or synced",
		})
		return
	}

	revoked, err := s.control.StopProject(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.projects.UpdateStatus(r.Context(), id, repository.StatusStopped, "Indexing stopped by user"); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "stopped",
		"project_id":    id,
		"revoked_tasks": revoked,
	})
}

func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "Project not found")
		return
	}

	if project.IndexingStatus == repository.StatusIndexing {
		respondError(w, http.StatusBadRequest, "Cannot clear index while indexing is in progress. Stop indexing first.")
		return
	}

	if err := s.indexer.ClearIndex(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "cleared",
		"project_id": id,
		"message":    "All indexed data has been removed",
	})
}
