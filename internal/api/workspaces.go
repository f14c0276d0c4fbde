package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groundloop-ai/groundloop/internal/core"
)

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.workspaces.List()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"workspaces": workspaces})
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req core.WorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}
	workspace, err := s.workspaces.Create(req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.logger.Info("workspace created",
		"workspace_id", string(workspace.ID),
		"team", workspace.TeamName)
	respondJSON(w, http.StatusCreated, workspace)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := core.WorkspaceID(chi.URLParam(r, "workspaceID"))
	workspace, err := s.workspaces.Get(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workspace)
}

// handleUpdateWorkspace accepts the same body as creation and replaces
// the mutable fields. Guardrails stay inside the policy cap.
func (s *Server) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	id := core.WorkspaceID(chi.URLParam(r, "workspaceID"))
	workspace, err := s.workspaces.Get(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req core.WorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}

	workspace.TeamName = req.TeamName
	if req.RepoURL != "" {
		workspace.RepoURL = req.RepoURL
	}
	if req.Branch != "" {
		workspace.Branch = req.Branch
	}
	if req.Guardrails != nil {
		workspace.Guardrails = *req.Guardrails
	}
	workspace.ApprovalWorkflowEnabled = req.ApprovalWorkflowEnabled
	workspace.Approvers = req.Approvers
	workspace.OKRs = req.OKRs
	workspace.NorthStarMetric = req.NorthStarMetric
	workspace.UpdatedAt = time.Now().UTC()

	if err := s.workspaces.Update(workspace); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workspace)
}
