package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const defaultListLimit = 50

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req core.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := s.orch.Start(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, summary)
}

// handleListRuns serves from the derived index when available and falls
// back to scanning state files otherwise.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspace_id"))
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	if s.index != nil {
		rows, err := s.index.List(workspaceID, limit)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"runs": rows})
		return
	}

	ids, err := s.runs.ListIDs()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	summaries := make([]core.RunSummary, 0, limit)
	for _, id := range ids {
		if len(summaries) >= limit {
			break
		}
		run, lerr := s.runs.Load(id)
		if lerr != nil {
			continue
		}
		if workspaceID != "" && run.WorkspaceID != workspaceID {
			continue
		}
		summaries = append(summaries, run.Summarize())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": summaries})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Load(core.RunID(chi.URLParam(r, "runID")))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type selectFeatureRequest struct {
	SelectedIndex int `json:"selected_index"`
}

// handleSelectFeature records the external feature choice as a single
// field under the store's per-run lock; the worker picks it up on its
// next wakeup.
func (s *Server) handleSelectFeature(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	var req selectFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SelectedIndex < 0 {
		respondError(w, http.StatusUnprocessableEntity, "selected_index cannot be negative")
		return
	}

	run, err := s.runs.Mutate(runID, func(run *core.Run) error {
		if run.IsTerminal() {
			return core.ErrState(core.CodeInvalidState, "run already finished")
		}
		idx := req.SelectedIndex
		run.SelectedFeatureIndex = &idx
		return nil
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run.Summarize())
}

type approveRequest struct {
	Approver string `json:"approver"`
	Decision string `json:"decision"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Approver) == "" {
		respondError(w, http.StatusUnprocessableEntity, "approver is required")
		return
	}
	decision := core.ApprovalDecision(req.Decision)
	if decision != core.ApprovalApproved && decision != core.ApprovalChangesRequested {
		respondError(w, http.StatusUnprocessableEntity,
			"decision must be approved or changes_requested")
		return
	}

	run, err := s.runs.Mutate(runID, func(run *core.Run) error {
		if run.IsTerminal() {
			return core.ErrState(core.CodeInvalidState, "run already finished")
		}
		if run.ApprovalState == nil {
			run.ApprovalState = make(map[string]core.ApprovalDecision)
		}
		run.ApprovalState[req.Approver] = decision
		return nil
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.publish(runID, core.NewEvent(core.StageAwaitingApproval, "api",
		core.ActionApprovalRecorded, string(decision)))
	respondJSON(w, http.StatusOK, run.Summarize())
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	run, err := s.orch.Cancel(runID, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run.Summarize())
}

// artifactInfo describes one downloadable artifact.
type artifactInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	if !s.runs.Exists(runID) {
		respondDomainError(w, core.ErrNotFound("run", string(runID)))
		return
	}

	entries, err := os.ReadDir(s.runs.ArtifactsDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			respondJSON(w, http.StatusOK, map[string]interface{}{"artifacts": []artifactInfo{}})
			return
		}
		respondError(w, http.StatusInternalServerError, "reading artifacts directory")
		return
	}

	artifacts := make([]artifactInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, ierr := entry.Info()
		if ierr != nil {
			continue
		}
		artifacts = append(artifacts, artifactInfo{Name: entry.Name(), Size: info.Size()})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}

	path := filepath.Join(s.runs.ArtifactsDir(runID), name)
	if _, err := os.Stat(path); err != nil {
		respondDomainError(w, core.ErrNotFound("artifact", name))
		return
	}
	http.ServeFile(w, r, path)
}
