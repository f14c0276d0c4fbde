package core

import (
	"fmt"
	"strings"
	"time"
)

// WorkspaceID uniquely identifies a configured target.
type WorkspaceID string

// WorkspaceMode controls whether runs may submit changes outward.
type WorkspaceMode string

const (
	ModeReadOnly WorkspaceMode = "read_only"
	ModePR       WorkspaceMode = "pr"
)

// MaxRetriesCap is the hard policy ceiling on the self-heal budget.
const MaxRetriesCap = 2

// Guardrails is the safety policy every run executes under.
type Guardrails struct {
	MaxRetries     int           `json:"max_retries"`
	Mode           WorkspaceMode `json:"mode"`
	ForbiddenPaths []string      `json:"forbidden_paths"`
}

// DefaultGuardrails returns the stock policy.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		MaxRetries:     MaxRetriesCap,
		Mode:           ModeReadOnly,
		ForbiddenPaths: []string{"/infra", "/payments"},
	}
}

// Validate enforces guardrail invariants, notably the retry cap.
func (g *Guardrails) Validate() error {
	if g.MaxRetries < 0 || g.MaxRetries > MaxRetriesCap {
		return ErrValidation("MAX_RETRIES_RANGE",
			fmt.Sprintf("max_retries %d outside [0, %d]", g.MaxRetries, MaxRetriesCap))
	}
	switch g.Mode {
	case ModeReadOnly, ModePR:
	default:
		return ErrValidation("INVALID_MODE", fmt.Sprintf("unknown workspace mode: %s", g.Mode))
	}
	return nil
}

// Workspace is a configured target repository plus safety policy.
type Workspace struct {
	ID                      WorkspaceID         `json:"workspace_id"`
	TeamName                string              `json:"team_name"`
	RepoURL                 string              `json:"repo_url"`
	Branch                  string              `json:"branch"`
	Guardrails              Guardrails          `json:"guardrails"`
	ApprovalWorkflowEnabled bool                `json:"approval_workflow_enabled"`
	Approvers               []string            `json:"approvers,omitempty"`
	OKRs                    []string            `json:"okrs,omitempty"`
	NorthStarMetric         string              `json:"north_star_metric,omitempty"`
	TeamRoles               map[string]string   `json:"team_roles,omitempty"`
	IntegrationConfig       map[string]KVConfig `json:"integration_config,omitempty"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// KVConfig holds opaque per-integration settings.
type KVConfig map[string]string

// WorkspaceRequest is a client request to create a workspace.
type WorkspaceRequest struct {
	TeamName                string      `json:"team_name"`
	RepoURL                 string      `json:"repo_url,omitempty"`
	Branch                  string      `json:"branch,omitempty"`
	Guardrails              *Guardrails `json:"guardrails,omitempty"`
	ApprovalWorkflowEnabled bool        `json:"approval_workflow_enabled"`
	Approvers               []string    `json:"approvers,omitempty"`
	OKRs                    []string    `json:"okrs,omitempty"`
	NorthStarMetric         string      `json:"north_star_metric,omitempty"`
}

// Validate checks request invariants.
func (req *WorkspaceRequest) Validate() error {
	if strings.TrimSpace(req.TeamName) == "" {
		return ErrValidation("TEAM_NAME_REQUIRED", "team_name is required")
	}
	if req.Guardrails != nil {
		if err := req.Guardrails.Validate(); err != nil {
			return err
		}
	}
	if req.ApprovalWorkflowEnabled && len(req.Approvers) == 0 {
		return ErrValidation("APPROVERS_REQUIRED",
			"approval workflow requires at least one approver")
	}
	return nil
}

// NewWorkspace builds a workspace from a validated request.
func NewWorkspace(id WorkspaceID, req WorkspaceRequest) *Workspace {
	guardrails := DefaultGuardrails()
	if req.Guardrails != nil {
		guardrails = *req.Guardrails
	}
	repoURL := req.RepoURL
	if repoURL == "" {
		repoURL = "local://target-repo"
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}
	now := time.Now().UTC()
	return &Workspace{
		ID:                      id,
		TeamName:                req.TeamName,
		RepoURL:                 repoURL,
		Branch:                  branch,
		Guardrails:              guardrails,
		ApprovalWorkflowEnabled: req.ApprovalWorkflowEnabled,
		Approvers:               req.Approvers,
		OKRs:                    req.OKRs,
		NorthStarMetric:         req.NorthStarMetric,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// IsLocal reports whether the workspace targets the bundled local repo.
func (w *Workspace) IsLocal() bool {
	return w.RepoURL == "" || strings.HasPrefix(w.RepoURL, "local://")
}
