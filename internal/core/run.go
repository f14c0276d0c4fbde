// Package core defines the run orchestration domain: runs, stages,
// workspaces, events, and the ports the engine consumes.
package core

import (
	"fmt"
	"time"
)

// RunID uniquely identifies a pipeline run.
type RunID string

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusRetrying         RunStatus = "retrying"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
	RunStatusCancelled        RunStatus = "cancelled"
)

// StageOutcome is the recorded result of one stage execution.
type StageOutcome string

const (
	StageOutcomeDone    StageOutcome = "done"
	StageOutcomeFailed  StageOutcome = "failed"
	StageOutcomeSkipped StageOutcome = "skipped"
)

// StageRecord is one entry in a run's ordered stage history.
type StageRecord struct {
	Stage       Stage        `json:"stage"`
	Outcome     StageOutcome `json:"outcome"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ApprovalDecision is one approver's recorded verdict.
type ApprovalDecision string

const (
	ApprovalApproved         ApprovalDecision = "approved"
	ApprovalChangesRequested ApprovalDecision = "changes_requested"
)

// Run is one complete execution of the staged pipeline for a workspace.
// The worker goroutine owns it for bulk mutation; the narrow external
// entry points (feature selection, approval, cancel) mutate exactly one
// field each by reload-mutate-save through the store.
type Run struct {
	ID                   RunID                       `json:"run_id"`
	WorkspaceID          WorkspaceID                 `json:"workspace_id"`
	Status               RunStatus                   `json:"status"`
	CurrentStage         Stage                       `json:"current_stage,omitempty"`
	RetryCount           int                         `json:"retry_count"`
	StageHistory         []StageRecord               `json:"stage_history"`
	TopFeatures          []Feature                   `json:"top_features,omitempty"`
	SelectedFeature      *Feature                    `json:"selected_feature,omitempty"`
	SelectedFeatureIndex *int                        `json:"selected_feature_index,omitempty"`
	ApprovalState        map[string]ApprovalDecision `json:"approval_state,omitempty"`
	OutputsIndex         map[string]string           `json:"outputs_index"`
	InputsHash           string                      `json:"inputs_hash"`
	LastError            string                      `json:"last_error,omitempty"`
	CreatedAt            time.Time                   `json:"created_at"`
	StartedAt            *time.Time                  `json:"started_at,omitempty"`
	CompletedAt          *time.Time                  `json:"completed_at,omitempty"`
}

// NewRun creates a run in its initial state.
func NewRun(id RunID, workspaceID WorkspaceID, inputsHash string) *Run {
	return &Run{
		ID:           id,
		WorkspaceID:  workspaceID,
		Status:       RunStatusPending,
		StageHistory: make([]StageRecord, 0),
		OutputsIndex: make(map[string]string),
		InputsHash:   inputsHash,
		CreatedAt:    time.Now().UTC(),
	}
}

// Start transitions the run to running.
func (r *Run) Start() error {
	if r.Status != RunStatusPending {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot start run in %s state", r.Status))
	}
	r.Status = RunStatusRunning
	now := time.Now().UTC()
	r.StartedAt = &now
	return nil
}

// RecordStage appends a completed stage to the history.
func (r *Run) RecordStage(stage Stage, outcome StageOutcome, startedAt time.Time, errText string) {
	now := time.Now().UTC()
	r.StageHistory = append(r.StageHistory, StageRecord{
		Stage:       stage,
		Outcome:     outcome,
		StartedAt:   startedAt,
		CompletedAt: &now,
		Error:       errText,
	})
}

// IncrementRetry bumps the retry counter, enforcing the budget.
func (r *Run) IncrementRetry(maxRetries int) error {
	if r.RetryCount >= maxRetries {
		return ErrState(CodeInvalidState,
			fmt.Sprintf("retry budget exhausted: %d of %d", r.RetryCount, maxRetries))
	}
	r.RetryCount++
	return nil
}

// Complete marks the run terminal with success.
func (r *Run) Complete() {
	r.Status = RunStatusCompleted
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Fail marks the run terminal with failure. It is a no-op on runs
// that already reached a terminal state, so a concurrent cancel is
// never overwritten.
func (r *Run) Fail(err error) {
	if r.IsTerminal() {
		return
	}
	r.Status = RunStatusFailed
	if err != nil {
		r.LastError = err.Error()
	}
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Cancel marks the run terminal as cancelled. It is a no-op on runs
// that already reached a terminal state.
func (r *Run) Cancel(reason string) {
	if r.IsTerminal() {
		return
	}
	r.Status = RunStatusCancelled
	r.LastError = reason
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// IsTerminal returns true if the run reached a terminal status.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted ||
		r.Status == RunStatusFailed ||
		r.Status == RunStatusCancelled
}

// Duration returns the wall-clock execution time so far.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}

// StageRecords returns the history entries for a given stage.
func (r *Run) StageRecords(stage Stage) []StageRecord {
	var records []StageRecord
	for _, rec := range r.StageHistory {
		if rec.Stage == stage {
			records = append(records, rec)
		}
	}
	return records
}

// Validate checks run invariants.
func (r *Run) Validate() error {
	if r.ID == "" {
		return ErrValidation("RUN_ID_REQUIRED", "run ID cannot be empty")
	}
	if r.WorkspaceID == "" {
		return ErrValidation("WORKSPACE_ID_REQUIRED", "run must reference a workspace")
	}
	if r.RetryCount < 0 || r.RetryCount > MaxRetriesCap {
		return ErrValidation("RETRY_COUNT_RANGE",
			fmt.Sprintf("retry count %d outside [0, %d]", r.RetryCount, MaxRetriesCap))
	}
	return nil
}

// RunSummary is the immediate response to a run creation request.
type RunSummary struct {
	RunID         RunID                       `json:"run_id"`
	Status        RunStatus                   `json:"status"`
	CurrentStage  Stage                       `json:"current_stage,omitempty"`
	RetryCount    int                         `json:"retry_count"`
	OutputsIndex  map[string]string           `json:"outputs_index"`
	ApprovalState map[string]ApprovalDecision `json:"approval_state,omitempty"`
	LastError     string                      `json:"last_error,omitempty"`
}

// Summarize produces the external view of a run.
func (r *Run) Summarize() RunSummary {
	return RunSummary{
		RunID:         r.ID,
		Status:        r.Status,
		CurrentStage:  r.CurrentStage,
		RetryCount:    r.RetryCount,
		OutputsIndex:  r.OutputsIndex,
		ApprovalState: r.ApprovalState,
		LastError:     r.LastError,
	}
}

// RunRequest describes a client request to start a run.
type RunRequest struct {
	WorkspaceID          WorkspaceID `json:"workspace_id"`
	EvidenceDir          string      `json:"evidence_dir,omitempty"`
	GoalStatement        string      `json:"goal_statement,omitempty"`
	FastMode             bool        `json:"fast_mode"`
	SelectedFeatureIndex *int        `json:"selected_feature_index,omitempty"`
}

// Validate checks request invariants.
func (req *RunRequest) Validate() error {
	if req.WorkspaceID == "" {
		return ErrValidation("WORKSPACE_ID_REQUIRED", "workspace_id is required")
	}
	if req.SelectedFeatureIndex != nil && *req.SelectedFeatureIndex < 0 {
		return ErrValidation("FEATURE_INDEX_RANGE", "selected_feature_index cannot be negative")
	}
	return nil
}
