package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// awaitFeatureSelection blocks until an external selection lands in the
// run state. Saves wake the wait promptly; the poll interval is the
// safety net for missed notifications. An expired wait is fatal.
func (w *worker) awaitFeatureSelection(ctx context.Context, candidates int) (int, error) {
	w.o.publish(w.runID, core.NewEvent(core.StageSelectFeature, componentOrchestrator,
		core.ActionSelectionRequired, fmt.Sprintf("%d candidates", candidates)))
	w.log.Info("waiting for feature selection",
		"candidates", candidates,
		"timeout", w.o.cfg.SelectionTimeout.String())

	deadline := time.Now().Add(w.o.cfg.SelectionTimeout)
	for {
		run, err := w.o.runs.Load(w.runID)
		if err != nil {
			return 0, err
		}
		if run.Status == core.RunStatusCancelled {
			return 0, core.ErrCancelled("run cancelled while awaiting feature selection")
		}
		if run.SelectedFeatureIndex != nil {
			return clampIndex(*run.SelectedFeatureIndex, candidates), nil
		}
		if ctx.Err() != nil {
			return 0, core.ErrCancelled("run cancelled while awaiting feature selection").WithCause(ctx.Err())
		}
		if time.Now().After(deadline) {
			return 0, core.ErrGateTimeout(core.CodeSelectionTimeout,
				fmt.Sprintf("no feature selected within %s", w.o.cfg.SelectionTimeout))
		}
		w.o.runs.AwaitChange(ctx, w.runID, w.o.cfg.PollInterval)
	}
}

// awaitApproval blocks until every configured approver approves. Any
// changes_requested decision, cancellation, or an expired wait is
// fatal, each with its own terminal cause.
func (w *worker) awaitApproval(ctx context.Context) error {
	w.log.Info("waiting for approval",
		"approvers", len(w.ws.Approvers),
		"timeout", w.o.cfg.ApprovalTimeout.String())

	deadline := time.Now().Add(w.o.cfg.ApprovalTimeout)
	for {
		run, err := w.o.runs.Load(w.runID)
		if err != nil {
			return err
		}
		if run.Status == core.RunStatusCancelled {
			return core.ErrCancelled("run cancelled while awaiting approval")
		}
		for approver, decision := range run.ApprovalState {
			if decision == core.ApprovalChangesRequested {
				return core.ErrValidation(core.CodeApprovalRejected,
					fmt.Sprintf("approver %s requested changes", approver))
			}
		}
		if unanimousApproval(run.ApprovalState, w.ws.Approvers) {
			return nil
		}
		if ctx.Err() != nil {
			return core.ErrCancelled("run cancelled while awaiting approval").WithCause(ctx.Err())
		}
		if time.Now().After(deadline) {
			return core.ErrGateTimeout(core.CodeApprovalTimeout,
				fmt.Sprintf("approval not granted within %s", w.o.cfg.ApprovalTimeout))
		}
		w.o.runs.AwaitChange(ctx, w.runID, w.o.cfg.PollInterval)
	}
}

func unanimousApproval(state map[string]core.ApprovalDecision, approvers []string) bool {
	if len(approvers) == 0 {
		return false
	}
	for _, approver := range approvers {
		if state[approver] != core.ApprovalApproved {
			return false
		}
	}
	return true
}
