package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
	"github.com/groundloop-ai/groundloop/internal/logging"
	"github.com/groundloop-ai/groundloop/internal/patch"
)

// worker executes one run from intake to export. It never touches run
// state directly: every transition goes through the store's per-run
// mutate lock, so external one-field updates (selection, approval,
// cancel) are never lost to the worker's own saves.
type worker struct {
	o         *Orchestrator
	runID     core.RunID
	ws        *core.Workspace
	req       core.RunRequest
	log       *logging.Logger
	targetDir string

	report      *core.EvidenceReport
	evidenceMap *core.EvidenceMap
	selected    core.Feature
	tickets     *core.TicketSet
	lastVerify  *core.VerifyResult
	changed     map[string]bool
}

// run executes the stage sequence. The first error aborts the pipeline
// and is handled by the worker's single top-level guard.
func (w *worker) run(ctx context.Context) error {
	if err := w.prepareRepository(ctx); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageIntake, w.stageIntake); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageSynthesize, w.stageSynthesize); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageSelectFeature, w.stageSelectFeature); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageGeneratePRD, w.stageGeneratePRD); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageGenerateDesign, w.stageGenerateDesign); err != nil {
		return err
	}
	if w.ws.ApprovalWorkflowEnabled {
		if err := w.runStage(ctx, core.StageAwaitingApproval, w.gateApproval); err != nil {
			return err
		}
	}
	if err := w.runStage(ctx, core.StageGenerateTickets, w.stageGenerateTickets); err != nil {
		return err
	}
	if err := w.runStage(ctx, core.StageImplement, w.stageImplement); err != nil {
		return err
	}
	verifyErr := w.verifyWithSelfHeal(ctx)
	if verifyErr != nil && !core.IsRetryable(verifyErr) {
		return verifyErr
	}
	// An exhausted retry budget still exports: the summary and bundle
	// record the failing result, and the final status comes from the
	// last verification exit code.
	if err := w.runStage(ctx, core.StageExport, w.stageExport); err != nil {
		return err
	}
	return verifyErr
}

// verifyWithSelfHeal runs VERIFY, and while it fails and the retry
// budget allows, runs one SELF_HEAL then VERIFY again. Only
// verification failures are retryable; every other error is fatal.
// When the budget runs out the last verification error is returned,
// still marked retryable, so the caller can export before failing.
func (w *worker) verifyWithSelfHeal(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		n := attempt
		err := w.runStage(ctx, core.StageVerify, func(ctx context.Context) error {
			return w.stageVerify(ctx, n)
		})
		if err == nil {
			return nil
		}
		if !core.IsRetryable(err) {
			return err
		}

		run, lerr := w.o.runs.Load(w.runID)
		if lerr != nil {
			return lerr
		}
		if run.RetryCount >= w.ws.Guardrails.MaxRetries {
			w.log.Info("retry budget exhausted",
				"retry_count", run.RetryCount,
				"max_retries", w.ws.Guardrails.MaxRetries)
			return err
		}
		if _, merr := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
			if ierr := r.IncrementRetry(w.ws.Guardrails.MaxRetries); ierr != nil {
				return ierr
			}
			r.Status = core.RunStatusRetrying
			return nil
		}); merr != nil {
			return merr
		}

		if healErr := w.runStage(ctx, core.StageSelfHeal, w.stageSelfHeal); healErr != nil {
			return healErr
		}
		if _, merr := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
			r.Status = core.RunStatusRunning
			return nil
		}); merr != nil {
			return merr
		}
	}
}

// runStage wraps one stage execution: stage_start event, optimistic
// state save, the work itself, then the history record and stage_end
// event. stage_end always carries the stage's wall-clock latency.
func (w *worker) runStage(ctx context.Context, stage core.Stage, fn func(context.Context) error) error {
	if err := w.checkCancelled(ctx); err != nil {
		return err
	}
	started := time.Now().UTC()
	w.o.publish(w.runID, core.NewEvent(stage, componentOrchestrator, core.ActionStageStart, "started"))
	if _, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.CurrentStage = stage
		return nil
	}); err != nil {
		return err
	}
	w.log.Info("stage started", "stage", string(stage))

	err := fn(ctx)

	outcome := core.StageOutcomeDone
	errText := ""
	result := "ok"
	if err != nil {
		outcome = core.StageOutcomeFailed
		errText = err.Error()
		result = "error"
	}
	if _, serr := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.RecordStage(stage, outcome, started, errText)
		return nil
	}); serr != nil && err == nil {
		err = serr
	}
	w.o.publish(w.runID, core.NewEvent(stage, componentOrchestrator, core.ActionStageEnd, result).
		WithLatency(time.Since(started)).
		WithError(err))
	w.log.Info("stage finished", "stage", string(stage), "outcome", string(outcome))
	return err
}

func (w *worker) stageIntake(ctx context.Context) error {
	report, err := w.o.evidence.Validate(w.req.EvidenceDir)
	if err != nil {
		return core.ErrInfrastructure("validating evidence bundle").WithCause(err)
	}
	w.report = report
	if werr := w.writeJSONArtifact("intake-report.json", report); werr != nil {
		return werr
	}
	if !report.Valid {
		return core.ErrValidation(core.CodeEvidenceInvalid,
			fmt.Sprintf("evidence bundle invalid: %s", strings.Join(report.Errors, "; ")))
	}
	w.log.Info("evidence validated",
		"quality_score", report.QualityScore,
		"stack", report.StackDetected,
		"missing_fields", len(report.MissingFields))
	return nil
}

func (w *worker) stageSynthesize(ctx context.Context) error {
	payload, err := w.o.generator.GenerateJSON(ctx, promptSynthesizeSystem, w.synthesizeUserPrompt())
	if err != nil {
		return err
	}
	m := core.NormalizeEvidenceMap(payload)
	if err := m.Validate(); err != nil {
		return err
	}
	w.evidenceMap = m
	if err := w.writeJSONArtifact("evidence-map.json", m); err != nil {
		return err
	}
	if _, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.TopFeatures = m.TopFeatures
		return nil
	}); err != nil {
		return err
	}
	w.log.Info("evidence synthesized",
		"claims", len(m.Claims),
		"top_features", len(m.TopFeatures))
	return nil
}

func (w *worker) stageSelectFeature(ctx context.Context) error {
	run, err := w.o.runs.Load(w.runID)
	if err != nil {
		return err
	}
	n := len(run.TopFeatures)
	if n == 0 {
		return core.ErrState(core.CodeInvalidState, "no candidate features to select from")
	}

	var idx int
	switch {
	case run.SelectedFeatureIndex != nil:
		idx = clampIndex(*run.SelectedFeatureIndex, n)
	case w.req.FastMode:
		idx = 0
	default:
		idx, err = w.awaitFeatureSelection(ctx, n)
		if err != nil {
			return err
		}
	}

	selected := run.TopFeatures[idx]
	w.selected = selected
	if _, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.SelectedFeature = &selected
		r.SelectedFeatureIndex = &idx
		return nil
	}); err != nil {
		return err
	}
	w.o.publish(w.runID, core.NewEvent(core.StageSelectFeature, componentOrchestrator,
		core.ActionFeatureSelected, selected.Feature))

	if err := w.writeJSONArtifact("selected-feature.json", selected); err != nil {
		return err
	}
	if w.evidenceMap != nil {
		w.evidenceMap.ApplyFeatureChoice(selected)
		if err := w.writeJSONArtifact("evidence-map.json", w.evidenceMap); err != nil {
			return err
		}
	}
	w.log.Info("feature selected", "index", idx, "feature", selected.Feature)
	return nil
}

func (w *worker) stageGeneratePRD(ctx context.Context) error {
	text, err := w.o.generator.GenerateText(ctx, promptPRDSystem, w.prdUserPrompt(), 0.4)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.ErrGeneration(core.CodeGeneratorInvalid, "empty PRD output")
	}
	if !strings.HasPrefix(text, "#") {
		text = "# " + w.selected.Feature + "\n\n" + text
	}
	return w.writeTextArtifact("PRD.md", text+"\n")
}

// stageGenerateDesign produces the secondary design artifacts. They
// degrade to placeholders on generation failure instead of failing the
// run.
func (w *worker) stageGenerateDesign(ctx context.Context) error {
	wireframes, err := w.o.generator.GenerateText(ctx, promptWireframesSystem, w.designUserPrompt(), 0.5)
	if err != nil || strings.TrimSpace(wireframes) == "" {
		w.log.Warn("wireframe generation degraded to placeholder", "error", err)
		wireframes = placeholderWireframes(w.selected.Feature)
	}
	if werr := w.writeTextArtifact("wireframes.html", strings.TrimSpace(wireframes)+"\n"); werr != nil {
		return werr
	}

	flow, err := w.o.generator.GenerateText(ctx, promptUserFlowSystem, w.designUserPrompt(), 0.5)
	if err != nil || strings.TrimSpace(flow) == "" {
		w.log.Warn("user-flow generation degraded to placeholder", "error", err)
		flow = placeholderUserFlow(w.selected.Feature)
	}
	return w.writeTextArtifact("user-flow.mmd", strings.TrimSpace(flow)+"\n")
}

// gateApproval parks the run in AWAITING_APPROVAL until every approver
// approves, anyone requests changes, the wait times out, or the run is
// cancelled. Only unanimous approval resumes the pipeline.
func (w *worker) gateApproval(ctx context.Context) error {
	run, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.Status = core.RunStatusAwaitingApproval
		return nil
	})
	if err != nil {
		return err
	}
	w.o.publish(w.runID, core.NewEvent(core.StageAwaitingApproval, componentOrchestrator,
		core.ActionApprovalRequired, fmt.Sprintf("%d approvers", len(w.ws.Approvers))))

	if w.o.notifier != nil {
		if nerr := w.o.notifier.NotifyApprovers(ctx, run, w.ws.Approvers); nerr != nil {
			w.log.Warn("notifying approvers", "error", nerr)
		}
	}

	if err := w.awaitApproval(ctx); err != nil {
		return err
	}
	_, err = w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.Status = core.RunStatusRunning
		return nil
	})
	return err
}

func (w *worker) stageGenerateTickets(ctx context.Context) error {
	payload, err := w.o.generator.GenerateJSON(ctx, promptTicketsSystem, w.ticketsUserPrompt())
	if err != nil {
		return err
	}
	ts := core.NormalizeTicketSet(payload)
	if err := ts.Validate(); err != nil {
		return err
	}
	w.tickets = ts
	if err := w.writeJSONArtifact("tickets.json", ts); err != nil {
		return err
	}
	w.log.Info("tickets generated",
		"tickets", len(ts.Tickets),
		"estimate_hours", ts.TotalEstimateHours())
	return nil
}

// stageImplement generates the initial unified diff and applies it
// under the workspace guardrails. A rejected patch earns exactly one
// in-place regeneration with the rejection folded into the prompt.
func (w *worker) stageImplement(ctx context.Context) error {
	userPrompt := w.implementUserPrompt()
	diff, err := w.o.generator.GenerateText(ctx, promptImplementSystem, userPrompt, 0.2)
	if err != nil {
		return err
	}
	result, err := w.applyDiff(ctx, diff)
	if err != nil {
		var perr *patch.Error
		if !errors.As(err, &perr) {
			return err
		}
		w.log.Warn("patch rejected, regenerating once",
			"kind", string(perr.Kind), "path", perr.Path)
		retryPrompt := fmt.Sprintf("%s\n\nThe previous diff was rejected (%s): %s\nProduce a corrected unified diff.",
			userPrompt, perr.Kind, perr.Message)
		diff, err = w.o.generator.GenerateText(ctx, promptImplementSystem, retryPrompt, 0.2)
		if err != nil {
			return err
		}
		result, err = w.applyDiff(ctx, diff)
		if err != nil {
			return w.asDomainError(err)
		}
	}
	w.addChanged(result.FilesModified)
	w.log.Info("patch applied",
		"strategy", result.Strategy,
		"files_modified", len(result.FilesModified))

	if w.ws.Guardrails.Mode == core.ModePR {
		if werr := w.writeTextArtifact("pr-notes.md", w.prNotesMarkdown(result)); werr != nil {
			w.log.Warn("writing pr notes", "error", werr)
		}
	}
	return nil
}

// stageVerify runs the allow-listed verification command and records
// its report. A failing verification returns a retryable error; the
// caller owns the retry decision.
func (w *worker) stageVerify(ctx context.Context, attempt int) error {
	result, err := w.o.verifier.Run(ctx, w.targetDir)
	if err != nil {
		return core.ErrInfrastructure("running verification").WithCause(err)
	}
	w.lastVerify = result

	if werr := w.writeTextArtifact("test-report.md", w.testReportMarkdown(result, attempt)); werr != nil {
		return werr
	}
	outcome := "pass"
	if !result.Passed() {
		outcome = "fail"
	}
	w.o.publish(w.runID, core.NewEvent(core.StageVerify, componentOrchestrator,
		core.ActionVerification, outcome).WithLatency(result.Duration))
	w.log.Info("verification finished",
		"attempt", attempt,
		"exit_code", result.ExitCode,
		"duration", result.Duration.String())

	if !result.Passed() {
		return core.ErrVerification(result.Summary)
	}
	return nil
}

// stageSelfHeal asks the generator for a corrective diff built from the
// failure output and the current contents of the touched files, then
// applies it. There is no regeneration here: a rejected heal patch is
// fatal.
func (w *worker) stageSelfHeal(ctx context.Context) error {
	if w.lastVerify == nil {
		return core.ErrState(core.CodeInvalidState, "self-heal without a verification result")
	}
	diff, err := w.o.generator.GenerateText(ctx, promptSelfHealSystem, w.selfHealUserPrompt(), 0.2)
	if err != nil {
		return err
	}
	result, err := w.applyDiff(ctx, diff)
	if err != nil {
		return w.asDomainError(err)
	}
	w.addChanged(result.FilesModified)
	w.log.Info("corrective patch applied",
		"strategy", result.Strategy,
		"files_modified", len(result.FilesModified))
	return nil
}

func (w *worker) stageExport(ctx context.Context) error {
	run, err := w.o.runs.Load(w.runID)
	if err != nil {
		return err
	}
	summary := buildRunSummary(run, w.tickets, w.lastVerify, w.filesChanged())
	if err := w.writeJSONArtifact("run-summary.json", summary); err != nil {
		return err
	}
	if _, err := w.o.packager.Package(w.o.runs.ArtifactsDir(w.runID), run.StageHistory); err != nil {
		return core.ErrInfrastructure("packaging artifacts").WithCause(err)
	}
	if _, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.OutputsIndex["manifest.json"] = filepath.Join("artifacts", "manifest.json")
		r.OutputsIndex["artifacts.zip"] = filepath.Join("artifacts", "artifacts.zip")
		return nil
	}); err != nil {
		return err
	}
	w.log.Info("artifacts exported", "outputs", len(run.OutputsIndex)+2)
	return nil
}

// applyDiff sanitizes the generated diff, persists it as the diff.patch
// artifact, and applies it to the target tree.
func (w *worker) applyDiff(ctx context.Context, raw string) (*core.PatchResult, error) {
	sanitized := patch.Sanitize(raw)
	if werr := w.writeTextArtifact("diff.patch", sanitized); werr != nil {
		return nil, werr
	}
	return w.o.patcher.Apply(ctx, sanitized, w.targetDir, w.ws.Guardrails.ForbiddenPaths)
}

func (w *worker) asDomainError(err error) error {
	var perr *patch.Error
	if errors.As(err, &perr) {
		return perr.DomainError()
	}
	return err
}

func (w *worker) addChanged(files []string) {
	if w.changed == nil {
		w.changed = make(map[string]bool)
	}
	for _, f := range files {
		w.changed[f] = true
	}
}

func (w *worker) filesChanged() []string {
	files := make([]string, 0, len(w.changed))
	for f := range w.changed {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// checkCancelled aborts the pipeline when the worker context is done or
// the run was cancelled externally.
func (w *worker) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return core.ErrCancelled("run cancelled").WithCause(ctx.Err())
	}
	run, err := w.o.runs.Load(w.runID)
	if err != nil {
		return err
	}
	if run.Status == core.RunStatusCancelled {
		return core.ErrCancelled("run cancelled")
	}
	return nil
}

func (w *worker) cancelled(err error) bool {
	return core.IsCategory(err, core.ErrCatCancelled) ||
		errors.Is(err, context.Canceled)
}

func (w *worker) finishCompleted() {
	run, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.Complete()
		return nil
	})
	if err != nil {
		w.log.Error("completing run", "error", err)
		return
	}
	w.o.publish(w.runID, core.NewEvent(run.CurrentStage, componentOrchestrator,
		core.ActionRunCompleted, "completed").WithLatency(run.Duration()))
	w.log.Info("run completed",
		"retry_count", run.RetryCount,
		"duration", run.Duration().String())
}

// finishFailed is the terminal path of the worker guard: failure report
// artifact, best-effort export, then FAILED state.
func (w *worker) finishFailed(cause error) {
	run, lerr := w.o.runs.Load(w.runID)
	if lerr != nil {
		w.log.Error("loading run for failure handling", "error", lerr)
	}
	if run != nil && run.IsTerminal() {
		return
	}

	if run != nil {
		if werr := w.writeTextArtifact("failure-report.md", w.failureReportMarkdown(run, cause)); werr != nil {
			w.log.Warn("writing failure report", "error", werr)
		}
		if _, perr := w.o.packager.Package(w.o.runs.ArtifactsDir(w.runID), run.StageHistory); perr != nil {
			w.log.Warn("best-effort export after failure", "error", perr)
		}
	}

	run, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.Fail(cause)
		return nil
	})
	if err != nil {
		w.log.Error("failing run", "error", err)
		return
	}
	w.o.publish(w.runID, core.NewEvent(run.CurrentStage, componentOrchestrator,
		core.ActionRunFailed, string(core.GetCategory(cause))).WithError(cause))
	w.log.Error("run failed",
		"category", string(core.GetCategory(cause)),
		"error", cause)
}

func (w *worker) finishCancelled(cause error) {
	run, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.Cancel("run cancelled")
		return nil
	})
	if err != nil {
		w.log.Error("cancelling run", "error", err)
		return
	}
	w.log.Info("run cancelled", "stage", string(run.CurrentStage), "cause", cause)
}

// writeJSONArtifact writes an indented JSON artifact and records it in
// the run's outputs index.
func (w *worker) writeJSONArtifact(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return core.ErrInfrastructure("marshaling artifact " + name).WithCause(err)
	}
	return w.writeArtifact(name, append(data, '\n'))
}

func (w *worker) writeTextArtifact(name, content string) error {
	return w.writeArtifact(name, []byte(content))
}

func (w *worker) writeArtifact(name string, data []byte) error {
	dir := w.o.runs.ArtifactsDir(w.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.ErrInfrastructure("creating artifacts directory").WithCause(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return core.ErrInfrastructure("writing artifact " + name).WithCause(err)
	}
	_, err := w.o.runs.Mutate(w.runID, func(r *core.Run) error {
		r.OutputsIndex[name] = filepath.Join("artifacts", name)
		return nil
	})
	return err
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
