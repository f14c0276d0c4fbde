// Package orchestrator drives runs through the staged pipeline: one
// worker goroutine per run, durable state after every transition, and a
// top-level guard so no fault escapes a worker.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
	"github.com/groundloop-ai/groundloop/internal/events"
	"github.com/groundloop-ai/groundloop/internal/evidence"
	"github.com/groundloop-ai/groundloop/internal/logging"
	"github.com/groundloop-ai/groundloop/internal/pack"
	"github.com/groundloop-ai/groundloop/internal/patch"
	"github.com/groundloop-ai/groundloop/internal/store"
	"github.com/groundloop-ai/groundloop/internal/verify"
)

const componentOrchestrator = "orchestrator"

// Config holds engine tuning knobs.
type Config struct {
	// EvidenceDir is the default evidence bundle location when a run
	// request does not name one.
	EvidenceDir string

	// SelectionTimeout bounds the feature-selection gate wait.
	SelectionTimeout time.Duration

	// ApprovalTimeout bounds the approval gate wait.
	ApprovalTimeout time.Duration

	// PollInterval is the gate wait safety-net granularity.
	PollInterval time.Duration

	// DisposeGrace is how long a terminal run's event queue stays
	// subscribable before disposal.
	DisposeGrace time.Duration
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		EvidenceDir:      filepath.Join(".groundloop", "evidence"),
		SelectionTimeout: 300 * time.Second,
		ApprovalTimeout:  300 * time.Second,
		PollInterval:     500 * time.Millisecond,
		DisposeGrace:     30 * time.Second,
	}
}

// Orchestrator executes runs. Collaborators are injected through
// options; the defaults are the production implementations.
type Orchestrator struct {
	cfg        Config
	runs       *store.RunStore
	workspaces *store.WorkspaceStore
	bus        *events.Bus
	registry   *Registry
	packager   *pack.Packager
	logger     *logging.Logger

	generator core.Generator
	evidence  core.EvidenceChecker
	patcher   core.PatchApplier
	verifier  core.Verifier
	notifier  core.Notifier
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithGenerator sets the generation collaborator.
func WithGenerator(g core.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithEvidenceChecker sets the evidence validator.
func WithEvidenceChecker(c core.EvidenceChecker) Option {
	return func(o *Orchestrator) { o.evidence = c }
}

// WithPatchApplier sets the patch applier.
func WithPatchApplier(p core.PatchApplier) Option {
	return func(o *Orchestrator) { o.patcher = p }
}

// WithVerifier sets the verification runner.
func WithVerifier(v core.Verifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithNotifier sets the approver notifier.
func WithNotifier(n core.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator.
func New(cfg Config, runs *store.RunStore, workspaces *store.WorkspaceStore, bus *events.Bus, logger *logging.Logger, opts ...Option) *Orchestrator {
	if cfg.SelectionTimeout <= 0 {
		cfg.SelectionTimeout = DefaultConfig().SelectionTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultConfig().ApprovalTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.DisposeGrace <= 0 {
		cfg.DisposeGrace = DefaultConfig().DisposeGrace
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		runs:       runs,
		workspaces: workspaces,
		bus:        bus,
		registry:   NewRegistry(),
		packager:   pack.NewPackager(),
		logger:     logger,
		generator:  disabledGenerator{},
		evidence:   evidence.NewValidator(),
		patcher:    patch.NewApplier(),
		verifier:   verify.NewRunner(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the active-run registry, used by the API layer for
// cancellation and by the server for shutdown.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start validates the request, persists a fresh run, and launches its
// worker goroutine. It returns immediately with the run summary.
func (o *Orchestrator) Start(ctx context.Context, req core.RunRequest) (*core.RunSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ws, err := o.workspaces.Get(req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if err := ws.Guardrails.Validate(); err != nil {
		return nil, err
	}
	if req.EvidenceDir == "" {
		req.EvidenceDir = o.cfg.EvidenceDir
	}

	inputsHash := store.ComputeInputsHash(map[string]interface{}{
		"workspace_id":   string(req.WorkspaceID),
		"evidence_dir":   req.EvidenceDir,
		"goal_statement": req.GoalStatement,
		"fast_mode":      req.FastMode,
	})
	run, err := o.runs.Create(req.WorkspaceID, inputsHash)
	if err != nil {
		return nil, err
	}
	if req.SelectedFeatureIndex != nil {
		idx := *req.SelectedFeatureIndex
		run, err = o.runs.Mutate(run.ID, func(r *core.Run) error {
			r.SelectedFeatureIndex = &idx
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	workerCtx, _ := o.registry.Register(context.WithoutCancel(ctx), run.ID)
	go o.execute(workerCtx, run.ID, ws, req)

	summary := run.Summarize()
	return &summary, nil
}

// Cancel marks a run cancelled and interrupts its worker. Cancelling a
// terminal run is a no-op.
func (o *Orchestrator) Cancel(runID core.RunID, reason string) (*core.Run, error) {
	run, err := o.runs.Mutate(runID, func(r *core.Run) error {
		r.Cancel(reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.registry.Cancel(runID)
	o.publish(runID, core.NewEvent(run.CurrentStage, componentOrchestrator, core.ActionCancel, reason))
	return run, nil
}

// execute is the run worker. Exactly one guard lives here: any error or
// panic from the pipeline becomes a failure report, a best-effort
// export, and a terminal FAILED status.
func (o *Orchestrator) execute(ctx context.Context, runID core.RunID, ws *core.Workspace, req core.RunRequest) {
	log := o.logger.WithRun(string(runID)).WithWorkspace(string(ws.ID))
	w := &worker{
		o:         o,
		runID:     runID,
		ws:        ws,
		req:       req,
		log:       log,
		targetDir: filepath.Join(o.runs.RunDir(runID), "target-repo"),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("run worker panicked", "panic", fmt.Sprintf("%v", r))
			w.finishFailed(&core.DomainError{
				Category: core.ErrCatInternal,
				Code:     "WORKER_PANIC",
				Message:  fmt.Sprintf("run worker panicked: %v", r),
			})
		}
		o.registry.Remove(runID)
		o.bus.DisposeAfter(runID, o.cfg.DisposeGrace)
	}()

	if _, err := o.runs.Mutate(runID, func(r *core.Run) error {
		return r.Start()
	}); err != nil {
		log.Error("starting run", "error", err)
		w.finishFailed(err)
		return
	}
	log.Info("run started", "evidence_dir", req.EvidenceDir, "fast_mode", req.FastMode)

	if err := w.run(ctx); err != nil {
		if w.cancelled(err) {
			w.finishCancelled(err)
			return
		}
		w.finishFailed(err)
		return
	}
	w.finishCompleted()
}

// publish appends an event to the durable log and fans it out live.
func (o *Orchestrator) publish(runID core.RunID, event core.Event) {
	if err := o.runs.AppendEvent(runID, event); err != nil {
		o.logger.Warn("appending event", "run_id", string(runID), "error", err)
	}
	o.bus.Publish(runID, event)
}

// disabledGenerator is the default generation collaborator when no API
// key is configured. Primary pipeline outputs fail fast against it.
type disabledGenerator struct{}

func (disabledGenerator) Enabled() bool { return false }

func (disabledGenerator) GenerateText(context.Context, string, string, float64) (string, error) {
	return "", core.ErrGeneration(core.CodeGeneratorUnavailable, "no generator configured")
}

func (disabledGenerator) GenerateJSON(context.Context, string, string) (map[string]interface{}, error) {
	return nil, core.ErrGeneration(core.CodeGeneratorUnavailable, "no generator configured")
}
