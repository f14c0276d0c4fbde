package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/groundloop-ai/groundloop/internal/adapters/gemini"
	"github.com/groundloop-ai/groundloop/internal/api"
	"github.com/groundloop-ai/groundloop/internal/config"
	"github.com/groundloop-ai/groundloop/internal/events"
	"github.com/groundloop-ai/groundloop/internal/logging"
	"github.com/groundloop-ai/groundloop/internal/orchestrator"
	"github.com/groundloop-ai/groundloop/internal/store"
	"github.com/groundloop-ai/groundloop/internal/verify"
)

// app wires the engine's collaborators for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	runs       *store.RunStore
	workspaces *store.WorkspaceStore
	index      *store.Index
	bus        *events.Bus
	orch       *orchestrator.Orchestrator
}

// buildApp loads configuration and constructs the engine stack.
func buildApp() (*app, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	var index *store.Index
	if ix, ierr := store.OpenIndex(filepath.Join(cfg.Data.Dir, "index.db")); ierr != nil {
		logger.Warn("run index unavailable, falling back to state-file scans", "error", ierr)
	} else {
		index = ix
	}

	var runOpts []store.RunStoreOption
	if index != nil {
		runOpts = append(runOpts, store.WithIndex(index))
	}
	runs, err := store.NewRunStore(filepath.Join(cfg.Data.Dir, "runs"), runOpts...)
	if err != nil {
		return nil, err
	}
	workspaces, err := store.NewWorkspaceStore(filepath.Join(cfg.Data.Dir, "workspaces"))
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()

	orchOpts := []orchestrator.Option{
		orchestrator.WithVerifier(verify.NewRunner(
			verify.WithCommand(cfg.Verify.Command),
			verify.WithTimeout(cfg.Verify.Timeout),
		)),
	}
	if cfg.Generator.APIKey != "" {
		orchOpts = append(orchOpts, orchestrator.WithGenerator(
			gemini.NewClient(cfg.Generator.APIKey, gemini.WithModel(cfg.Generator.Model))))
	} else {
		logger.Warn("no generator API key configured, generation stages will fail fast")
	}

	orch := orchestrator.New(orchestrator.Config{
		EvidenceDir:      filepath.Join(cfg.Data.Dir, "evidence"),
		SelectionTimeout: cfg.Gates.SelectionTimeout,
		ApprovalTimeout:  cfg.Gates.ApprovalTimeout,
		PollInterval:     cfg.Gates.PollInterval,
	}, runs, workspaces, bus, logger, orchOpts...)

	return &app{
		cfg:        cfg,
		logger:     logger,
		runs:       runs,
		workspaces: workspaces,
		index:      index,
		bus:        bus,
		orch:       orch,
	}, nil
}

// apiServer builds the HTTP server over the app's engine stack.
func (a *app) apiServer() *api.Server {
	opts := []api.ServerOption{
		api.WithLogger(a.logger),
		api.WithCORS(a.cfg.Server.EnableCORS),
	}
	if a.index != nil {
		opts = append(opts, api.WithIndex(a.index))
	}
	return api.NewServer(a.orch, a.runs, a.workspaces, a.bus, opts...)
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("closing run index", "error", err)
		}
	}
}
