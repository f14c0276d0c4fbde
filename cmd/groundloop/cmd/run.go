package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundloop-ai/groundloop/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and stream its events",
	Long: `Execute a single pipeline run against a workspace and follow its
events until the run reaches a terminal state.

When no workspace is given, a local read-only workspace named after the
team "local" is created (or reused) with default guardrails.

Examples:
  # Fast mode: auto-select the top-ranked feature
  groundloop run --evidence-dir ./evidence --fast

  # Pre-select the second candidate feature
  groundloop run --evidence-dir ./evidence --feature-index 1`,
	RunE: runRun,
}

var (
	runWorkspaceID  string
	runEvidenceDir  string
	runGoal         string
	runFast         bool
	runFeatureIndex int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runWorkspaceID, "workspace", "",
		"workspace ID to run against (default: a local workspace)")
	runCmd.Flags().StringVar(&runEvidenceDir, "evidence-dir", "",
		"evidence bundle directory")
	runCmd.Flags().StringVar(&runGoal, "goal", "",
		"optional goal statement guiding synthesis")
	runCmd.Flags().BoolVar(&runFast, "fast", false,
		"fast mode: auto-select the top-ranked feature")
	runCmd.Flags().IntVar(&runFeatureIndex, "feature-index", -1,
		"pre-select a candidate feature by index")
}

func runRun(_ *cobra.Command, _ []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workspaceID, err := resolveWorkspace(app)
	if err != nil {
		return err
	}

	req := core.RunRequest{
		WorkspaceID:   workspaceID,
		EvidenceDir:   runEvidenceDir,
		GoalStatement: runGoal,
		FastMode:      runFast,
	}
	if runFeatureIndex >= 0 {
		idx := runFeatureIndex
		req.SelectedFeatureIndex = &idx
	}

	summary, err := app.orch.Start(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run %s started\n", summary.RunID)

	followRun(ctx, app, summary.RunID)

	run, err := app.runs.Load(summary.RunID)
	if err != nil {
		return err
	}
	if err := printSummary(run); err != nil {
		return err
	}

	if run.Status != core.RunStatusCompleted {
		return fmt.Errorf("run finished with status %s", run.Status)
	}
	return nil
}

// resolveWorkspace returns the requested workspace or creates the local
// default one.
func resolveWorkspace(app *app) (core.WorkspaceID, error) {
	if runWorkspaceID != "" {
		ws, err := app.workspaces.Get(core.WorkspaceID(runWorkspaceID))
		if err != nil {
			return "", err
		}
		return ws.ID, nil
	}

	existing, err := app.workspaces.List()
	if err != nil {
		return "", err
	}
	for _, ws := range existing {
		if ws.TeamName == "local" && ws.IsLocal() {
			return ws.ID, nil
		}
	}
	ws, err := app.workspaces.Create(core.WorkspaceRequest{TeamName: "local"})
	if err != nil {
		return "", err
	}
	app.logger.Info("created local workspace", "workspace_id", string(ws.ID))
	return ws.ID, nil
}

// followRun prints events until the run publishes a terminal event or
// the context is cancelled. Ctrl-C cancels the run before returning.
func followRun(ctx context.Context, app *app, runID core.RunID) {
	ch := app.bus.Subscribe(runID)
	defer app.bus.Unsubscribe(runID, ch)

	for {
		select {
		case <-ctx.Done():
			if _, err := app.orch.Cancel(runID, "interrupted"); err != nil {
				fmt.Fprintf(os.Stderr, "cancelling run: %v\n", err)
			}
			return
		case event, open := <-ch:
			if !open {
				return
			}
			printEvent(event)
			switch event.Action {
			case core.ActionRunCompleted, core.ActionRunFailed, core.ActionCancel:
				return
			}
		}
	}
}

func printEvent(event core.Event) {
	line := fmt.Sprintf("%s  %-18s %-28s %s",
		event.Timestamp.Format("15:04:05"), event.Stage, event.Action, event.Outcome)
	if event.Error != "" {
		line += "  error=" + event.Error
	}
	fmt.Println(line)
}
