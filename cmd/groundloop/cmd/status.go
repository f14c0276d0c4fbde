package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundloop-ai/groundloop/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the current state of a run",
	Long: `Show a run's summary from its durable state file.

With --follow, watch the state file and reprint the summary on every
change until the run reaches a terminal state. This works against runs
owned by another process, such as a groundloop server.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusFollow bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false,
		"watch for state changes until the run finishes")
}

func runStatus(_ *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	runID := core.RunID(args[0])
	run, err := app.runs.Load(runID)
	if err != nil {
		return err
	}
	if err := printSummary(run); err != nil {
		return err
	}
	if !statusFollow || run.IsTerminal() {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changes, err := app.runs.Watch(ctx, runID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, open := <-changes:
			if !open {
				return nil
			}
			run, err = app.runs.Load(runID)
			if err != nil {
				return err
			}
			if err := printSummary(run); err != nil {
				return err
			}
			if run.IsTerminal() {
				return nil
			}
		}
	}
}

func printSummary(run *core.Run) error {
	out, err := json.MarshalIndent(run.Summarize(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
