package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const maxReportOutputChars = 6000

func (w *worker) testReportMarkdown(result *core.VerifyResult, attempt int) string {
	var b strings.Builder
	b.WriteString("# Test Report\n\n")
	fmt.Fprintf(&b, "- Attempt: %d\n", attempt)
	fmt.Fprintf(&b, "- Exit code: %d\n", result.ExitCode)
	fmt.Fprintf(&b, "- Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Result: %s\n", passFail(result))
	if result.FellBack {
		b.WriteString("- Mode: fallback (compile check + generated smoke test)\n")
	}
	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", result.Summary)
	if out := strings.TrimSpace(result.Stdout); out != "" {
		fmt.Fprintf(&b, "\n## Stdout\n\n```\n%s\n```\n", truncate(out, maxReportOutputChars))
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		fmt.Fprintf(&b, "\n## Stderr\n\n```\n%s\n```\n", truncate(errOut, maxReportOutputChars))
	}
	return b.String()
}

func (w *worker) failureReportMarkdown(run *core.Run, cause error) string {
	var b strings.Builder
	b.WriteString("# Failure Report\n\n")
	fmt.Fprintf(&b, "- Run: %s\n", run.ID)
	fmt.Fprintf(&b, "- Stage: %s\n", run.CurrentStage)
	fmt.Fprintf(&b, "- Retries used: %d of %d\n", run.RetryCount, w.ws.Guardrails.MaxRetries)
	fmt.Fprintf(&b, "- Category: %s\n", core.GetCategory(cause))
	fmt.Fprintf(&b, "\n## Error\n\n```\n%v\n```\n", cause)
	if len(run.StageHistory) > 0 {
		b.WriteString("\n## Stage history\n\n")
		for _, rec := range run.StageHistory {
			fmt.Fprintf(&b, "- %s: %s", rec.Stage, rec.Outcome)
			if rec.Error != "" {
				fmt.Fprintf(&b, " (%s)", rec.Error)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// prNotesMarkdown is the pr-mode handoff artifact: what a reviewer
// needs to turn the applied diff into a pull request. Opening the PR
// itself needs hosting credentials and stays out of the engine.
func (w *worker) prNotesMarkdown(result *core.PatchResult) string {
	var b strings.Builder
	b.WriteString("# Pull Request Notes\n\n")
	fmt.Fprintf(&b, "- Feature: %s\n", w.selected.Feature)
	fmt.Fprintf(&b, "- Branch: %s\n", w.ws.Branch)
	fmt.Fprintf(&b, "- Patch strategy: %s\n", result.Strategy)
	if w.tickets != nil {
		fmt.Fprintf(&b, "- Epic: %s\n", w.tickets.EpicTitle)
	}
	b.WriteString("\n## Files modified\n\n")
	for _, f := range result.FilesModified {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\n## Rationale\n\n")
	b.WriteString(w.selected.Rationale)
	b.WriteString("\n")
	return b.String()
}

func passFail(result *core.VerifyResult) string {
	if result.Passed() {
		return "pass"
	}
	return "fail"
}
