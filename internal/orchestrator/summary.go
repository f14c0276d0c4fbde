package orchestrator

import (
	"regexp"
	"strconv"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// RunSummaryReport is the run-summary.json artifact: the one-page
// outcome a reader checks before opening anything else.
type RunSummaryReport struct {
	PassFail           string   `json:"pass_fail"`
	RetriesUsed        int      `json:"retries_used"`
	FilesChanged       []string `json:"files_changed"`
	ConfidenceScore    int      `json:"confidence_score"`
	TotalTickets       int      `json:"total_tickets"`
	TotalEstimateHours int      `json:"total_estimate_hours"`
	TestsPassed        int      `json:"tests_passed"`
	TestsFailed        int      `json:"tests_failed"`
	TestsSkipped       int      `json:"tests_skipped"`
	DurationSeconds    float64  `json:"duration_seconds"`
}

var (
	passedPattern  = regexp.MustCompile(`(\d+) passed`)
	failedPattern  = regexp.MustCompile(`(\d+) failed`)
	skippedPattern = regexp.MustCompile(`(\d+) skipped`)
)

func buildRunSummary(run *core.Run, tickets *core.TicketSet, result *core.VerifyResult, filesChanged []string) *RunSummaryReport {
	report := &RunSummaryReport{
		PassFail:        "fail",
		RetriesUsed:     run.RetryCount,
		FilesChanged:    filesChanged,
		DurationSeconds: run.Duration().Seconds(),
	}
	if report.FilesChanged == nil {
		report.FilesChanged = []string{}
	}
	if run.SelectedFeature != nil {
		report.ConfidenceScore = int(run.SelectedFeature.Confidence * 100)
	}
	if tickets != nil {
		report.TotalTickets = len(tickets.Tickets)
		report.TotalEstimateHours = tickets.TotalEstimateHours()
	}
	if result != nil {
		if result.Passed() {
			report.PassFail = "pass"
		}
		report.TestsPassed = countMatches(passedPattern, result.Stdout)
		report.TestsFailed = countMatches(failedPattern, result.Stdout)
		report.TestsSkipped = countMatches(skippedPattern, result.Stdout)
	}
	return report
}

func countMatches(pattern *regexp.Regexp, output string) int {
	m := pattern.FindStringSubmatch(output)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
