// Package evidence validates evidence bundle directories and scores
// their quality before a run may proceed past intake.
package evidence

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/groundloop-ai/groundloop/internal/core"
)

var (
	requiredSupportColumns = []string{"ticket_id", "created_at", "summary", "severity"}
	requiredUsageColumns   = []string{"metric", "current_value", "target_value"}
	optionalFiles          = []string{"competitors.md", "nps_comments.csv", "changelog.md"}
)

// Validator checks evidence bundles against the required layout:
// interviews/*.md, support_tickets.csv, and usage metrics (CSV or
// JSON), plus optional extras.
type Validator struct{}

// NewValidator creates an evidence validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate inspects the bundle and produces a report with a quality
// score. A bundle with any error is invalid and fatal for the run.
func (v *Validator) Validate(evidenceDir string) (*core.EvidenceReport, error) {
	report := &core.EvidenceReport{
		Errors:        []string{},
		MissingFields: []string{},
		StackDetected: detectStack(evidenceDir),
		Evidence:      make(map[string]interface{}),
	}

	v.checkInterviews(evidenceDir, report)
	v.checkSupportTickets(evidenceDir, report)
	v.checkUsageMetrics(evidenceDir, report)

	for _, name := range optionalFiles {
		if content, err := os.ReadFile(filepath.Join(evidenceDir, name)); err == nil {
			report.Evidence[name] = string(content)
		}
	}

	report.Valid = len(report.Errors) == 0
	report.QualityScore = 100 - 25*len(report.Errors) - 10*len(report.MissingFields)
	if report.QualityScore < 0 {
		report.QualityScore = 0
	}
	return report, nil
}

func (v *Validator) checkInterviews(evidenceDir string, report *core.EvidenceReport) {
	matches, _ := filepath.Glob(filepath.Join(evidenceDir, "interviews", "*.md"))
	sort.Strings(matches)
	if len(matches) == 0 {
		report.Errors = append(report.Errors,
			"missing required interview markdown files under interviews/*.md")
		report.MissingFields = append(report.MissingFields, "interviews")
		return
	}
	var interviews []string
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reading %s: %v", filepath.Base(path), err))
			continue
		}
		interviews = append(interviews, string(content))
	}
	report.Evidence["interviews"] = interviews
}

func (v *Validator) checkSupportTickets(evidenceDir string, report *core.EvidenceReport) {
	path := filepath.Join(evidenceDir, "support_tickets.csv")
	rows, err := readCSV(path)
	if err != nil {
		if os.IsNotExist(err) {
			report.Errors = append(report.Errors, "missing required file support_tickets.csv")
			report.MissingFields = append(report.MissingFields, "support_tickets.csv")
		} else {
			report.Errors = append(report.Errors, fmt.Sprintf("parsing support_tickets.csv: %v", err))
		}
		return
	}
	if len(rows) == 0 {
		report.Errors = append(report.Errors, "support_tickets.csv is empty")
		return
	}
	if missing := missingColumns(rows[0], requiredSupportColumns); len(missing) > 0 {
		report.Errors = append(report.Errors,
			fmt.Sprintf("support_tickets.csv missing columns: %s", strings.Join(missing, ", ")))
	}
	report.Evidence["support_tickets"] = rows
}

func (v *Validator) checkUsageMetrics(evidenceDir string, report *core.EvidenceReport) {
	csvPath := filepath.Join(evidenceDir, "usage_metrics.csv")
	jsonPath := filepath.Join(evidenceDir, "usage_metrics.json")

	var rows []map[string]string
	var err error
	switch {
	case fileExists(csvPath):
		rows, err = readCSV(csvPath)
	case fileExists(jsonPath):
		rows, err = readUsageJSON(jsonPath)
	default:
		report.Errors = append(report.Errors,
			"missing required usage metrics file (usage_metrics.csv or usage_metrics.json)")
		report.MissingFields = append(report.MissingFields, "usage_metrics")
		return
	}
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("parsing usage metrics: %v", err))
		return
	}
	if len(rows) == 0 {
		report.Errors = append(report.Errors, "usage metrics file is empty")
		return
	}
	if missing := missingColumns(rows[0], requiredUsageColumns); len(missing) > 0 {
		report.Errors = append(report.Errors,
			fmt.Sprintf("usage metrics missing columns: %s", strings.Join(missing, ", ")))
	}
	report.Evidence["usage_metrics"] = rows
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readUsageJSON(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapper struct {
			Metrics []map[string]interface{} `json:"metrics"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Metrics == nil {
			return nil, fmt.Errorf(`usage_metrics.json must be a list or {"metrics": [...]}`)
		}
		items = wrapper.Metrics
	}

	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		row := make(map[string]string, len(item))
		for k, v := range item {
			row[k] = fmt.Sprintf("%v", v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func missingColumns(row map[string]string, required []string) []string {
	var missing []string
	for _, col := range required {
		if _, ok := row[col]; !ok {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	return missing
}

func detectStack(evidenceDir string) string {
	if fileExists(filepath.Join(filepath.Dir(filepath.Dir(evidenceDir)), "package.json")) {
		return "javascript"
	}
	return "python"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Verify that Validator implements the core port.
var _ core.EvidenceChecker = (*Validator)(nil)
