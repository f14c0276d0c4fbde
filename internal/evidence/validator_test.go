package evidence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

const supportTicketsCSV = "ticket_id,created_at,summary,severity\n" +
	"T-1,2026-01-10,Export button missing,high\n" +
	"T-2,2026-01-12,CSV download times out,medium\n"

const usageMetricsCSV = "metric,current_value,target_value\n" +
	"weekly_exports,120,500\n"

func validBundle(t *testing.T) string {
	return writeBundle(t, map[string]string{
		"interviews/ana.md":   "# Interview with Ana\nExports are manual today.\n",
		"interviews/ben.md":   "# Interview with Ben\nWe need bulk export.\n",
		"support_tickets.csv": supportTicketsCSV,
		"usage_metrics.csv":   usageMetricsCSV,
	})
}

func TestValidate_CompleteBundle(t *testing.T) {
	v := NewValidator()
	report, err := v.Validate(validBundle(t))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("bundle must be valid, errors: %v", report.Errors)
	}
	if report.QualityScore != 100 {
		t.Fatalf("expected score 100, got %d", report.QualityScore)
	}
	interviews, ok := report.Evidence["interviews"].([]string)
	if !ok || len(interviews) != 2 {
		t.Fatalf("interviews not collected: %v", report.Evidence["interviews"])
	}
	if _, ok := report.Evidence["support_tickets"]; !ok {
		t.Fatalf("support tickets not collected")
	}
	if _, ok := report.Evidence["usage_metrics"]; !ok {
		t.Fatalf("usage metrics not collected")
	}
}

func TestValidate_MissingUsageMetricsIsFatal(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"interviews/ana.md":   "# Interview\n",
		"support_tickets.csv": supportTicketsCSV,
	})

	v := NewValidator()
	report, err := v.Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("bundle without usage metrics must be invalid")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "usage metrics") {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if len(report.MissingFields) != 1 || report.MissingFields[0] != "usage_metrics" {
		t.Fatalf("unexpected missing fields: %v", report.MissingFields)
	}
	// One error and one missing field: 100 - 25 - 10.
	if report.QualityScore != 65 {
		t.Fatalf("expected score 65, got %d", report.QualityScore)
	}
}

func TestValidate_EmptyDirectoryScoresZero(t *testing.T) {
	v := NewValidator()
	report, err := v.Validate(t.TempDir())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("empty bundle must be invalid")
	}
	if len(report.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", report.Errors)
	}
	if report.QualityScore != 0 {
		t.Fatalf("expected floor score 0, got %d", report.QualityScore)
	}
}

func TestValidate_UsageMetricsJSONAccepted(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"interviews/ana.md":   "# Interview\n",
		"support_tickets.csv": supportTicketsCSV,
		"usage_metrics.json":  `[{"metric": "weekly_exports", "current_value": 120, "target_value": 500}]`,
	})

	v := NewValidator()
	report, err := v.Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("JSON metrics must be accepted, errors: %v", report.Errors)
	}
}

func TestValidate_UsageMetricsWrapperObject(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"interviews/ana.md":   "# Interview\n",
		"support_tickets.csv": supportTicketsCSV,
		"usage_metrics.json":  `{"metrics": [{"metric": "m", "current_value": 1, "target_value": 2}]}`,
	})

	v := NewValidator()
	report, err := v.Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("wrapped JSON metrics must be accepted, errors: %v", report.Errors)
	}
}

func TestValidate_MissingColumnsReported(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"interviews/ana.md":   "# Interview\n",
		"support_tickets.csv": "ticket_id,summary\nT-1,Export broken\n",
		"usage_metrics.csv":   usageMetricsCSV,
	})

	v := NewValidator()
	report, err := v.Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("missing columns must invalidate the bundle")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "created_at") && strings.Contains(e, "severity") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing columns not named: %v", report.Errors)
	}
}

func TestValidate_OptionalFilesCollected(t *testing.T) {
	dir := validBundle(t)
	if err := os.WriteFile(filepath.Join(dir, "competitors.md"), []byte("# Competitors\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v := NewValidator()
	report, err := v.Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("optional file must not affect validity")
	}
	if _, ok := report.Evidence["competitors.md"]; !ok {
		t.Fatalf("optional file not collected")
	}
}
