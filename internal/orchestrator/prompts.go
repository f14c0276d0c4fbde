package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// System prompts for the generation collaborator. Prompt wording is
// deliberately plain; structure requirements live in the normalizers
// and schema validators, not here.
const (
	promptSynthesizeSystem = `You are a product analyst. Synthesize the provided customer evidence into a JSON object with keys: "summary" (string), "claims" (array of {claim_id, claim_text, supporting_sources: [{file, line_range: [start, end], quote}], confidence: 0..1}), and "top_features" (array of up to 3 {feature, rationale, linked_claim_ids, confidence: 0..1}). Every claim must cite the evidence it came from. Respond with JSON only.`

	promptPRDSystem = `You are a product manager. Write a concise PRD in Markdown for the selected feature: problem statement, goals, non-goals, user stories, success metrics, and rollout notes. Start with a '#' title.`

	promptWireframesSystem = `You are a UX designer. Produce a single self-contained HTML file sketching low-fidelity wireframes for the feature. Inline CSS only, no external assets. Respond with HTML only.`

	promptUserFlowSystem = `You are a UX designer. Produce a Mermaid flowchart (graph TD) describing the primary user flow for the feature. Respond with Mermaid source only.`

	promptTicketsSystem = `You are a tech lead. Break the feature into implementation tickets as JSON: {"epic_title": string, "tickets": [{"id", "title", "description", "acceptance_criteria": [string], "files_expected": [string], "risk_level": "low"|"med"|"high", "estimate_hours": int, "owner": string}]}. Paths in files_expected are relative to the repository root. Respond with JSON only.`

	promptImplementSystem = `You are a software engineer. Produce one unified diff (git format, a/ and b/ prefixes) implementing the tickets against the provided repository files. Modify only files under the repository root, create new files with /dev/null sources, and do not touch forbidden paths. Respond with the diff only, no prose, no code fences.`

	promptSelfHealSystem = `You are a software engineer fixing a failing test run. Given the verification output and the current contents of the touched files, produce one unified diff (git format) that makes the tests pass. Respond with the diff only, no prose, no code fences.`
)

const (
	maxEvidenceChars    = 4000
	maxContextFiles     = 20
	maxContextFileChars = 8000
)

func (w *worker) synthesizeUserPrompt() string {
	var b strings.Builder
	if w.req.GoalStatement != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", w.req.GoalStatement)
	}
	if len(w.ws.OKRs) > 0 {
		fmt.Fprintf(&b, "Team OKRs: %s\n\n", strings.Join(w.ws.OKRs, "; "))
	}
	b.WriteString("Evidence bundle:\n")
	if w.report != nil {
		names := make([]string, 0, len(w.report.Evidence))
		for name := range w.report.Evidence {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			content := fmt.Sprintf("%v", w.report.Evidence[name])
			fmt.Fprintf(&b, "\n=== %s ===\n%s\n", name, truncate(content, maxEvidenceChars))
		}
	}
	return b.String()
}

func (w *worker) prdUserPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\nRationale: %s\n", w.selected.Feature, w.selected.Rationale)
	if w.evidenceMap != nil {
		fmt.Fprintf(&b, "\nEvidence summary: %s\n", w.evidenceMap.Summary)
		for _, claim := range w.evidenceMap.Claims {
			if containsString(w.selected.LinkedClaimIDs, claim.ClaimID) {
				fmt.Fprintf(&b, "- [%s] %s\n", claim.ClaimID, claim.ClaimText)
			}
		}
	}
	if w.ws.NorthStarMetric != "" {
		fmt.Fprintf(&b, "\nNorth-star metric: %s\n", w.ws.NorthStarMetric)
	}
	return b.String()
}

func (w *worker) designUserPrompt() string {
	return fmt.Sprintf("Feature: %s\nRationale: %s\n", w.selected.Feature, w.selected.Rationale)
}

func (w *worker) ticketsUserPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\nRationale: %s\n", w.selected.Feature, w.selected.Rationale)
	b.WriteString("\nRepository layout:\n")
	b.WriteString(w.repoTree())
	return b.String()
}

func (w *worker) implementUserPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\n\nTickets:\n", w.selected.Feature)
	if w.tickets != nil {
		for _, t := range w.tickets.Tickets {
			fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Title)
			for _, ac := range t.AcceptanceCriteria {
				fmt.Fprintf(&b, "  * %s\n", ac)
			}
		}
	}
	if len(w.ws.Guardrails.ForbiddenPaths) > 0 {
		fmt.Fprintf(&b, "\nForbidden paths: %s\n", strings.Join(w.ws.Guardrails.ForbiddenPaths, ", "))
	}
	b.WriteString("\nRepository files:\n")
	b.WriteString(w.repoContext())
	return b.String()
}

func (w *worker) selfHealUserPrompt() string {
	var b strings.Builder
	b.WriteString("Verification failed.\n\n")
	fmt.Fprintf(&b, "Exit code: %d\nSummary: %s\n", w.lastVerify.ExitCode, w.lastVerify.Summary)
	if out := strings.TrimSpace(w.lastVerify.Stdout); out != "" {
		fmt.Fprintf(&b, "\nStdout:\n%s\n", truncate(out, maxEvidenceChars))
	}
	if errOut := strings.TrimSpace(w.lastVerify.Stderr); errOut != "" {
		fmt.Fprintf(&b, "\nStderr:\n%s\n", truncate(errOut, maxEvidenceChars))
	}
	b.WriteString("\nCurrent file contents:\n")
	b.WriteString(w.fileContext(w.filesChanged()))
	return b.String()
}

// repoContext renders the contents of the files the tickets expect to
// touch, falling back to the repository tree when none exist yet.
func (w *worker) repoContext() string {
	var files []string
	if w.tickets != nil {
		files = w.tickets.FilesExpected()
	}
	context := w.fileContext(files)
	if context == "" {
		return w.repoTree()
	}
	return context
}

func (w *worker) fileContext(files []string) string {
	var b strings.Builder
	count := 0
	for _, rel := range files {
		if count >= maxContextFiles {
			break
		}
		data, err := os.ReadFile(filepath.Join(w.targetDir, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n=== %s ===\n%s\n", rel, truncate(string(data), maxContextFileChars))
		count++
	}
	return b.String()
}

func (w *worker) repoTree() string {
	var b strings.Builder
	count := 0
	_ = filepath.WalkDir(w.targetDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || count >= 100 {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(w.targetDir, path)
		if rerr != nil {
			return nil
		}
		fmt.Fprintf(&b, "%s\n", filepath.ToSlash(rel))
		count++
		return nil
	})
	return b.String()
}

func placeholderWireframes(feature string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Wireframes: %s</title></head>
<body>
<h1>Wireframes: %s</h1>
<p>Wireframe generation was unavailable for this run. This placeholder
marks where the low-fidelity sketches belong.</p>
</body>
</html>`, feature, feature)
}

func placeholderUserFlow(feature string) string {
	return fmt.Sprintf(`graph TD
    A[User] --> B[%s]
    B --> C[Outcome]`, feature)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
