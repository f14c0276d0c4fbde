// Package patch applies generated unified diffs to a working tree
// under a path denylist. Rejection happens before any mutation, so a
// refused patch leaves the tree byte-for-byte unchanged.
package patch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// Error is a structured patch failure. The kind tells the self-heal
// loop whether another generation attempt is worthwhile.
type Error struct {
	Kind    core.PatchErrorKind
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// DomainError converts to the engine error taxonomy.
func (e *Error) DomainError() *core.DomainError {
	code := core.CodeApplyConflict
	switch e.Kind {
	case core.PatchErrForbiddenPath:
		code = core.CodeForbiddenPath
	case core.PatchErrMalformed:
		code = core.CodeMalformedDiff
	}
	return core.ErrPatch(code, e.Message).WithCause(e.Cause).WithDetail("kind", string(e.Kind))
}

// strategy is one named way of applying a sanitized diff.
type strategy struct {
	name string
	run  func(ctx context.Context, patchFile, targetDir string) error
}

// Applier applies diffs using an ordered list of strategies: a strict
// structured tool first, then a looser fallback. The result records
// which strategy succeeded.
type Applier struct {
	strategies []strategy
}

// NewApplier creates an applier with the default strategy order:
// git apply (whitespace-tolerant), then patch -p1.
func NewApplier() *Applier {
	return &Applier{
		strategies: []strategy{
			{name: "git-apply", run: runGitApply},
			{name: "patch-p1", run: runPatchTool},
		},
	}
}

// Apply sanitizes the diff, enforces the forbidden-path denylist, and
// attempts each strategy in order. On success it reports which files
// were touched and which strategy applied the patch.
func (a *Applier) Apply(ctx context.Context, diff, targetDir string, forbiddenPaths []string) (*core.PatchResult, error) {
	diff = Sanitize(diff)
	if strings.TrimSpace(diff) == "" {
		return nil, &Error{Kind: core.PatchErrMalformed, Message: "diff is empty after sanitization"}
	}

	if path, forbidden := firstForbiddenPath(diff, forbiddenPaths); forbidden != "" {
		return nil, &Error{
			Kind:    core.PatchErrForbiddenPath,
			Path:    path,
			Message: fmt.Sprintf("patch touches forbidden path prefix %s", forbidden),
		}
	}

	files := FilesModified(diff)
	if len(files) == 0 {
		return nil, &Error{Kind: core.PatchErrMalformed, Message: "no file headers found in diff"}
	}

	patchFile, err := os.CreateTemp("", "groundloop-*.patch")
	if err != nil {
		return nil, &Error{Kind: core.PatchErrConflict, Message: "creating patch temp file", Cause: err}
	}
	defer os.Remove(patchFile.Name())
	if _, err := patchFile.WriteString(diff); err != nil {
		patchFile.Close()
		return nil, &Error{Kind: core.PatchErrConflict, Message: "writing patch temp file", Cause: err}
	}
	if err := patchFile.Close(); err != nil {
		return nil, &Error{Kind: core.PatchErrConflict, Message: "closing patch temp file", Cause: err}
	}

	var attempts []string
	for _, strat := range a.strategies {
		if err := strat.run(ctx, patchFile.Name(), targetDir); err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", strat.name, err))
			continue
		}
		return &core.PatchResult{
			Applied:       true,
			FilesModified: files,
			Strategy:      strat.name,
		}, nil
	}

	return nil, &Error{
		Kind:    core.PatchErrConflict,
		Message: "all apply strategies failed: " + strings.Join(attempts, "; "),
	}
}

func runGitApply(ctx context.Context, patchFile, targetDir string) error {
	cmd := exec.CommandContext(ctx, "git", "apply",
		"--ignore-space-change", "--ignore-whitespace", patchFile)
	cmd.Dir = targetDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runPatchTool(ctx context.Context, patchFile, targetDir string) error {
	cmd := exec.CommandContext(ctx, "patch", "-p1", "-i", patchFile)
	cmd.Dir = targetDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// firstForbiddenPath scans both old-path and new-path header lines for
// a forbidden prefix. The check is textual: it must hold before any
// tool touches the tree.
func firstForbiddenPath(diff string, forbiddenPaths []string) (string, string) {
	for _, line := range strings.Split(diff, "\n") {
		var path string
		switch {
		case strings.HasPrefix(line, "--- a/"):
			path = strings.TrimSpace(line[len("--- a/"):])
		case strings.HasPrefix(line, "+++ b/"):
			path = strings.TrimSpace(line[len("+++ b/"):])
		default:
			continue
		}
		for _, forbidden := range forbiddenPaths {
			prefix := strings.Trim(strings.TrimSpace(forbidden), "/")
			if prefix == "" {
				continue
			}
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return path, forbidden
			}
		}
	}
	return "", ""
}

// FilesModified extracts touched file paths from new-path headers.
func FilesModified(diff string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ b/") {
			continue
		}
		path := strings.TrimSpace(line[len("+++ b/"):])
		if path == "" || path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return files
}

// Verify that Applier implements the core port.
var _ core.PatchApplier = (*Applier)(nil)
