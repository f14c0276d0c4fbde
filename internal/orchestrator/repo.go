package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// scaffoldFiles is the deterministic baseline tree for local-mode runs.
// Resetting to the same bytes before every run keeps diffs and
// verification results reproducible.
var scaffoldFiles = map[string]string{
	"README.md": `# Target Repository

Baseline application tree for pipeline runs. Each run resets this tree
before applying its generated changes.
`,
	"src/demo_app/__init__.py": `"""Demo application package."""

__version__ = "0.1.0"
`,
	"src/demo_app/app.py": `"""Demo application entry points."""


def health():
    return {"status": "ok"}


def greet(name):
    if not name:
        raise ValueError("name is required")
    return f"Hello, {name}!"
`,
	"tests/test_app.py": `from demo_app import app


def test_health():
    assert app.health() == {"status": "ok"}


def test_greet():
    assert app.greet("dev") == "Hello, dev!"
`,
}

// prepareRepository resets the run's target working tree to a known
// baseline: the bundled scaffold for local workspaces, a fresh shallow
// clone for remote ones.
func (w *worker) prepareRepository(ctx context.Context) error {
	if err := os.RemoveAll(w.targetDir); err != nil {
		return core.ErrInfrastructure("resetting target repository").WithCause(err)
	}
	if w.ws.IsLocal() {
		return writeScaffold(w.targetDir)
	}
	return cloneRepository(ctx, w.ws.RepoURL, w.ws.Branch, w.targetDir)
}

func writeScaffold(targetDir string) error {
	names := make([]string, 0, len(scaffoldFiles))
	for name := range scaffoldFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(targetDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return core.ErrInfrastructure("creating scaffold directory").WithCause(err)
		}
		if err := os.WriteFile(path, []byte(scaffoldFiles[name]), 0o644); err != nil {
			return core.ErrInfrastructure("writing scaffold file " + name).WithCause(err)
		}
	}
	return nil
}

func cloneRepository(ctx context.Context, repoURL, branch, targetDir string) error {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, targetDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.ErrInfrastructure("cloning target repository").
			WithCause(err).
			WithDetail("output", strings.TrimSpace(string(output)))
	}
	return nil
}
