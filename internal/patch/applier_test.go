package patch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const sampleDiff = `diff --git a/src/app.py b/src/app.py
--- a/src/app.py
+++ b/src/app.py
@@ -1,2 +1,3 @@
 def health():
     return "ok"
+
`

const forbiddenDiff = `diff --git a/payments/charge.py b/payments/charge.py
--- a/payments/charge.py
+++ b/payments/charge.py
@@ -1 +1,2 @@
 AMOUNT = 100
+FEE = 5
`

func writeTree(t *testing.T, files map[string]string) string {
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

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
	return out
}

func TestApply_ForbiddenPathLeavesTreeUntouched(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"payments/charge.py": "AMOUNT = 100\n",
		"src/app.py":         "def health():\n    return \"ok\"\n",
	})
	before := readTree(t, dir)

	applier := NewApplier()
	_, err := applier.Apply(context.Background(), forbiddenDiff, dir, []string{"/payments"})

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != core.PatchErrForbiddenPath {
		t.Fatalf("expected forbidden-path error, got %v", err)
	}
	if perr.DomainError().Code != core.CodeForbiddenPath {
		t.Fatalf("wrong domain code: %s", perr.DomainError().Code)
	}

	after := readTree(t, dir)
	if len(after) != len(before) {
		t.Fatalf("file set changed: %d -> %d", len(before), len(after))
	}
	for name, content := range before {
		if after[name] != content {
			t.Fatalf("file %s changed after rejected patch", name)
		}
	}
}

func TestApply_EmptyDiffRejected(t *testing.T) {
	applier := NewApplier()
	_, err := applier.Apply(context.Background(), "```diff\n```", t.TempDir(), nil)
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != core.PatchErrMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestApply_NoFileHeadersRejected(t *testing.T) {
	applier := NewApplier()
	_, err := applier.Apply(context.Background(), "just some prose, not a diff\n", t.TempDir(), nil)
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != core.PatchErrMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestApply_Success(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		if _, err := exec.LookPath("patch"); err != nil {
			t.Skip("neither git nor patch available")
		}
	}

	dir := writeTree(t, map[string]string{
		"src/app.py": "def health():\n    return \"ok\"\n",
	})

	applier := NewApplier()
	result, err := applier.Apply(context.Background(), sampleDiff, dir, []string{"/payments"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Applied || result.Strategy == "" {
		t.Fatalf("result missing strategy: %+v", result)
	}
	if len(result.FilesModified) != 1 || result.FilesModified[0] != "src/app.py" {
		t.Fatalf("unexpected files: %v", result.FilesModified)
	}
}

func TestFilesModified(t *testing.T) {
	diff := sampleDiff + `diff --git a/src/new.py b/src/new.py
--- /dev/null
+++ b/src/new.py
@@ -0,0 +1 @@
+x = 1
`
	files := FilesModified(diff)
	if len(files) != 2 || files[0] != "src/app.py" || files[1] != "src/new.py" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestFirstForbiddenPath(t *testing.T) {
	path, forbidden := firstForbiddenPath(forbiddenDiff, []string{"/infra", "/payments"})
	if path != "payments/charge.py" || forbidden != "/payments" {
		t.Fatalf("got %q, %q", path, forbidden)
	}
	if _, forbidden := firstForbiddenPath(sampleDiff, []string{"/payments"}); forbidden != "" {
		t.Fatalf("false positive on allowed path")
	}
	// Prefix matching is segment-aware: payments-ui is not payments.
	ui := `--- a/payments-ui/form.js
+++ b/payments-ui/form.js
`
	if _, forbidden := firstForbiddenPath(ui, []string{"/payments"}); forbidden != "" {
		t.Fatalf("prefix match must respect path segments")
	}
}

func TestSanitize(t *testing.T) {
	t.Run("strips code fences", func(t *testing.T) {
		fenced := "```diff\n" + sampleDiff + "```"
		got := Sanitize(fenced)
		if got == "" || got[0] != 'd' {
			t.Fatalf("fence not stripped: %q", got[:20])
		}
	})

	t.Run("normalizes CRLF", func(t *testing.T) {
		crlf := "diff --git a/f b/f\r\n--- a/f\r\n+++ b/f\r\n"
		if got := Sanitize(crlf); got != "diff --git a/f b/f\n--- a/f\n+++ b/f\n" {
			t.Fatalf("CRLF not normalized: %q", got)
		}
	})

	t.Run("drops binary blocks", func(t *testing.T) {
		mixed := sampleDiff + `diff --git a/logo.png b/logo.png
--- a/logo.png
+++ b/logo.png
@@ binary junk @@
`
		got := Sanitize(mixed)
		files := FilesModified(got)
		if len(files) != 1 || files[0] != "src/app.py" {
			t.Fatalf("binary block not dropped: %v", files)
		}
	})

	t.Run("repairs glued headers", func(t *testing.T) {
		glued := "diff --git a/a b/a\n--- a/a\n+++ b/a\n@@ -1 +1 @@\n-x\n+y\ndiff --git a/b b/b\n--- a/b\n+++ b/b\n@@ -1 +1 @@\n-x\n+y"
		broken := "diff --git a/a b/a\n--- a/a\n+++ b/a\n@@ -1 +1 @@\n-x\n+ydiff --git a/b b/b\n--- a/b\n+++ b/b\n@@ -1 +1 @@\n-x\n+y"
		if FilesModified(Sanitize(broken)) == nil || len(FilesModified(Sanitize(broken))) != len(FilesModified(Sanitize(glued))) {
			t.Fatalf("glued header not repaired")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if Sanitize("   ") != "" {
			t.Fatalf("whitespace must sanitize to empty")
		}
	})
}
