package patch

import (
	"regexp"
	"strings"
)

// binaryExtensions are file types a text patch cannot represent; diff
// blocks targeting them are dropped during sanitization.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".webp": true, ".pdf": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true,
}

var (
	midLineDiffHeader = regexp.MustCompile(`([^\n])(diff --git )`)
	diffHeaderPath    = regexp.MustCompile(`diff --git a/(\S+) b/\S+`)
)

// Sanitize normalizes generation noise out of a diff before it reaches
// the guard or any apply tool: surrounding code fences, CRLF line
// endings, missing separators between per-file sections, and diff
// blocks for binary file types.
func Sanitize(diff string) string {
	text := strings.TrimSpace(diff)
	if text == "" {
		return ""
	}

	text = stripCodeFences(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// A header glued to the previous line means a missing newline
	// between per-file sections.
	text = midLineDiffHeader.ReplaceAllString(text, "$1\n$2")

	blocks := splitDiffBlocks(text)
	kept := blocks[:0]
	for _, block := range blocks {
		if isBinaryBlock(block) {
			continue
		}
		kept = append(kept, strings.TrimRight(block, "\n"))
	}

	text = strings.Join(kept, "\n\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// splitDiffBlocks splits a multi-file diff into per-file sections. Any
// preamble before the first header stays attached to the first block.
func splitDiffBlocks(text string) []string {
	parts := strings.Split(text, "\ndiff --git ")
	blocks := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = "diff --git " + part
		}
		if strings.TrimSpace(part) == "" {
			continue
		}
		blocks = append(blocks, part)
	}
	return blocks
}

func isBinaryBlock(block string) bool {
	firstLine := block
	if idx := strings.IndexByte(block, '\n'); idx >= 0 {
		firstLine = block[:idx]
	}
	match := diffHeaderPath.FindStringSubmatch(firstLine)
	if match == nil {
		return false
	}
	path := strings.ToLower(match[1])
	for ext := range binaryExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
