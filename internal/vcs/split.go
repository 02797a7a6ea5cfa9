package vcs

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// SplitDiff splits a multi-file unified diff into per-file chunks keyed by
// the new ("b/") path.
func SplitDiff(unified string) map[string]string {
	if strings.TrimSpace(unified) == "" {
		return map[string]string{}
	}
	if chunks, ok := splitParsed(unified); ok {
		return chunks
	}
	return splitByHeader(unified)
}

func splitParsed(unified string) (map[string]string, bool) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(unified))
	if err != nil || len(fileDiffs) == 0 {
		return nil, false
	}
	chunks := make(map[string]string, len(fileDiffs))
	for _, fd := range fileDiffs {
		name := newPath(fd)
		if name == "" {
			return nil, false
		}
		printed, err := diff.PrintFileDiff(fd)
		if err != nil {
			return nil, false
		}
		chunks[name] = string(printed)
	}
	return chunks, true
}

func newPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		// Deletions keep the path from the "diff --git a/x b/x" header.
		for _, ext := range fd.Extended {
			if p, ok := headerPath(ext); ok {
				return p
			}
		}
		return ""
	}
	return strings.TrimPrefix(name, "b/")
}

func headerPath(line string) (string, bool) {
	if !strings.HasPrefix(line, "diff --git ") {
		return "", false
	}
	parts := strings.SplitN(strings.TrimSpace(line), " b/", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

// splitByHeader cuts the raw text at each "diff --git" line.
func splitByHeader(unified string) map[string]string {
	chunks := make(map[string]string)
	var current string
	var have bool
	var b strings.Builder

	flush := func() {
		if have {
			chunks[current] = b.String()
		}
		b.Reset()
	}

	for _, line := range strings.SplitAfter(unified, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current, have = headerPath(line)
		}
		b.WriteString(line)
	}
	flush()
	return chunks
}
