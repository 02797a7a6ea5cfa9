// Package vcs reads changed files, diffs and file contents from git.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Git runs git commands in Dir (the current directory when empty).
type Git struct {
	Dir string
}

func New(dir string) *Git {
	return &Git{Dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, args...)
	return strings.TrimSpace(out), err
}

func (g *Git) runRaw(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// ChangedFiles lists changed paths, staged or in the working tree.
// Deleted paths are excluded.
func (g *Git) ChangedFiles(ctx context.Context, staged bool) ([]string, error) {
	args := []string{"diff", "--name-only", "--diff-filter=d"}
	if staged {
		args = []string{"diff", "--cached", "--name-only", "--diff-filter=d"}
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Diff returns the unified diff of staged or working-tree changes.
func (g *Git) Diff(ctx context.Context, staged bool) (string, error) {
	if staged {
		return g.runRaw(ctx, "diff", "--cached")
	}
	return g.runRaw(ctx, "diff")
}

func (g *Git) TrackedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// FileContent returns the staged blob of path, or the working copy when
// staged is false.
func (g *Git) FileContent(ctx context.Context, path string, staged bool) (string, error) {
	if staged {
		return g.run(ctx, "show", ":"+path)
	}
	p := path
	if g.Dir != "" && !filepath.IsAbs(p) {
		p = filepath.Join(g.Dir, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Toplevel returns the absolute path of the repository root.
func (g *Git) Toplevel(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--show-toplevel")
}
