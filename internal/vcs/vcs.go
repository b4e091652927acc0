// Package vcs is the version-control collaborator: after each completed
// phase the orchestrator asks it for a durable commit. The engine consumes
// only whether the commit succeeded; everything else about version control
// lives here.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCommitter commits phase results in a git repository.
type GitCommitter struct {
	repoPath string
}

// NewGitCommitter creates a committer for the repository at the given path.
func NewGitCommitter(repoPath string) *GitCommitter {
	return &GitCommitter{repoPath: repoPath}
}

// run executes a git command in the repository.
func (g *GitCommitter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (g *GitCommitter) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Commit stages everything and commits with the given message. It returns
// true when a commit was durably recorded. A clean tree is not an error:
// the phase simply produced no file changes, and the signal is false.
func (g *GitCommitter) Commit(ctx context.Context, message string) (bool, error) {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return false, err
	}

	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if status == "" {
		return false, nil
	}

	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// NopCommitter is used outside a git repository and in tests.
type NopCommitter struct{}

// Commit reports no durable commit and no error.
func (NopCommitter) Commit(ctx context.Context, message string) (bool, error) {
	return false, nil
}
