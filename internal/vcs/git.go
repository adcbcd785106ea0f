// ABOUTME: Git operations shelled out to the git binary
// ABOUTME: Provides clone, fast-forward pull, and commit as opaque off-process calls

package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Shell runs git commands against working directories. All operations are
// off-process and block until the git subprocess exits.
type Shell struct{}

// NewShell returns a git shell.
func NewShell() *Shell {
	return &Shell{}
}

// run executes a git command and returns its trimmed combined output. Errors
// carry the output so clone/pull failures are diagnosable from logs.
func (s *Shell) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		if out == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %s", args[0], out)
	}
	return out, nil
}

// Clone clones the remote repository into dir.
func (s *Shell) Clone(ctx context.Context, remoteURL, dir string) error {
	_, err := s.run(ctx, "clone", "--quiet", remoteURL, dir)
	return err
}

// Pull fast-forwards dir from its remote. Diverged histories fail rather
// than merge; the clone is treated as a read replica.
func (s *Shell) Pull(ctx context.Context, dir string) error {
	_, err := s.run(ctx, "-C", dir, "pull", "--ff-only", "--quiet")
	return err
}

// Commit stages the given paths (all changes when none are given) and
// records a commit. A clean tree is not an error.
func (s *Shell) Commit(ctx context.Context, dir, message string, paths ...string) error {
	addArgs := []string{"-C", dir, "add", "--"}
	if len(paths) == 0 {
		addArgs = []string{"-C", dir, "add", "-A"}
	} else {
		addArgs = append(addArgs, paths...)
	}
	if _, err := s.run(ctx, addArgs...); err != nil {
		return err
	}

	status, err := s.run(ctx, "-C", dir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}

	_, err = s.run(ctx, "-C", dir, "commit", "--quiet", "-m", message)
	return err
}

// Push publishes local commits to the remote.
func (s *Shell) Push(ctx context.Context, dir string) error {
	_, err := s.run(ctx, "-C", dir, "push", "--quiet")
	return err
}

// Head returns the commit hash the working directory is at.
func (s *Shell) Head(ctx context.Context, dir string) (string, error) {
	return s.run(ctx, "-C", dir, "rev-parse", "HEAD")
}
