// ABOUTME: Integration tests for the git shell using local repositories
// ABOUTME: Skipped when the git binary is unavailable

package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// initRemote creates a local git repository with one committed file and
// returns its path, usable as a clone URL.
func initRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "--quiet")
	runGit(t, dir, "config", "user.email", "test@test.com")
	runGit(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# remote\n"), 0o644))
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "--quiet", "-m", "initial")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestClonePull(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	shell := NewShell()
	remote := initRemote(t)

	clone := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, shell.Clone(ctx, remote, clone))
	assert.FileExists(t, filepath.Join(clone, "README.md"))

	before, err := shell.Head(ctx, clone)
	require.NoError(t, err)

	// Advance the remote, pull, and observe the new head.
	require.NoError(t, os.WriteFile(filepath.Join(remote, "new.md"), []byte("new\n"), 0o644))
	runGit(t, remote, "add", "-A")
	runGit(t, remote, "commit", "--quiet", "-m", "second")

	require.NoError(t, shell.Pull(ctx, clone))
	after, err := shell.Head(ctx, clone)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.FileExists(t, filepath.Join(clone, "new.md"))
}

func TestClone_BadRemote(t *testing.T) {
	requireGit(t)
	shell := NewShell()
	err := shell.Clone(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), filepath.Join(t.TempDir(), "clone"))
	assert.Error(t, err)
}

func TestCommit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	shell := NewShell()
	remote := initRemote(t)

	clone := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, shell.Clone(ctx, remote, clone))
	runGit(t, clone, "config", "user.email", "test@test.com")
	runGit(t, clone, "config", "user.name", "Test")

	before, err := shell.Head(ctx, clone)
	require.NoError(t, err)

	// Commit with a clean tree is a no-op, not an error.
	require.NoError(t, shell.Commit(ctx, clone, "noop"))
	unchanged, err := shell.Head(ctx, clone)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	require.NoError(t, os.WriteFile(filepath.Join(clone, "task.md"), []byte("# task\n"), 0o644))
	require.NoError(t, shell.Commit(ctx, clone, "add task", "task.md"))

	after, err := shell.Head(ctx, clone)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}
