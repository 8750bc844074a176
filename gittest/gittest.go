// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// NewRepo creates a temporary repository on branch main with one commit
// containing test.txt.
func NewRepo(t testing.TB) string {
	t.Helper()

	dir := t.TempDir()
	Run(t, dir, "init")
	Run(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	Run(t, dir, "config", "user.email", "test@example.com")
	Run(t, dir, "config", "user.name", "Test User")
	Run(t, dir, "config", "commit.gpgsign", "false")
	Commit(t, dir, "test.txt", "test content", "Initial commit")
	return dir
}

// Run runs git in dir and fails the test on error. Output is trimmed.
func Run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t testing.TB, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

// Commit writes name and commits it with msg. It returns the new HEAD sha.
func Commit(t testing.TB, dir, name, content, msg string) string {
	t.Helper()
	WriteFile(t, dir, name, content)
	Run(t, dir, "add", name)
	Run(t, dir, "commit", "-m", msg)
	return Run(t, dir, "rev-parse", "HEAD")
}

// Branch creates branch at the current HEAD without switching to it.
func Branch(t testing.TB, dir, name string) {
	t.Helper()
	Run(t, dir, "branch", name)
}

// OnBranch checks out branch, runs fn, and returns to main.
func OnBranch(t testing.TB, dir, branch string, fn func()) {
	t.Helper()
	Run(t, dir, "checkout", "-q", branch)
	fn()
	Run(t, dir, "checkout", "-q", "main")
}

// RunErr runs git in dir and returns its trimmed output and error. Use it
// for commands that are expected to fail.
func RunErr(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
