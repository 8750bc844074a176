package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudjubei/overseer-git/exec"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/gittest"
	"github.com/cloudjubei/overseer-git/repolock"
)

const featureBranch = "features/11111111-1111-1111-1111-111111111111"

var ctx = context.Background()

// newFeatureRepo returns a repository whose feature branch adds a.txt on top
// of main.
func newFeatureRepo(t *testing.T) string {
	t.Helper()
	repo := gittest.NewRepo(t)
	gittest.Run(t, repo, "checkout", "-q", "-b", featureBranch)
	gittest.Commit(t, repo, "a.txt", "one\ntwo\n", "add a.txt")
	gittest.Run(t, repo, "checkout", "-q", "main")
	return repo
}

// newConflictRepo returns a repository where main and "theirs" both rewrote
// test.txt.
func newConflictRepo(t *testing.T) string {
	t.Helper()
	repo := gittest.NewRepo(t)
	gittest.Run(t, repo, "checkout", "-q", "-b", "theirs")
	gittest.Commit(t, repo, "test.txt", "theirs\n", "theirs")
	gittest.Run(t, repo, "checkout", "-q", "main")
	gittest.Commit(t, repo, "test.txt", "ours\n", "ours")
	return repo
}

// recordingService returns a GitService backed by real git whose calls are
// recorded.
func recordingService() (*git.GitService, *exec.MockExecutor) {
	mock := exec.NewMockExecutor(exec.NewRealExecutor())
	return git.NewGitServiceWithExecutor(mock), mock
}

func newTestPlanner() *Planner {
	return NewPlanner(nil, repolock.New("")).WithWorktreeRoot("")
}

func newTestApplier() *Applier {
	return NewApplier(nil, repolock.New(""))
}

// requireUntouched checks HEAD, the current branch and a clean tree.
func requireUntouched(t *testing.T, repo, head string) {
	t.Helper()
	require.Equal(t, head, gittest.Run(t, repo, "rev-parse", "HEAD"))
	require.Equal(t, "main", gittest.Run(t, repo, "rev-parse", "--abbrev-ref", "HEAD"))
	require.Empty(t, gittest.Run(t, repo, "status", "--porcelain"))
}

func readFile(t *testing.T, repo, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(repo, name))
	require.NoError(t, err)
	return string(data)
}
