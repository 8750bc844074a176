package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjubei/overseer-git/exec"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/gittest"
	"github.com/cloudjubei/overseer-git/repolock"
)

const storyID = "11111111-1111-1111-1111-111111111111"

var featureBranch = "features/" + storyID

// newScenarioRepo builds main plus a branch holding one commit that adds a.txt.
func newScenarioRepo(t *testing.T, branch string) string {
	t.Helper()
	repo := gittest.NewRepo(t)
	gittest.Run(t, repo, "checkout", "-q", "-b", branch)
	gittest.Commit(t, repo, "a.txt", "alpha\nbeta\n", "add a.txt")
	gittest.Run(t, repo, "checkout", "-q", "main")
	return repo
}

func fixedBuilder() *Builder {
	b := NewBuilder(nil, repolock.New(""))
	b.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return b
}

func TestBuildWorkspaceReport_FeatureBranchPending(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	b := fixedBuilder()

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{RepoPath: repo})
	require.NoError(t, err)

	assert.Equal(t, KindWorkspace, ws.Kind)
	assert.Equal(t, SchemaVersion, ws.SchemaVersion)
	assert.Equal(t, "main", ws.BaseRef)
	assert.Empty(t, ws.Errors)
	require.Len(t, ws.Branches, 1)

	br := ws.Branches[0]
	assert.Equal(t, KindBranch, br.Kind)
	assert.Equal(t, featureBranch, br.Branch.Name)
	assert.Equal(t, 1, br.Branch.Ahead)
	assert.Equal(t, 0, br.Branch.Behind)
	assert.Equal(t, gittest.Run(t, repo, "rev-parse", featureBranch), br.Branch.HeadSHA)
	assert.Equal(t, git.DiffTotals{Insertions: 2, FilesChanged: 1}, br.Totals)
	require.Len(t, br.Files, 1)
	assert.Equal(t, "a.txt", br.Files[0].Path)
	assert.Equal(t, "A", br.Files[0].Status)

	require.Len(t, br.Groups, 1)
	assert.Equal(t, storyID, br.Groups[0].StoryID)
	assert.Equal(t, ChangeTotals{Insertions: 2}, br.Groups[0].Summary)
}

func TestBuildWorkspaceReport_ExcludesNonFeatureBranch(t *testing.T) {
	repo := newScenarioRepo(t, "not-a-feature-branch")
	b := fixedBuilder()

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{
		RepoPath: repo,
		Branches: []string{"not-a-feature-branch"},
	})
	require.NoError(t, err)
	assert.Empty(t, ws.Branches)
	assert.Empty(t, ws.Errors)

	// The branch is ahead; only the filter keeps it out.
	br, err := b.BuildBranchReport(context.Background(), BranchOptions{RepoPath: repo, HeadRef: "not-a-feature-branch"})
	require.NoError(t, err)
	assert.Equal(t, 1, br.Branch.Ahead)
	assert.Empty(t, br.Groups)
}

func TestBuildWorkspaceReport_OnlyAheadBranchesArePending(t *testing.T) {
	repo := gittest.NewRepo(t)
	gittest.Branch(t, repo, featureBranch) // same commit as main
	b := fixedBuilder()

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{RepoPath: repo})
	require.NoError(t, err)
	assert.Empty(t, ws.Branches)
	assert.NotNil(t, ws.Branches)
}

func TestBuildWorkspaceReport_FailingBranchIsRecorded(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	b := fixedBuilder()
	missing := "features/22222222-2222-2222-2222-222222222222"

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{
		RepoPath: repo,
		Branches: []string{missing, featureBranch},
	})
	require.NoError(t, err)
	require.Len(t, ws.Branches, 1)
	require.Len(t, ws.Errors, 1)
	assert.Equal(t, missing, ws.Errors[0].Branch)
}

func TestBuildWorkspaceReport_CustomFilterAndResolver(t *testing.T) {
	repo := newScenarioRepo(t, "topic")
	b := fixedBuilder()
	calls := 0
	resolver := func(_ context.Context, args StoryResolverArgs) ([]StoryFeatureChange, error) {
		calls++
		assert.Equal(t, "topic", args.HeadRef)
		assert.Equal(t, "main", args.BaseRef)
		return []StoryFeatureChange{{StoryID: "custom", Files: args.Diff.Files}}, nil
	}

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{
		RepoPath: repo,
		BaseRef:  "main",
		Filter:   func(string) bool { return true },
		Resolver: resolver,
	})
	require.NoError(t, err)
	require.Len(t, ws.Branches, 1)
	assert.Equal(t, "custom", ws.Branches[0].Groups[0].StoryID)
	assert.Equal(t, 1, calls)
}

func TestBuildWorkspaceReport_ResolverErrorIsPerBranch(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	b := fixedBuilder()

	ws, err := b.BuildWorkspaceReport(context.Background(), WorkspaceOptions{
		RepoPath: repo,
		Resolver: func(context.Context, StoryResolverArgs) ([]StoryFeatureChange, error) {
			return nil, errors.New("resolver down")
		},
	})
	require.NoError(t, err)
	assert.Empty(t, ws.Branches)
	require.Len(t, ws.Errors, 1)
	assert.Contains(t, ws.Errors[0].Error, "resolver down")
}

func TestBuildWorkspaceReport_NotARepository(t *testing.T) {
	_, err := NewBuilder(nil, repolock.New("")).BuildWorkspaceReport(context.Background(), WorkspaceOptions{RepoPath: t.TempDir()})
	assert.ErrorIs(t, err, git.ErrNotRepository)
}

func TestBuildBranchReport_RequiresHead(t *testing.T) {
	repo := gittest.NewRepo(t)
	_, err := NewBuilder(nil, repolock.New("")).BuildBranchReport(context.Background(), BranchOptions{RepoPath: repo})
	assert.ErrorIs(t, err, git.ErrBranchRequired)
}

func TestBuildBranchReport_Commits(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	br, err := fixedBuilder().BuildBranchReport(context.Background(), BranchOptions{
		RepoPath:       repo,
		HeadRef:        featureBranch,
		IncludeCommits: true,
		IncludePatch:   true,
	})
	require.NoError(t, err)
	require.Len(t, br.Commits, 1)
	assert.Equal(t, "add a.txt", br.Commits[0].Subject)
	require.NotNil(t, br.Commits[0].Feature)
	assert.Equal(t, storyID, br.Commits[0].Feature.StoryID)
	assert.Contains(t, br.Files[0].Patch, "+alpha")
}

func TestBuildBranchReport_UncommittedChangesOnCheckedOutHead(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	gittest.Run(t, repo, "checkout", "-q", featureBranch)
	gittest.WriteFile(t, repo, "a.txt", "edited\n")

	br, err := fixedBuilder().BuildBranchReport(context.Background(), BranchOptions{
		RepoPath: repo,
		BaseRef:  "main",
		HeadRef:  featureBranch,
	})
	require.NoError(t, err)
	assert.True(t, br.Branch.HasUncommittedChanges)
}

func TestBuilder_DiffSummaryIsMemoised(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	baseSHA := gittest.Run(t, repo, "rev-parse", "main")
	headSHA := gittest.Run(t, repo, "rev-parse", featureBranch)

	mock := exec.NewMockExecutor(exec.NewRealExecutor())
	b := NewBuilder(git.NewGitServiceWithExecutor(mock), repolock.New(""))
	ctx := context.Background()

	first, err := b.diffSummary(ctx, repo, baseSHA, headSHA, false)
	require.NoError(t, err)
	calls := len(mock.GetCalls())

	second, err := b.diffSummary(ctx, repo, baseSHA, headSHA, false)
	require.NoError(t, err)
	assert.Equal(t, calls, len(mock.GetCalls()), "second lookup should not run git")
	assert.Equal(t, first, second)

	// Callers own their copy.
	second.Files[0].Path = "changed"
	third, err := b.diffSummary(ctx, repo, baseSHA, headSHA, false)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", third.Files[0].Path)

	_, err = b.diffSummary(ctx, repo, baseSHA, headSHA, true)
	require.NoError(t, err)
	assert.Greater(t, len(mock.GetCalls()), calls, "patch flag is part of the key")
}

func TestBuilder_WaitsForWriter(t *testing.T) {
	repo := newScenarioRepo(t, featureBranch)
	root, err := git.ResolveRepoRoot(repo)
	require.NoError(t, err)
	locks := repolock.New("")
	b := NewBuilder(nil, locks)

	release, err := locks.Lock(context.Background(), root)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.BuildWorkspaceReport(ctx, WorkspaceOptions{RepoPath: repo, BaseRef: "main"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = b.BuildBranchReport(ctx, BranchOptions{RepoPath: repo, BaseRef: "main", HeadRef: featureBranch})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := b.BuildBranchReport(context.Background(), BranchOptions{RepoPath: repo, BaseRef: "main", HeadRef: featureBranch})
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("report built while an apply held the repository")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("report never built after the lock was released")
	}
}
