package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/gittest"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/story"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []string
	fn    func(headRef string) (*story.Analysis, error)
}

func (p *fakeProvider) AnalyzeHead(_ context.Context, _, headRef string) (*story.Analysis, error) {
	p.mu.Lock()
	p.calls = append(p.calls, headRef)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(headRef)
	}
	return foundAnalysis("abc123"), nil
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type syncCall struct {
	payload story.Payload
	meta    story.SyncMeta
}

type fakeSink struct {
	mu    sync.Mutex
	calls []syncCall
	err   error
}

func (s *fakeSink) Sync(_ context.Context, _ string, payload story.Payload, meta story.SyncMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, syncCall{payload: payload, meta: meta})
	return s.err
}

func foundAnalysis(commit string) *story.Analysis {
	return &story.Analysis{
		OK:            true,
		Found:         true,
		Commit:        commit,
		StoryJSONPath: "stories/" + testStoryID + "/story.json",
		Raw:           map[string]any{"id": testStoryID, "status": "-"},
	}
}

func snapshotOf(branches ...git.BranchInfo) RepoSnapshot {
	return RepoSnapshot{OK: true, RepoPath: "/repo", Branches: branches, LastUpdatedAt: time.Now()}
}

func branch(name, sha string) git.BranchInfo {
	return git.BranchInfo{Name: name, SHA: sha}
}

func TestAnalyzer_SkipsNonFeatureBranches(t *testing.T) {
	provider := &fakeProvider{}
	a := NewAnalyzer(provider, &fakeSink{})

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(
		branch("main", "aaa"),
		branch("feature/foo", "bbb"),
		branch("features/not-a-uuid", "ccc"),
	))

	assert.Equal(t, AnalysisStats{}, stats)
	assert.Empty(t, provider.Calls())
}

func TestAnalyzer_AnalyzesEachHeadOnce(t *testing.T) {
	provider := &fakeProvider{}
	sink := &fakeSink{}
	a := NewAnalyzer(provider, sink)
	name := "features/" + testStoryID

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "sha1")))
	assert.Equal(t, AnalysisStats{Considered: 1, Analyzed: 1, Synced: 1}, stats)

	stats = a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "sha1")))
	assert.Equal(t, AnalysisStats{Considered: 1, Skipped: 1}, stats)

	stats = a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "sha2")))
	assert.Equal(t, 1, stats.Analyzed)

	assert.Equal(t, []string{"sha1", "sha2"}, provider.Calls())
	last, ok := a.Cache().Last(name)
	require.True(t, ok)
	assert.Equal(t, "sha2", last)
}

func TestAnalyzer_CacheIsPerBranch(t *testing.T) {
	provider := &fakeProvider{}
	a := NewAnalyzer(provider, &fakeSink{})
	first := "features/" + testStoryID
	second := "features/22222222-2222-2222-2222-222222222222"

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch(first, "same"), branch(second, "same")))
	assert.Equal(t, 2, stats.Analyzed)
	assert.Equal(t, []string{"same", "same"}, provider.Calls())
}

func TestAnalyzer_FailureIsNotRetried(t *testing.T) {
	provider := &fakeProvider{fn: func(string) (*story.Analysis, error) {
		return nil, errors.New("boom")
	}}
	sink := &fakeSink{}
	a := NewAnalyzer(provider, sink)
	name := "features/" + testStoryID

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "sha1")))
	assert.Equal(t, AnalysisStats{Considered: 1, Analyzed: 1, Failed: 1}, stats)

	stats = a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "sha1")))
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, provider.Calls(), 1)
	assert.Empty(t, sink.calls)
}

func TestAnalyzer_PanicIsIsolated(t *testing.T) {
	bad := "features/" + testStoryID
	good := "features/22222222-2222-2222-2222-222222222222"
	provider := &fakeProvider{fn: func(ref string) (*story.Analysis, error) {
		if ref == "s1" {
			panic("provider exploded")
		}
		return foundAnalysis("def456"), nil
	}}
	sink := &fakeSink{}
	a := NewAnalyzer(provider, sink)

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch(bad, "s1"), branch(good, "s2")))
	assert.Equal(t, AnalysisStats{Considered: 2, Analyzed: 2, Synced: 1, Failed: 1}, stats)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", sink.calls[0].meta.StoryID)
}

func TestAnalyzer_SinkReceivesBranchIdentity(t *testing.T) {
	featureID := "33333333-3333-3333-3333-333333333333"
	name := "features/" + testStoryID + "." + featureID
	sink := &fakeSink{}
	a := NewAnalyzer(&fakeProvider{}, sink)

	a.AnalyzeBranches(context.Background(), snapshotOf(branch(name, "headsha")))

	require.Len(t, sink.calls, 1)
	meta := sink.calls[0].meta
	assert.Equal(t, testStoryID, meta.StoryID)
	assert.Equal(t, featureID, meta.FeatureID)
	assert.Equal(t, story.GitMeta{
		Commit:        "abc123",
		Branch:        name,
		StoryJSONPath: "stories/" + testStoryID + "/story.json",
	}, meta.Git)
	assert.Equal(t, testStoryID, sink.calls[0].payload.Raw["id"])
}

func TestAnalyzer_CommitFallsBackToBranchHead(t *testing.T) {
	sink := &fakeSink{}
	a := NewAnalyzer(&fakeProvider{fn: func(string) (*story.Analysis, error) {
		return foundAnalysis(""), nil
	}}, sink)

	a.AnalyzeBranches(context.Background(), snapshotOf(branch("features/"+testStoryID, "headsha")))

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "headsha", sink.calls[0].meta.Git.Commit)
}

func TestAnalyzer_NothingFoundIsNotSynced(t *testing.T) {
	sink := &fakeSink{}
	a := NewAnalyzer(&fakeProvider{fn: func(string) (*story.Analysis, error) {
		return &story.Analysis{OK: true, Found: false}, nil
	}}, sink)

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch("features/"+testStoryID, "s")))
	assert.Equal(t, AnalysisStats{Considered: 1, Analyzed: 1}, stats)
	assert.Empty(t, sink.calls)
}

func TestAnalyzer_SinkErrorCountsAsFailure(t *testing.T) {
	sink := &fakeSink{err: story.ErrInvalidStory}
	a := NewAnalyzer(&fakeProvider{}, sink)

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch("features/"+testStoryID, "s")))
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Synced)
}

func TestAnalyzer_StopsOnCancelledContext(t *testing.T) {
	provider := &fakeProvider{}
	a := NewAnalyzer(provider, &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := a.AnalyzeBranches(ctx, snapshotOf(branch("features/"+testStoryID, "s")))
	assert.Equal(t, 0, stats.Analyzed)
	assert.Empty(t, provider.Calls())
	assert.True(t, a.Cache().ShouldAnalyze("features/"+testStoryID, "s"), "unattempted head stays pending")
}

// movingProvider analyzes real commits and, on its first call, commits
// once more to the branch so the listed head is no longer its tip.
type movingProvider struct {
	t      *testing.T
	repo   string
	branch string
	inner  *story.CommitAnalyzer
	moved  bool
}

func (p *movingProvider) AnalyzeHead(ctx context.Context, repoPath, headRef string) (*story.Analysis, error) {
	if !p.moved {
		p.moved = true
		gittest.OnBranch(p.t, p.repo, p.branch, func() {
			gittest.Commit(p.t, p.repo, "stories/"+testStoryID+"/story.json", `{"id":"`+testStoryID+`","status":"+"}`, "story done")
		})
	}
	return p.inner.AnalyzeHead(ctx, repoPath, headRef)
}

func TestAnalyzer_AnalyzesListedHeadWhenBranchMoves(t *testing.T) {
	repo := gittest.NewRepo(t)
	name := "features/" + testStoryID
	gittest.Run(t, repo, "checkout", "-q", "-b", name)
	listed := gittest.Commit(t, repo, "stories/"+testStoryID+"/story.json", `{"id":"`+testStoryID+`","status":"-"}`, "add story")
	gittest.Run(t, repo, "checkout", "-q", "main")

	gitService := git.NewGitService()
	provider := &movingProvider{t: t, repo: repo, branch: name, inner: story.NewCommitAnalyzer(gitService, "")}
	sink := &fakeSink{}
	a := NewAnalyzer(provider, sink)
	snap := func() RepoSnapshot {
		return RepoSnapshot{OK: true, RepoPath: repo, Branches: gitService.ListLocalBranches(context.Background(), repo)}
	}

	first := snap()
	stats := a.AnalyzeBranches(context.Background(), first)
	require.Equal(t, 1, stats.Synced)
	moved := gittest.Run(t, repo, "rev-parse", name)
	require.NotEqual(t, listed, moved)

	stats = a.AnalyzeBranches(context.Background(), snap())
	require.Equal(t, 1, stats.Synced)
	stats = a.AnalyzeBranches(context.Background(), snap())
	assert.Equal(t, 1, stats.Skipped)

	require.Len(t, sink.calls, 2)
	assert.Equal(t, listed, sink.calls[0].meta.Git.Commit)
	assert.Equal(t, moved, sink.calls[1].meta.Git.Commit)
	assert.Equal(t, "-", sink.calls[0].payload.Raw["status"])
	assert.Equal(t, "+", sink.calls[1].payload.Raw["status"])
}

// lockCheckSink reports whether the repository write lock was held while
// Sync ran by trying to take it from a second locker.
type lockCheckSink struct {
	other    *repolock.Locker
	excluded bool
}

func (s *lockCheckSink) Sync(_ context.Context, repoPath string, _ story.Payload, _ story.SyncMeta) error {
	release, ok, err := s.other.TryLock(repoPath)
	if err != nil {
		return err
	}
	if ok {
		release()
	}
	s.excluded = !ok
	return nil
}

func TestAnalyzer_SinkWritesHoldWriteLock(t *testing.T) {
	dir := t.TempDir()
	sink := &lockCheckSink{other: repolock.New(dir)}
	a := NewAnalyzer(&fakeProvider{}, sink)
	a.UseLocker(repolock.New(dir))

	stats := a.AnalyzeBranches(context.Background(), snapshotOf(branch("features/"+testStoryID, "sha1")))
	require.Equal(t, 1, stats.Synced)
	assert.True(t, sink.excluded, "sink ran without the repository write lock")
}
