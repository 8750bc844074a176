package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloudjubei/overseer-git/featurebranch"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/story"
	"github.com/cloudjubei/overseer-git/telemetry"
)

// DiffProvider extracts embedded story state from a branch head.
type DiffProvider interface {
	AnalyzeHead(ctx context.Context, repoPath, headRef string) (*story.Analysis, error)
}

// StoryStateSink receives story state found on a branch head.
type StoryStateSink interface {
	Sync(ctx context.Context, repoPath string, payload story.Payload, meta story.SyncMeta) error
}

// AnalysisStats counts what one AnalyzeBranches pass did.
type AnalysisStats struct {
	Considered int `json:"considered"`
	Skipped    int `json:"skipped"`
	Analyzed   int `json:"analyzed"`
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
}

// Analyzer forwards story state from new feature-branch heads to a sink.
// Each head commit is analyzed at most once per branch.
type Analyzer struct {
	provider DiffProvider
	sink     StoryStateSink
	cache    *featurebranch.Cache
	locks    *repolock.Locker
}

// NewAnalyzer returns an Analyzer with a fresh cache. A nil sink analyzes
// without forwarding.
func NewAnalyzer(provider DiffProvider, sink StoryStateSink) *Analyzer {
	return &Analyzer{provider: provider, sink: sink, cache: featurebranch.NewCache()}
}

// UseLocker makes sink writes hold the repository write lock from l.
// A Watcher hands its own Locker to an Analyzer that has none.
func (a *Analyzer) UseLocker(l *repolock.Locker) {
	a.locks = l
}

// Cache exposes the analysis cache.
func (a *Analyzer) Cache() *featurebranch.Cache {
	return a.cache
}

// AnalyzeBranches runs over every feature branch in snap whose head has not
// been analyzed yet. A failing branch never stops the others.
func (a *Analyzer) AnalyzeBranches(ctx context.Context, snap RepoSnapshot) AnalysisStats {
	ctx, span := telemetry.Start(ctx, "monitor.analyze_branches", attribute.String("repo", snap.RepoPath))
	defer span.End()

	var stats AnalysisStats
	for _, b := range snap.Branches {
		ref, ok := featurebranch.Parse(b.Name)
		if !ok || b.SHA == "" {
			continue
		}
		stats.Considered++
		if !a.cache.ShouldAnalyze(b.Name, b.SHA) {
			stats.Skipped++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		synced, err := a.analyzeOne(ctx, snap.RepoPath, b.Name, b.SHA, ref)
		a.cache.MarkAnalyzed(b.Name, b.SHA)
		stats.Analyzed++
		if err != nil {
			stats.Failed++
			logger.WithRepo("monitor", snap.RepoPath).Warn("branch analysis failed", "branch", b.Name, "sha", b.SHA, "error", err)
			continue
		}
		if synced {
			stats.Synced++
		}
	}
	span.SetAttributes(
		attribute.Int("considered", stats.Considered),
		attribute.Int("analyzed", stats.Analyzed),
		attribute.Int("failed", stats.Failed),
	)
	return stats
}

func (a *Analyzer) analyzeOne(ctx context.Context, repoPath, branch, sha string, ref featurebranch.Ref) (synced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic analyzing %s: %v", branch, r)
		}
	}()

	// The listed sha, not the branch name: the branch may have moved since.
	analysis, err := a.provider.AnalyzeHead(ctx, repoPath, sha)
	if err != nil {
		return false, err
	}
	payload, ok := analysis.Payload()
	if !ok || a.sink == nil {
		return false, nil
	}

	storyID := ref.StoryID
	if storyID == "" {
		storyID = analysis.SummaryID()
	}
	if storyID == "" {
		return false, nil
	}

	commit := analysis.Commit
	if commit == "" {
		commit = sha
	}
	meta := story.SyncMeta{
		StoryID:   storyID,
		FeatureID: ref.FeatureID,
		Git:       story.GitMeta{Commit: commit, Branch: branch, StoryJSONPath: analysis.StoryJSONPath},
	}
	if err := a.sync(ctx, repoPath, payload, meta); err != nil {
		return false, fmt.Errorf("sync story %s: %w", storyID, err)
	}
	return true, nil
}

func (a *Analyzer) sync(ctx context.Context, repoPath string, payload story.Payload, meta story.SyncMeta) error {
	if a.locks == nil {
		return a.sink.Sync(ctx, repoPath, payload, meta)
	}
	release, err := a.locks.Lock(ctx, repoPath)
	if err != nil {
		return err
	}
	defer release()
	return a.sink.Sync(ctx, repoPath, payload, meta)
}
