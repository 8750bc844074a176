package report

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cloudjubei/overseer-git/featurebranch"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/telemetry"
)

// Diff summaries are keyed by commit shas.
const (
	diffCacheTTL   = 5 * time.Minute
	diffCachePurge = 10 * time.Minute
)

// Builder produces branch and workspace reports. It is safe for concurrent
// use.
type Builder struct {
	git   *git.GitService
	locks *repolock.Locker
	diffs *cache.Cache
	now   func() time.Time
}

// NewBuilder returns a Builder. A nil gitService uses git.NewGitService()
// and nil locks use repolock.Shared(). Reports are built under the
// repository read lock, so they never observe an apply half-way through.
func NewBuilder(gitService *git.GitService, locks *repolock.Locker) *Builder {
	if gitService == nil {
		gitService = git.NewGitService()
	}
	if locks == nil {
		locks = repolock.Shared()
	}
	return &Builder{
		git:   gitService,
		locks: locks,
		diffs: cache.New(diffCacheTTL, diffCachePurge),
		now:   time.Now,
	}
}

// BranchOptions configures BuildBranchReport.
type BranchOptions struct {
	RepoPath string
	// BaseRef defaults to the current branch.
	BaseRef        string
	HeadRef        string
	IncludePatch   bool
	IncludeCommits bool
	// Resolver defaults to BranchNameResolver.
	Resolver StoryResolver
}

// WorkspaceOptions configures BuildWorkspaceReport.
type WorkspaceOptions struct {
	RepoPath string
	// BaseRef defaults to the current branch.
	BaseRef string
	// Branches defaults to every local branch.
	Branches     []string
	IncludePatch bool
	Resolver     StoryResolver
	// Filter selects candidate branches. Defaults to featurebranch.IsFeatureBranch.
	Filter func(branch string) bool
}

// BuildWorkspaceReport reports every candidate branch that is ahead of the
// base. A branch that fails is recorded in Errors and does not stop the
// others.
func (b *Builder) BuildWorkspaceReport(ctx context.Context, opts WorkspaceOptions) (_ *WorkspaceReport, err error) {
	root, err := git.ResolveRepoRoot(opts.RepoPath)
	if err != nil {
		return nil, err
	}
	release, err := b.locks.RLock(ctx, root)
	if err != nil {
		return nil, err
	}
	defer release()
	base, err := b.resolveBase(ctx, root, opts.BaseRef)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "report.workspace", attribute.String("repo", root), attribute.String("base", base))
	defer func() { telemetry.End(span, err) }()

	filter := opts.Filter
	if filter == nil {
		filter = featurebranch.IsFeatureBranch
	}
	candidates := opts.Branches
	if len(candidates) == 0 {
		for _, br := range b.git.ListLocalBranches(ctx, root) {
			candidates = append(candidates, br.Name)
		}
	}

	log := logger.WithRepo("report", root)
	ws := &WorkspaceReport{
		SchemaVersion: SchemaVersion,
		Kind:          KindWorkspace,
		GeneratedAt:   b.now(),
		RepoPath:      root,
		BaseRef:       base,
		Branches:      []BranchReport{},
	}
	for _, name := range candidates {
		if name == base || !filter(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		br, err := b.branchReport(ctx, root, BranchOptions{
			RepoPath:     root,
			BaseRef:      base,
			HeadRef:      name,
			IncludePatch: opts.IncludePatch,
			Resolver:     opts.Resolver,
		})
		if err != nil {
			log.Warn("branch report failed", "branch", name, "error", err)
			ws.Errors = append(ws.Errors, BranchError{Branch: name, Error: err.Error()})
			continue
		}
		if br.Branch.Ahead > 0 {
			ws.Branches = append(ws.Branches, *br)
		}
	}
	span.SetAttributes(attribute.Int("pending", len(ws.Branches)))
	return ws, nil
}

// BuildBranchReport reports HeadRef against BaseRef.
func (b *Builder) BuildBranchReport(ctx context.Context, opts BranchOptions) (*BranchReport, error) {
	root, err := git.ResolveRepoRoot(opts.RepoPath)
	if err != nil {
		return nil, err
	}
	if opts.HeadRef == "" {
		return nil, git.ErrBranchRequired
	}
	release, err := b.locks.RLock(ctx, root)
	if err != nil {
		return nil, err
	}
	defer release()
	return b.branchReport(ctx, root, opts)
}

func (b *Builder) branchReport(ctx context.Context, root string, opts BranchOptions) (*BranchReport, error) {
	base, err := b.resolveBase(ctx, root, opts.BaseRef)
	if err != nil {
		return nil, err
	}

	baseSHA, err := b.git.RevParse(ctx, root, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", git.ErrBranchNotFound, base)
	}
	headSHA, err := b.git.RevParse(ctx, root, opts.HeadRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", git.ErrBranchNotFound, opts.HeadRef)
	}

	div, err := b.git.GetBranchDivergence(ctx, root, baseSHA, headSHA)
	if err != nil {
		return nil, err
	}
	diff, err := b.diffSummary(ctx, root, baseSHA, headSHA, opts.IncludePatch)
	if err != nil {
		return nil, err
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = BranchNameResolver
	}
	groups, err := resolver(ctx, StoryResolverArgs{RepoPath: root, BaseRef: base, HeadRef: opts.HeadRef, Diff: diff})
	if err != nil {
		return nil, fmt.Errorf("resolve stories for %s: %w", opts.HeadRef, err)
	}
	if groups == nil {
		groups = []StoryFeatureChange{}
	}

	rep := &BranchReport{
		SchemaVersion: SchemaVersion,
		Kind:          KindBranch,
		GeneratedAt:   b.now(),
		RepoPath:      root,
		BaseRef:       base,
		HeadRef:       opts.HeadRef,
		Branch: BranchState{
			Name:    opts.HeadRef,
			HeadSHA: headSHA,
			Ahead:   div.Ahead,
			Behind:  div.Behind,
		},
		Totals: diff.Totals,
		Files:  diff.Files,
		Groups: groups,
	}
	if b.git.CurrentBranch(ctx, root) == opts.HeadRef {
		if clean, err := b.git.IsClean(ctx, root); err == nil {
			rep.Branch.HasUncommittedChanges = !clean
		}
	}
	if opts.IncludeCommits {
		commits, err := b.git.SelectCommits(ctx, root, git.SelectCommitsOptions{Sources: []string{opts.HeadRef}, BaseRef: baseSHA})
		if err != nil {
			return nil, err
		}
		rep.Commits = AttributeCommits(commits)
	}
	return rep, nil
}

func (b *Builder) resolveBase(ctx context.Context, root, base string) (string, error) {
	if base != "" {
		return base, nil
	}
	base = b.git.CurrentBranch(ctx, root)
	if base == "" || base == "HEAD" {
		return "", git.ErrDetachedHead
	}
	return base, nil
}

// diffSummary returns the memoised summary of baseSHA...headSHA. Callers get
// their own copy of the file list.
func (b *Builder) diffSummary(ctx context.Context, root, baseSHA, headSHA string, patch bool) (*git.DiffSummary, error) {
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%t", root, baseSHA, headSHA, patch)
	if v, ok := b.diffs.Get(key); ok {
		return cloneSummary(v.(*git.DiffSummary)), nil
	}
	d, err := b.git.BranchDiffSummary(ctx, root, baseSHA, headSHA, patch)
	if err != nil {
		return nil, err
	}
	if d.Files == nil {
		d.Files = []git.GitFileChange{}
	}
	b.diffs.Set(key, d, cache.DefaultExpiration)
	return cloneSummary(d), nil
}

func cloneSummary(d *git.DiffSummary) *git.DiffSummary {
	c := *d
	c.Files = slices.Clone(d.Files)
	return &c
}
