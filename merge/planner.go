package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/telemetry"
)

// planIdentity authors the throwaway commits a plan creates.
var planIdentity = &git.Identity{Name: "overseer-git", Email: "overseer-git@localhost"}

// Planner computes merge and cherry-pick plans.
type Planner struct {
	git          *git.GitService
	locks        *repolock.Locker
	worktreeRoot string
}

// NewPlanner returns a Planner. Nil arguments select git.NewGitService()
// and repolock.Shared().
func NewPlanner(gitService *git.GitService, locks *repolock.Locker) *Planner {
	if gitService == nil {
		gitService = git.NewGitService()
	}
	if locks == nil {
		locks = repolock.Shared()
	}
	return &Planner{git: gitService, locks: locks}
}

// WithWorktreeRoot places temporary plan worktrees under dir instead of the
// system temp directory.
func (p *Planner) WithWorktreeRoot(dir string) *Planner {
	p.worktreeRoot = dir
	return p
}

// PlanOptions configures GetMergePlan.
type PlanOptions struct {
	RepoPath string
	Sources  []string
	// BaseRef defaults to the current branch, or HEAD when detached.
	BaseRef         string
	IncludePatch    bool
	MaxPatchedFiles int
	MaxPatchBytes   int
	// Mode defaults to PlanWorktree.
	Mode          PlanMode
	IncludeImpact bool
}

// CherryPickPlanOptions configures PlanCherryPick.
type CherryPickPlanOptions struct {
	RepoPath        string
	Commits         []string
	BaseRef         string
	IncludePatch    bool
	MaxPatchedFiles int
	MaxPatchBytes   int
	Mode            PlanMode
	IncludeImpact   bool
}

type planRequest struct {
	repoPath      string
	baseRef       string
	refs          []string
	cherryPick    bool
	includePatch  bool
	maxFiles      int
	maxBytes      int
	mode          PlanMode
	includeImpact bool
}

// GetMergePlan forecasts the changes merging opts.Sources into the base
// would make. The repository's HEAD, index and working tree are untouched.
func (p *Planner) GetMergePlan(ctx context.Context, opts PlanOptions) (*MergePlan, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}
	return p.plan(ctx, planRequest{
		repoPath:      opts.RepoPath,
		baseRef:       opts.BaseRef,
		refs:          opts.Sources,
		includePatch:  opts.IncludePatch,
		maxFiles:      opts.MaxPatchedFiles,
		maxBytes:      opts.MaxPatchBytes,
		mode:          opts.Mode,
		includeImpact: opts.IncludeImpact,
	})
}

// PlanCherryPick forecasts the changes of cherry-picking opts.Commits, in
// order, onto the base.
func (p *Planner) PlanCherryPick(ctx context.Context, opts CherryPickPlanOptions) (*MergePlan, error) {
	if len(opts.Commits) == 0 {
		return nil, ErrNoSources
	}
	return p.plan(ctx, planRequest{
		repoPath:      opts.RepoPath,
		baseRef:       opts.BaseRef,
		refs:          opts.Commits,
		cherryPick:    true,
		includePatch:  opts.IncludePatch,
		maxFiles:      opts.MaxPatchedFiles,
		maxBytes:      opts.MaxPatchBytes,
		mode:          opts.Mode,
		includeImpact: opts.IncludeImpact,
	})
}

// LocalStatus returns the staged, unstaged and untracked paths of the
// working tree. Unmerged paths are reported as unstaged.
func (p *Planner) LocalStatus(ctx context.Context, repoPath string, includeIgnored bool) (*LocalStatus, error) {
	root, err := git.ResolveRepoRoot(repoPath)
	if err != nil {
		return nil, err
	}
	release, err := p.locks.RLock(ctx, root)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.localStatus(ctx, root, includeIgnored)
}

func (p *Planner) localStatus(ctx context.Context, root string, includeIgnored bool) (*LocalStatus, error) {
	st, err := p.git.Status(ctx, root, includeIgnored)
	if err != nil {
		return nil, err
	}
	ls := &LocalStatus{
		Staged:    nonNil(st.Staged),
		Unstaged:  nonNil(st.Unstaged),
		Untracked: nonNil(st.Untracked),
	}
	for _, c := range st.Unmerged {
		ls.Unstaged = append(ls.Unstaged, c.Path)
	}
	if includeIgnored {
		ls.Ignored = nonNil(st.Ignored)
	}
	return ls, nil
}

func (p *Planner) plan(ctx context.Context, req planRequest) (_ *MergePlan, err error) {
	root, err := git.ResolveRepoRoot(req.repoPath)
	if err != nil {
		return nil, err
	}
	mode := req.mode
	if mode == "" {
		mode = PlanWorktree
	}
	if mode != PlanWorktree && mode != PlanMergeTree {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlanMode, mode)
	}
	base := req.baseRef
	if base == "" {
		if base = p.git.CurrentBranch(ctx, root); base == "" {
			base = "HEAD"
		}
	}

	release, err := p.locks.RLock(ctx, root)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := telemetry.Start(ctx, "merge.plan",
		attribute.String("repo", root),
		attribute.String("base", base),
		attribute.String("mode", string(mode)),
		attribute.Bool("cherryPick", req.cherryPick),
	)
	defer func() { telemetry.End(span, err) }()

	baseSHA, err := p.resolve(ctx, root, base)
	if err != nil {
		return nil, err
	}
	shas := make([]string, len(req.refs))
	for i, ref := range req.refs {
		if shas[i], err = p.resolve(ctx, root, ref); err != nil {
			return nil, err
		}
	}

	var result string
	var conflicts []git.ConflictEntry
	if mode == PlanMergeTree {
		result, conflicts, err = p.inObjects(ctx, root, baseSHA, shas, req.refs, req.cherryPick)
	} else {
		result, conflicts, err = p.inWorktree(ctx, root, baseSHA, shas, req.refs, req.cherryPick)
	}
	if err != nil {
		return nil, err
	}

	changes, err := p.git.DiffFiles(ctx, root, baseSHA, result)
	if err != nil {
		return nil, err
	}
	files := make([]FileChange, 0, len(changes))
	for _, c := range changes {
		files = append(files, fromGit(c))
	}
	plan := &MergePlan{
		SchemaVersion: SchemaVersion,
		RepoPath:      root,
		BaseRef:       base,
		Sources:       slices.Clone(req.refs),
		Files:         files,
		Totals:        git.Sum(changes),
		Conflicts:     conflicts,
	}

	if req.includePatch {
		lim := limits(req.maxFiles, req.maxBytes)
		plan.PatchesTruncated, err = p.attachPatches(ctx, root, baseSHA, result, plan.Files, lim)
		if err != nil {
			return nil, err
		}
	}
	if req.includeImpact {
		st, err := p.localStatus(ctx, root, false)
		if err != nil {
			return nil, err
		}
		impact := AnalyzeImpact(plan.Files, st)
		plan.ImpactOnLocal = &impact
	}

	span.SetAttributes(attribute.Int("files", len(plan.Files)), attribute.Int("conflicts", len(plan.Conflicts)))
	logger.WithRepo("merge", root).Debug("computed plan",
		"base", base, "sources", req.refs, "mode", mode, "files", len(plan.Files), "conflicts", len(plan.Conflicts))
	return plan, nil
}

func (p *Planner) resolve(ctx context.Context, root, ref string) (string, error) {
	sha, err := p.git.RevParse(ctx, root, ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s", git.ErrBranchNotFound, ref)
	}
	return sha, nil
}

// inWorktree replays the operation in a temporary worktree detached at
// baseSHA. A conflicted step is committed with its markers so later steps
// and the final diff still see it.
func (p *Planner) inWorktree(ctx context.Context, root, baseSHA string, shas, names []string, cherryPick bool) (string, []git.ConflictEntry, error) {
	if p.worktreeRoot != "" {
		if err := os.MkdirAll(p.worktreeRoot, 0o755); err != nil {
			return "", nil, fmt.Errorf("failed to create worktree root: %w", err)
		}
	}
	parent, err := os.MkdirTemp(p.worktreeRoot, "plan-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create plan directory: %w", err)
	}
	defer os.RemoveAll(parent)

	dir := filepath.Join(parent, "wt")
	if err := p.git.AddDetachedWorktree(ctx, root, dir, baseSHA); err != nil {
		return "", nil, err
	}
	defer p.git.RemoveWorktree(context.WithoutCancel(ctx), root, dir)

	var conflicts []git.ConflictEntry
	for i, sha := range shas {
		var stepErr error
		if cherryPick {
			stepErr = p.git.CherryPick(ctx, dir, []string{sha}, git.CherryPickOptions{Committer: planIdentity})
		} else {
			stepErr = p.git.Merge(ctx, dir, git.MergeOptions{
				Sources:          []string{sha},
				AllowFastForward: true,
				Message:          "plan: merge " + names[i],
				Committer:        planIdentity,
			})
		}
		if stepErr == nil {
			continue
		}

		found := p.git.ConflictedEntries(ctx, dir)
		if len(found) == 0 && !(cherryPick && p.git.IsCherryPickInProgress(ctx, dir)) {
			return "", nil, fmt.Errorf("replay %s: %w", names[i], stepErr)
		}
		conflicts = append(conflicts, found...)
		if err := p.git.CommitAll(ctx, dir, "plan: conflicted "+names[i], planIdentity); err != nil {
			return "", nil, err
		}
	}

	head, err := p.git.HeadSHA(ctx, dir)
	if err != nil {
		return "", nil, err
	}
	return head, dedupeConflicts(conflicts), nil
}

// inObjects chains merge-tree results through commit-tree. Nothing but
// unreferenced objects is written.
func (p *Planner) inObjects(ctx context.Context, root, baseSHA string, shas, names []string, cherryPick bool) (string, []git.ConflictEntry, error) {
	cur := baseSHA
	var conflicts []git.ConflictEntry
	for i, sha := range shas {
		mergeBase := ""
		parents := []string{cur, sha}
		if cherryPick {
			parent, err := p.git.RevParse(ctx, root, sha+"^")
			if err != nil {
				return "", nil, fmt.Errorf("cannot cherry-pick %s without a parent: %w", names[i], err)
			}
			mergeBase = parent
			parents = []string{cur}
		}

		tree, found, err := p.git.MergeTree(ctx, root, cur, sha, mergeBase)
		if err != nil {
			return "", nil, err
		}
		conflicts = append(conflicts, found...)
		cur, err = p.git.CommitTree(ctx, root, tree, "plan: "+names[i], planIdentity, parents...)
		if err != nil {
			return "", nil, err
		}
	}
	return cur, dedupeConflicts(conflicts), nil
}

type patchLimits struct {
	files int
	bytes int
}

func limits(maxFiles, maxBytes int) patchLimits {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxPatchedFiles
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPatchBytes
	}
	return patchLimits{files: maxFiles, bytes: maxBytes}
}

// attachPatches fetches per-file patches until a limit is reached. Files
// past the limit, and the file that crosses the byte budget, are marked
// PatchTruncated.
func (p *Planner) attachPatches(ctx context.Context, root, from, to string, files []FileChange, lim patchLimits) (bool, error) {
	used, patched, truncated := 0, 0, false
	for i := range files {
		f := &files[i]
		if f.Binary || f.Submodule {
			continue
		}
		if patched >= lim.files || used >= lim.bytes {
			f.PatchTruncated = true
			truncated = true
			continue
		}
		patch, err := p.git.DiffPatch(ctx, root, from, to, f.Path, f.RenameFrom)
		if err != nil {
			return truncated, err
		}
		patched++
		if remaining := lim.bytes - used; len(patch) > remaining {
			patch = truncateAtLine(patch, remaining)
			f.PatchTruncated = true
			truncated = true
		}
		f.Patch = patch
		used += len(patch)
		if f.PatchTruncated {
			used = lim.bytes
		}
	}
	return truncated, nil
}

// truncateAtLine cuts s to at most n bytes, ending on a line boundary when
// one exists.
func truncateAtLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, '\n'); i >= 0 {
		return cut[:i+1]
	}
	return cut
}

func dedupeConflicts(in []git.ConflictEntry) []git.ConflictEntry {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, c := range in {
		if seen[c.Path] {
			continue
		}
		seen[c.Path] = true
		out = append(out, c)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
