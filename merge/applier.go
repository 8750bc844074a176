package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/telemetry"
)

const autostashPrefix = "overseer-git autostash"

// Applier merges and cherry-picks into the checked-out repository. Only one
// apply runs per repository at a time.
type Applier struct {
	git     *git.GitService
	locks   *repolock.Locker
	planner *Planner
}

// NewApplier returns an Applier. Nil arguments select git.NewGitService()
// and repolock.Shared().
func NewApplier(gitService *git.GitService, locks *repolock.Locker) *Applier {
	p := NewPlanner(gitService, locks)
	return &Applier{git: p.git, locks: p.locks, planner: p}
}

// Planner returns the planner used for dry runs.
func (a *Applier) Planner() *Planner {
	return a.planner
}

// ApplyMergeOptions configures ApplyMerge.
type ApplyMergeOptions struct {
	RepoPath string
	Sources  []string
	// BaseRef defaults to the current branch.
	BaseRef          string
	Strategy         string
	AllowFastForward bool
	Signoff          bool
	// AutoStash stashes local edits before merging and restores them after.
	// Without it a dirty working tree is refused.
	AutoStash               bool
	IncludeUntrackedInStash bool
	// ConfirmWhenDirty refuses a dirty tree with ErrConfirmationRequired so
	// the caller can ask before stashing.
	ConfirmWhenDirty bool
	// DryRun returns a plan with impact analysis and changes nothing.
	DryRun bool
}

// ApplyCherryPickOptions configures ApplyCherryPick.
type ApplyCherryPickOptions struct {
	RepoPath                string
	Commits                 []string
	BaseRef                 string
	Signoff                 bool
	AutoStash               bool
	IncludeUntrackedInStash bool
	ConfirmWhenDirty        bool
	DryRun                  bool
}

type applyRequest struct {
	repoPath         string
	baseRef          string
	refs             []string
	cherryPick       bool
	strategy         string
	allowFF          bool
	signoff          bool
	autoStash        bool
	includeUntracked bool
	confirmWhenDirty bool
	dryRun           bool
}

// ApplyMerge merges opts.Sources into the base.
//
// Precondition failures are returned as errors before the repository is
// touched. A merge that fails is aborted and reported as a MergeResult with
// OK false and the conflicted paths.
func (a *Applier) ApplyMerge(ctx context.Context, opts ApplyMergeOptions) (*MergeResult, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}
	return a.apply(ctx, applyRequest{
		repoPath:         opts.RepoPath,
		baseRef:          opts.BaseRef,
		refs:             opts.Sources,
		strategy:         opts.Strategy,
		allowFF:          opts.AllowFastForward,
		signoff:          opts.Signoff,
		autoStash:        opts.AutoStash,
		includeUntracked: opts.IncludeUntrackedInStash,
		confirmWhenDirty: opts.ConfirmWhenDirty,
		dryRun:           opts.DryRun,
	})
}

// ApplyCherryPick cherry-picks opts.Commits, in order, onto the base. It
// follows the same rules as ApplyMerge.
func (a *Applier) ApplyCherryPick(ctx context.Context, opts ApplyCherryPickOptions) (*MergeResult, error) {
	if len(opts.Commits) == 0 {
		return nil, ErrNoSources
	}
	return a.apply(ctx, applyRequest{
		repoPath:         opts.RepoPath,
		baseRef:          opts.BaseRef,
		refs:             opts.Commits,
		cherryPick:       true,
		signoff:          opts.Signoff,
		autoStash:        opts.AutoStash,
		includeUntracked: opts.IncludeUntrackedInStash,
		confirmWhenDirty: opts.ConfirmWhenDirty,
		dryRun:           opts.DryRun,
	})
}

func (a *Applier) apply(ctx context.Context, req applyRequest) (_ *MergeResult, err error) {
	root, err := git.ResolveRepoRoot(req.repoPath)
	if err != nil {
		return nil, err
	}
	if req.dryRun {
		return a.dryRun(ctx, root, req)
	}

	release, err := a.locks.Lock(ctx, root)
	if err != nil {
		return nil, err
	}
	defer release()

	op := "merge"
	if req.cherryPick {
		op = "cherry-pick"
	}
	ctx, span := telemetry.Start(ctx, "merge.apply", attribute.String("repo", root), attribute.String("op", op))
	defer func() { telemetry.End(span, err) }()
	log := logger.WithRepo("merge", root)

	current := a.git.CurrentBranch(ctx, root)
	base, dirty, err := a.checkPreconditions(ctx, root, current, req)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{}
	var stash *git.StashEntry
	if dirty {
		stash, err = a.git.StashPush(ctx, root, autostashPrefix+" "+uuid.NewString(), req.includeUntracked)
		if err != nil {
			res.Message = err.Error()
			return res, nil
		}
		res.Stashed = stash != nil
	}

	switched := false
	if base != current {
		if err := a.git.CheckoutBranch(ctx, root, base); err != nil {
			res.Message = err.Error()
			a.restoreStash(ctx, root, stash, res)
			return res, nil
		}
		switched = true
	}

	before, _ := a.git.HeadSHA(ctx, root)
	log.Info("applying", "op", op, "base", base, "refs", req.refs, "stashed", res.Stashed)
	if opErr := a.run(ctx, root, req); opErr != nil {
		res.Conflicts = a.git.ConflictedEntries(ctx, root)
		var abortErr error
		if req.cherryPick {
			abortErr = a.git.AbortCherryPick(ctx, root)
		} else {
			abortErr = a.git.AbortMerge(ctx, root)
		}
		res.Aborted = abortErr == nil
		res.Message = failureMessage(op, opErr, res.Conflicts)
		if abortErr != nil {
			log.Error("failed to abort", "op", op, "error", abortErr)
			res.Message += "; abort failed: " + abortErr.Error()
		}
		log.Warn("apply failed", "op", op, "conflicts", len(res.Conflicts), "aborted", res.Aborted)
	} else {
		after, err := a.git.HeadSHA(ctx, root)
		if err != nil {
			return nil, err
		}
		res.OK = true
		res.MergeCommit = after
		switch {
		case after == before:
			res.Message = "already up to date"
		case !req.cherryPick && !a.isMergeCommit(ctx, root, after):
			res.FastForward = true
		}
		log.Info("applied", "op", op, "commit", after, "fastForward", res.FastForward)
	}

	if switched {
		if err := a.git.CheckoutBranch(ctx, root, current); err != nil {
			log.Error("failed to return to original branch", "branch", current, "error", err)
			res.Message = joinMessage(res.Message, "could not return to "+current+": "+err.Error())
		}
	}
	a.restoreStash(ctx, root, stash, res)
	return res, nil
}

// checkPreconditions resolves the base and verifies every ref before
// anything is changed. It reports whether the working tree is dirty.
func (a *Applier) checkPreconditions(ctx context.Context, root, current string, req applyRequest) (base string, dirty bool, err error) {
	base = req.baseRef
	if base == "" {
		base = current
	}
	if base == "" || base == "HEAD" {
		return "", false, git.ErrDetachedHead
	}
	if !a.git.BranchExists(ctx, root, base) {
		return "", false, fmt.Errorf("%w: %s", git.ErrBranchNotFound, base)
	}
	for _, ref := range req.refs {
		if !req.cherryPick && ref == base {
			return "", false, fmt.Errorf("%w: %s", git.ErrSelfMerge, ref)
		}
		if !a.git.RefExists(ctx, root, ref) {
			return "", false, fmt.Errorf("%w: %s", git.ErrBranchNotFound, ref)
		}
	}

	st, err := a.git.Status(ctx, root, false)
	if err != nil {
		return "", false, err
	}
	if len(st.Unmerged) > 0 || a.git.IsMergeInProgress(ctx, root) || a.git.IsCherryPickInProgress(ctx, root) {
		return "", false, fmt.Errorf("%w: an operation is already in progress", git.ErrDirtyWorktree)
	}
	dirty = !st.IsClean()
	if dirty {
		if req.confirmWhenDirty {
			return "", false, ErrConfirmationRequired
		}
		if !req.autoStash {
			return "", false, git.ErrDirtyWorktree
		}
	}
	return base, dirty, nil
}

func (a *Applier) run(ctx context.Context, root string, req applyRequest) error {
	if req.cherryPick {
		return a.git.CherryPick(ctx, root, req.refs, git.CherryPickOptions{Signoff: req.signoff})
	}
	return a.git.Merge(ctx, root, git.MergeOptions{
		Sources:          req.refs,
		AllowFastForward: req.allowFF,
		Strategy:         req.strategy,
		Signoff:          req.signoff,
	})
}

func (a *Applier) isMergeCommit(ctx context.Context, root, sha string) bool {
	return a.git.RefExists(ctx, root, sha+"^2")
}

// restoreStash pops stash and records the outcome on res. A stash that
// cannot be restored is left in the stash list.
func (a *Applier) restoreStash(ctx context.Context, root string, stash *git.StashEntry, res *MergeResult) {
	if stash == nil {
		return
	}
	if err := a.git.StashPop(ctx, root, stash); err != nil {
		logger.WithRepo("merge", root).Error("failed to restore stash", "stash", stash.SHA, "error", err)
		res.Message = joinMessage(res.Message, fmt.Sprintf("local changes kept in stash %s: %v", stash.SHA, err))
		return
	}
	res.RestoredStash = true
}

func (a *Applier) dryRun(ctx context.Context, root string, req applyRequest) (*MergeResult, error) {
	base := req.baseRef
	if base == "" {
		if base = a.git.CurrentBranch(ctx, root); base == "" {
			base = "HEAD"
		}
	}
	pr := planRequest{repoPath: root, baseRef: base, refs: req.refs, cherryPick: req.cherryPick, includeImpact: true}
	if !req.cherryPick {
		for _, ref := range req.refs {
			if ref == base {
				return nil, fmt.Errorf("%w: %s", git.ErrSelfMerge, ref)
			}
		}
	}
	plan, err := a.planner.plan(ctx, pr)
	if err != nil {
		return nil, err
	}
	res := &MergeResult{
		OK:        len(plan.Conflicts) == 0,
		DryRun:    true,
		Plan:      plan,
		Conflicts: plan.Conflicts,
		Message:   "dry run: no changes made",
	}
	return res, nil
}

func failureMessage(op string, err error, conflicts []git.ConflictEntry) string {
	if len(conflicts) > 0 {
		return fmt.Sprintf("%s stopped with %d conflict(s) and was aborted", op, len(conflicts))
	}
	var cmdErr *git.CommandError
	if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Stderr) != "" {
		return fmt.Sprintf("%s failed: %s", op, strings.TrimSpace(cmdErr.Stderr))
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

func joinMessage(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
