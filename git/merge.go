package git

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudjubei/overseer-git/logger"
)

// ReasonNoCommits is reported when a merge finds nothing to bring in.
const ReasonNoCommits = "No commits to merge"

// reasonSameBranch is reported when branch and base are the same ref.
const reasonSameBranch = "base equals branch"

// UnmergedStatus reports whether branch has commits that base lacks.
type UnmergedStatus struct {
	Branch      string `json:"branch"`
	Base        string `json:"base"`
	HasUnmerged bool   `json:"hasUnmerged"`
	AheadCount  int    `json:"aheadCount"`
	NotFound    bool   `json:"notFound,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// BranchMerge is the outcome of MergeBranchIntoBase.
type BranchMerge struct {
	Merged bool   `json:"merged"`
	Base   string `json:"base"`
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Identity overrides the committer for commands that create commits.
type Identity struct {
	Name  string
	Email string
}

func (id *Identity) args() []string {
	if id == nil {
		return nil
	}
	return []string{"-c", "user.name=" + id.Name, "-c", "user.email=" + id.Email}
}

// MergeOptions configures Merge.
type MergeOptions struct {
	Sources          []string
	AllowFastForward bool
	Strategy         string
	Signoff          bool
	Message          string
	Committer        *Identity
}

// CherryPickOptions configures CherryPick.
type CherryPickOptions struct {
	Signoff   bool
	Committer *Identity
}

// HasUnmergedCommits reports whether branch has commits not reachable from
// base. An empty base means the current branch.
func (s *GitService) HasUnmergedCommits(ctx context.Context, repoPath, branch, base string) (*UnmergedStatus, error) {
	root, err := ResolveRepoRoot(repoPath)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		return nil, ErrBranchRequired
	}
	if base == "" {
		base = s.CurrentBranch(ctx, root)
	}

	st := &UnmergedStatus{Branch: branch, Base: base}
	if base == branch {
		st.Reason = reasonSameBranch
		return st, nil
	}
	if !s.BranchExists(ctx, root, branch) {
		st.NotFound = true
		st.Reason = "branch not found"
		return st, nil
	}

	out, err := s.runTrimmed(ctx, root, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return nil, fmt.Errorf("failed to count unmerged commits: %w", err)
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return nil, fmt.Errorf("unexpected rev-list count %q: %w", out, err)
	}
	st.AheadCount = n
	st.HasUnmerged = n > 0
	return st, nil
}

// MergeBranchIntoBase merges branch into base with a merge commit.
//
// Preconditions are checked before anything is changed: the branch must
// differ from base, the working tree must be clean and the branch must exist.
// Base is then checked out and fast-forwarded from its upstream if it has
// one. A failed merge is aborted and returned as a *MergeError.
func (s *GitService) MergeBranchIntoBase(ctx context.Context, repoPath, branch, base string) (*BranchMerge, error) {
	log := logger.WithComponent("git")

	root, err := ResolveRepoRoot(repoPath)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		return nil, ErrBranchRequired
	}
	if base == "" {
		base = s.CurrentBranch(ctx, root)
	}
	if base == "" || base == "HEAD" {
		return nil, ErrDetachedHead
	}
	if base == branch {
		return nil, fmt.Errorf("%w: %s", ErrSelfMerge, branch)
	}
	clean, err := s.IsClean(ctx, root)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, ErrDirtyWorktree
	}
	if !s.BranchExists(ctx, root, branch) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}

	s.FetchAll(ctx, root)

	if err := s.CheckoutBranch(ctx, root, base); err != nil {
		return nil, err
	}
	if s.HasTrackingBranch(ctx, root, base) {
		if err := s.PullFastForward(ctx, root); err != nil {
			return nil, err
		}
	}

	st, err := s.HasUnmergedCommits(ctx, root, branch, base)
	if err != nil {
		return nil, err
	}
	if !st.HasUnmerged {
		return &BranchMerge{Merged: false, Base: base, Branch: branch, Reason: ReasonNoCommits}, nil
	}

	log.Info("merging branch into base", "branch", branch, "base", base, "repoPath", root)
	if _, err := s.run(ctx, root, "merge", "--no-ff", "--no-edit", branch); err != nil {
		conflicts := s.ConflictedEntries(ctx, root)
		abortErr := s.AbortMerge(ctx, root)
		if abortErr != nil {
			log.Error("failed to abort merge", "error", abortErr, "repoPath", root)
		}
		log.Warn("merge failed", "branch", branch, "base", base, "conflicts", len(conflicts), "error", err)
		return nil, &MergeError{Branch: branch, Base: base, Conflicts: conflicts, Aborted: abortErr == nil, Err: err}
	}

	commit, err := s.HeadSHA(ctx, root)
	if err != nil {
		return nil, err
	}
	log.Info("merged branch", "branch", branch, "base", base, "commit", commit)
	return &BranchMerge{Merged: true, Base: base, Branch: branch, Commit: commit}, nil
}

// Merge runs "git merge" for one or more sources on the checked-out branch.
// Several sources produce an octopus merge.
func (s *GitService) Merge(ctx context.Context, repoPath string, opts MergeOptions) error {
	if len(opts.Sources) == 0 {
		return fmt.Errorf("merge: %w", ErrBranchRequired)
	}
	args := append(opts.Committer.args(), "merge")
	if opts.AllowFastForward {
		args = append(args, "--ff")
	} else {
		args = append(args, "--no-ff")
	}
	if opts.Strategy != "" {
		args = append(args, "--strategy", opts.Strategy)
	}
	if opts.Signoff {
		args = append(args, "--signoff")
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	} else {
		args = append(args, "--no-edit")
	}
	args = append(args, opts.Sources...)
	_, err := s.run(ctx, repoPath, args...)
	return err
}

// CherryPick applies commits in order on the checked-out branch.
func (s *GitService) CherryPick(ctx context.Context, repoPath string, commits []string, opts CherryPickOptions) error {
	if len(commits) == 0 {
		return fmt.Errorf("cherry-pick: no commits given")
	}
	args := append(opts.Committer.args(), "cherry-pick", "--allow-empty")
	if opts.Signoff {
		args = append(args, "--signoff")
	}
	args = append(args, commits...)
	_, err := s.run(ctx, repoPath, args...)
	return err
}

// AbortMerge aborts an in-progress merge, falling back to "reset --merge".
func (s *GitService) AbortMerge(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "merge", "--abort"); err == nil {
		return nil
	}
	if _, err := s.run(ctx, repoPath, "reset", "--merge"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}

// AbortCherryPick aborts an in-progress cherry-pick, falling back to "reset --merge".
func (s *GitService) AbortCherryPick(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "cherry-pick", "--abort"); err == nil {
		return nil
	}
	if _, err := s.run(ctx, repoPath, "reset", "--merge"); err != nil {
		return fmt.Errorf("failed to abort cherry-pick: %w", err)
	}
	return nil
}
