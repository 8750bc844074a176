package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudjubei/overseer-git/logger"
)

// branchFieldSep separates fields in the for-each-ref format below. Only
// parseBranchLine knows about it.
const branchFieldSep = ":::"

// branchListFormat is the for-each-ref format consumed by parseBranchLine.
const branchListFormat = "%(refname:short)" + branchFieldSep + "%(objectname)" + branchFieldSep + "%(committerdate:iso8601)"

// gitISO8601 is the layout git uses for %(committerdate:iso8601).
const gitISO8601 = "2006-01-02 15:04:05 -0700"

// BranchInfo describes a local branch head.
type BranchInfo struct {
	Name         string    `json:"name"`
	SHA          string    `json:"sha"`
	LastCommitAt time.Time `json:"lastCommitAt"`
}

// Divergence counts the commits that separate a head from a base.
type Divergence struct {
	Behind int `json:"behind"` // commits in base missing from head
	Ahead  int `json:"ahead"`  // commits in head missing from base
}

// IsDiverged returns true if the branches have diverged (both ahead and behind).
func (d *Divergence) IsDiverged() bool {
	return d.Behind > 0 && d.Ahead > 0
}

// CanFastForward returns true if base can fast-forward to head.
func (d *Divergence) CanFastForward() bool {
	return d.Behind == 0
}

// ResolveRepoRoot returns the cleaned absolute path when it contains a .git
// entry, and ErrNotRepository otherwise.
func ResolveRepoRoot(repoPath string) (string, error) {
	if strings.TrimSpace(repoPath) == "" {
		return "", ErrNotRepository
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRepository, repoPath)
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRepository, abs)
	}
	return abs, nil
}

// ListLocalBranches returns every branch under refs/heads. Failures yield nil.
func (s *GitService) ListLocalBranches(ctx context.Context, repoPath string) []BranchInfo {
	out, _ := s.safe(ctx, repoPath, "for-each-ref", "--format="+branchListFormat, "refs/heads/")
	var branches []BranchInfo
	for _, line := range splitLines(out) {
		if b, ok := parseBranchLine(line); ok {
			branches = append(branches, b)
		}
	}
	return branches
}

// parseBranchLine parses one line of branchListFormat output.
func parseBranchLine(line string) (BranchInfo, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), branchFieldSep, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return BranchInfo{}, false
	}
	b := BranchInfo{Name: parts[0], SHA: parts[1]}
	if t, err := time.Parse(gitISO8601, strings.TrimSpace(parts[2])); err == nil {
		b.LastCommitAt = t
	}
	return b, true
}

// CurrentBranch returns the checked-out branch name, "HEAD" when detached,
// or "" when it cannot be determined.
func (s *GitService) CurrentBranch(ctx context.Context, repoPath string) string {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out)
}

// GetCurrentBranch returns the name of the currently checked out branch.
// Returns ErrDetachedHead when HEAD is not on a branch.
func (s *GitService) GetCurrentBranch(ctx context.Context, repoPath string) (string, error) {
	branch, err := s.runTrimmed(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if branch == "HEAD" {
		return "", ErrDetachedHead
	}
	return branch, nil
}

// LastFetchAt returns the modification time of .git/FETCH_HEAD, or nil when
// the repository has never fetched.
func LastFetchAt(repoPath string) *time.Time {
	info, err := os.Stat(filepath.Join(repoPath, ".git", "FETCH_HEAD"))
	if err != nil {
		return nil
	}
	t := info.ModTime()
	return &t
}

// FetchAll runs "git fetch --all --prune". Failures are logged and ignored.
func (s *GitService) FetchAll(ctx context.Context, repoPath string) {
	if _, stderr := s.safe(ctx, repoPath, "fetch", "--all", "--prune"); stderr != "" {
		logger.WithComponent("git").Debug("fetch --all reported", "repoPath", repoPath, "stderr", strings.TrimSpace(stderr))
	}
}

// BranchExists reports whether refs/heads/<branch> exists.
func (s *GitService) BranchExists(ctx context.Context, repoPath, branch string) bool {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return strings.TrimSpace(out) != ""
}

// RefExists reports whether ref resolves to a commit.
func (s *GitService) RefExists(ctx context.Context, repoPath, ref string) bool {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return strings.TrimSpace(out) != ""
}

// RevParse resolves ref to a full commit sha.
func (s *GitService) RevParse(ctx context.Context, repoPath, ref string) (string, error) {
	sha, err := s.runTrimmed(ctx, repoPath, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return sha, nil
}

// HeadSHA returns the commit HEAD points at.
func (s *GitService) HeadSHA(ctx context.Context, repoPath string) (string, error) {
	return s.RevParse(ctx, repoPath, "HEAD")
}

// MergeBase returns the best common ancestor of a and b.
func (s *GitService) MergeBase(ctx context.Context, repoPath, a, b string) (string, error) {
	sha, err := s.runTrimmed(ctx, repoPath, "merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("failed to find merge base of %s and %s: %w", a, b, err)
	}
	return sha, nil
}

// GetBranchDivergence returns how many commits head is behind and ahead of
// base. Uses git rev-list --count --left-right which outputs "behind\tahead".
func (s *GitService) GetBranchDivergence(ctx context.Context, repoPath, base, head string) (*Divergence, error) {
	out, err := s.runTrimmed(ctx, repoPath, "rev-list", "--count", "--left-right", base+"..."+head)
	if err != nil {
		return nil, fmt.Errorf("failed to get branch divergence: %w", err)
	}
	return parseDivergence(out)
}

func parseDivergence(out string) (*Divergence, error) {
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected rev-list output format: %q", out)
	}
	behind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse behind count: %w", err)
	}
	ahead, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ahead count: %w", err)
	}
	return &Divergence{Behind: behind, Ahead: ahead}, nil
}

// HasTrackingBranch checks if the given branch has an upstream tracking branch configured.
// Uses git config to check for branch.<name>.remote which is set when tracking is configured.
func (s *GitService) HasTrackingBranch(ctx context.Context, repoPath, branch string) bool {
	out, _ := s.safe(ctx, repoPath, "config", "--get", fmt.Sprintf("branch.%s.remote", branch))
	return strings.TrimSpace(out) != ""
}

// CheckoutBranch checks out the specified branch in the given repo.
// Returns an error if the checkout fails (e.g., uncommitted changes would be overwritten).
func (s *GitService) CheckoutBranch(ctx context.Context, repoPath, branch string) error {
	if _, err := s.run(ctx, repoPath, "checkout", branch); err != nil {
		return fmt.Errorf("git checkout %s: %w", branch, err)
	}
	logger.WithComponent("git").Info("checked out branch", "branch", branch, "repoPath", repoPath)
	return nil
}

// PullFastForward runs "git pull --ff-only" on the checked-out branch.
func (s *GitService) PullFastForward(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("git pull --ff-only: %w", err)
	}
	return nil
}
