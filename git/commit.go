package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudjubei/overseer-git/logger"
)

// MaxShowSize caps how much of a blob ShowFile returns.
const MaxShowSize = 2 << 20

// CommitAll stages everything and records a commit, conflict markers included.
// Used only inside throwaway worktrees.
func (s *GitService) CommitAll(ctx context.Context, worktreePath, message string, committer *Identity) error {
	logger.WithComponent("git").Debug("committing all changes", "worktree", worktreePath)

	if _, err := s.run(ctx, worktreePath, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	args := append(committer.args(), "commit", "--no-verify", "--allow-empty", "-m", message)
	if _, err := s.run(ctx, worktreePath, args...); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// ListTreeFiles lists every file path in the tree of rev. Advisory: an
// unknown revision yields nil.
func (s *GitService) ListTreeFiles(ctx context.Context, repoPath, rev string) []string {
	out, _ := s.safe(ctx, repoPath, "ls-tree", "-r", "--name-only", "-z", rev)
	var files []string
	for f := range strings.SplitSeq(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

// ShowFile returns the content of file at rev. Blobs larger than
// MaxShowSize are rejected.
func (s *GitService) ShowFile(ctx context.Context, repoPath, rev, file string) (string, error) {
	obj := rev + ":" + file
	size, err := s.runTrimmed(ctx, repoPath, "cat-file", "-s", obj)
	if err != nil {
		return "", fmt.Errorf("git cat-file failed for %s: %w", obj, err)
	}
	if n, _ := strconv.Atoi(size); n > MaxShowSize {
		return "", fmt.Errorf("%s is %d bytes, larger than %d", obj, n, MaxShowSize)
	}
	out, err := s.run(ctx, repoPath, "show", obj)
	if err != nil {
		return "", fmt.Errorf("git show failed for %s: %w", obj, err)
	}
	return out, nil
}
