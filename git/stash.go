package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudjubei/overseer-git/logger"
)

// StashEntry identifies a stash created by StashPush.
type StashEntry struct {
	SHA     string
	Message string
}

// StashPush stashes local changes. It returns nil when there was nothing to
// stash. includeUntracked adds "--include-untracked".
func (s *GitService) StashPush(ctx context.Context, repoPath, message string, includeUntracked bool) (*StashEntry, error) {
	before := s.stashTop(ctx, repoPath)

	args := []string{"stash", "push", "-m", message}
	if includeUntracked {
		args = append(args, "--include-untracked")
	}
	if _, err := s.run(ctx, repoPath, args...); err != nil {
		return nil, fmt.Errorf("git stash push failed: %w", err)
	}

	after := s.stashTop(ctx, repoPath)
	if after == "" || after == before {
		return nil, nil
	}
	logger.WithComponent("git").Info("stashed local changes", "repoPath", repoPath, "stash", after, "message", message)
	return &StashEntry{SHA: after, Message: message}, nil
}

// StashPop restores entry, which must still be the newest stash, keeping
// staged changes staged. On failure the stash is left in place.
func (s *GitService) StashPop(ctx context.Context, repoPath string, entry *StashEntry) error {
	if entry == nil {
		return nil
	}
	if top := s.stashTop(ctx, repoPath); top != entry.SHA {
		return fmt.Errorf("stash %s is no longer the newest stash entry", entry.SHA)
	}
	if _, err := s.run(ctx, repoPath, "stash", "pop", "--index"); err != nil {
		return fmt.Errorf("git stash pop failed: %w", err)
	}
	logger.WithComponent("git").Info("restored stashed changes", "repoPath", repoPath, "stash", entry.SHA)
	return nil
}

func (s *GitService) stashTop(ctx context.Context, repoPath string) string {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/stash")
	return strings.TrimSpace(out)
}
