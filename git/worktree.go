package git

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudjubei/overseer-git/logger"
)

// AddDetachedWorktree creates a throwaway worktree at dir with HEAD detached
// at rev. The repository's own HEAD, index and working tree are untouched.
func (s *GitService) AddDetachedWorktree(ctx context.Context, repoPath, dir, rev string) error {
	if _, err := s.run(ctx, repoPath, "worktree", "add", "--detach", "--force", dir, rev); err != nil {
		return fmt.Errorf("git worktree add failed: %w", err)
	}
	return nil
}

// RemoveWorktree removes a worktree created by AddDetachedWorktree and prunes
// its administrative files. Removal errors are logged.
func (s *GitService) RemoveWorktree(ctx context.Context, repoPath, dir string) {
	log := logger.WithComponent("git")
	if _, err := s.run(ctx, repoPath, "worktree", "remove", "--force", dir); err != nil {
		log.Warn("failed to remove worktree", "dir", dir, "error", err)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn("failed to delete worktree directory", "dir", dir, "error", rmErr)
		}
	}
	s.safe(ctx, repoPath, "worktree", "prune")
}

// MergeTree performs a merge of ours and theirs entirely in the object
// database and returns the resulting tree and any conflicted paths. mergeBase,
// when set, overrides the computed merge base (used for cherry-picks).
func (s *GitService) MergeTree(ctx context.Context, repoPath, ours, theirs, mergeBase string) (tree string, conflicts []ConflictEntry, err error) {
	args := []string{"merge-tree", "--write-tree", "--no-messages"}
	if mergeBase != "" {
		args = append(args, "--merge-base="+mergeBase)
	}
	args = append(args, ours, theirs)

	// Exit status 1 means the merge had conflicts; the tree is still written.
	out, runErr := s.run(ctx, repoPath, args...)
	lines := strings.Split(out, "\n")
	tree = strings.TrimSpace(lines[0])
	if tree == "" {
		if runErr != nil {
			return "", nil, fmt.Errorf("git merge-tree failed: %w", runErr)
		}
		return "", nil, fmt.Errorf("git merge-tree produced no tree")
	}
	return tree, parseMergeTreeConflicts(lines[1:]), nil
}

// parseMergeTreeConflicts reads the conflicted file info section of
// merge-tree output, "<mode> <object> <stage>\t<path>" per line up to the
// first blank line, and classifies each path by the index stages present.
func parseMergeTreeConflicts(lines []string) []ConflictEntry {
	stages := make(map[string]*[4]bool)
	var order []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			break
		}
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		f := strings.Fields(meta)
		if len(f) != 3 {
			continue
		}
		n, err := strconv.Atoi(f[2])
		if err != nil || n < 1 || n > 3 {
			continue
		}
		st, seen := stages[path]
		if !seen {
			st = &[4]bool{}
			stages[path] = st
			order = append(order, path)
		}
		st[n] = true
	}

	conflicts := make([]ConflictEntry, 0, len(order))
	for _, path := range order {
		st := stages[path]
		base, ours, theirs := st[1], st[2], st[3]
		var t ConflictType
		switch {
		case ours && theirs && base:
			t = ConflictBothModified
		case ours && theirs:
			t = ConflictBothAdded
		case base && ours:
			t = ConflictDeletedByThem
		case base && theirs:
			t = ConflictDeletedByUs
		case ours:
			t = ConflictAddedByUs
		case theirs:
			t = ConflictAddedByThem
		default:
			t = ConflictBothDeleted
		}
		conflicts = append(conflicts, ConflictEntry{Path: path, Type: t})
	}
	return conflicts
}

// CommitTree records tree as a commit with the given parents, without
// updating any ref.
func (s *GitService) CommitTree(ctx context.Context, repoPath, tree, message string, committer *Identity, parents ...string) (string, error) {
	args := append(committer.args(), "commit-tree", tree, "-m", message)
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	sha, err := s.runTrimmed(ctx, repoPath, args...)
	if err != nil {
		return "", fmt.Errorf("git commit-tree failed: %w", err)
	}
	return sha, nil
}
