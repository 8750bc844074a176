package git

import (
	"context"
	"fmt"
	"strings"
)

// ConflictType classifies an unmerged path by its two-letter porcelain code.
type ConflictType string

const (
	ConflictBothModified  ConflictType = "both_modified"
	ConflictBothAdded     ConflictType = "both_added"
	ConflictBothDeleted   ConflictType = "both_deleted"
	ConflictAddedByUs     ConflictType = "added_by_us"
	ConflictAddedByThem   ConflictType = "added_by_them"
	ConflictDeletedByUs   ConflictType = "deleted_by_us"
	ConflictDeletedByThem ConflictType = "deleted_by_them"
)

var conflictCodes = map[string]ConflictType{
	"UU": ConflictBothModified,
	"AA": ConflictBothAdded,
	"DD": ConflictBothDeleted,
	"AU": ConflictAddedByUs,
	"UA": ConflictAddedByThem,
	"DU": ConflictDeletedByUs,
	"UD": ConflictDeletedByThem,
}

// ConflictTypeFor maps a porcelain XY code to a conflict type.
func ConflictTypeFor(code string) (ConflictType, bool) {
	t, ok := conflictCodes[code]
	return t, ok
}

// ConflictEntry is one unmerged path.
type ConflictEntry struct {
	Path string       `json:"path"`
	Type ConflictType `json:"type"`
}

// StatusEntry is one record of "git status --porcelain=v1".
type StatusEntry struct {
	Code     string // two-letter XY code
	Path     string
	OrigPath string // rename/copy source, if any
}

// PorcelainStatus is the classified working tree state.
type PorcelainStatus struct {
	Entries   []StatusEntry
	Staged    []string
	Unstaged  []string
	Untracked []string
	Ignored   []string
	Unmerged  []ConflictEntry
}

// IsClean reports whether nothing is staged, modified, unmerged or untracked.
func (p *PorcelainStatus) IsClean() bool {
	return len(p.Staged) == 0 && len(p.Unstaged) == 0 && len(p.Untracked) == 0 && len(p.Unmerged) == 0
}

// HasTrackedChanges reports staged, unstaged or unmerged changes to tracked files.
func (p *PorcelainStatus) HasTrackedChanges() bool {
	return len(p.Staged) > 0 || len(p.Unstaged) > 0 || len(p.Unmerged) > 0
}

// Status returns the porcelain status of the working tree. Untracked
// directories are expanded to files.
func (s *GitService) Status(ctx context.Context, repoPath string, includeIgnored bool) (*PorcelainStatus, error) {
	args := []string{"status", "--porcelain=v1", "-z", "--untracked-files=all"}
	if includeIgnored {
		args = append(args, "--ignored")
	}
	out, err := s.run(ctx, repoPath, args...)
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}
	return parsePorcelainZ(out), nil
}

// parsePorcelainZ parses NUL-separated porcelain v1 output. Rename and copy
// records carry their source path in the following field.
func parsePorcelainZ(out string) *PorcelainStatus {
	st := &PorcelainStatus{}
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		rec := fields[i]
		if len(rec) < 4 {
			continue
		}
		e := StatusEntry{Code: rec[:2], Path: rec[3:]}
		x, y := e.Code[0], e.Code[1]
		if (x == 'R' || x == 'C') && i+1 < len(fields) {
			i++
			e.OrigPath = fields[i]
		}
		st.Entries = append(st.Entries, e)

		switch {
		case e.Code == "??":
			st.Untracked = append(st.Untracked, e.Path)
		case e.Code == "!!":
			st.Ignored = append(st.Ignored, e.Path)
		default:
			if t, ok := ConflictTypeFor(e.Code); ok {
				st.Unmerged = append(st.Unmerged, ConflictEntry{Path: e.Path, Type: t})
				continue
			}
			if x != ' ' {
				st.Staged = append(st.Staged, e.Path)
			}
			if y != ' ' {
				st.Unstaged = append(st.Unstaged, e.Path)
			}
		}
	}
	return st
}

// IsClean runs "git status --porcelain" and reports whether it is empty.
// Untracked files count as changes.
func (s *GitService) IsClean(ctx context.Context, repoPath string) (bool, error) {
	out, err := s.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// ConflictedEntries returns the unmerged paths of an in-progress merge or
// cherry-pick, classified by conflict type.
func (s *GitService) ConflictedEntries(ctx context.Context, repoPath string) []ConflictEntry {
	st, err := s.Status(ctx, repoPath, false)
	if err != nil {
		return nil
	}
	return st.Unmerged
}

// GetConflictedFiles returns the list of files with merge conflicts in a repo
func (s *GitService) GetConflictedFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := s.run(ctx, repoPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicted files: %w", err)
	}
	return splitLines(out), nil
}

// IsMergeInProgress checks if a merge is currently in progress in the repo.
// It returns true if MERGE_HEAD exists (meaning there's an ongoing merge).
func (s *GitService) IsMergeInProgress(ctx context.Context, repoPath string) bool {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return strings.TrimSpace(out) != ""
}

// IsCherryPickInProgress reports whether CHERRY_PICK_HEAD exists.
func (s *GitService) IsCherryPickInProgress(ctx context.Context, repoPath string) bool {
	out, _ := s.safe(ctx, repoPath, "rev-parse", "--verify", "--quiet", "CHERRY_PICK_HEAD")
	return strings.TrimSpace(out) != ""
}
