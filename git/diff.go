package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// submoduleMode is the tree entry mode git uses for gitlinks.
const submoduleMode = "160000"

// GitFileChange is one path in a diff between two trees.
type GitFileChange struct {
	Path        string `json:"path"`
	Status      string `json:"status"` // A, M, D or R
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
	RenameFrom  string `json:"renameFrom,omitempty"`
	RenameScore int    `json:"renameScore,omitempty"`
	Binary      bool   `json:"binary,omitempty"`
	Submodule   bool   `json:"submodule,omitempty"`
	Patch       string `json:"patch,omitempty"`
}

// DiffTotals aggregates line counts over a diff.
type DiffTotals struct {
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
	FilesChanged int `json:"filesChanged"`
}

// DiffSummary is a file list plus totals.
type DiffSummary struct {
	Files  []GitFileChange `json:"files"`
	Totals DiffTotals      `json:"totals"`
}

// Sum computes totals for files.
func Sum(files []GitFileChange) DiffTotals {
	t := DiffTotals{FilesChanged: len(files)}
	for _, f := range files {
		t.Insertions += f.Additions
		t.Deletions += f.Deletions
	}
	return t
}

// DiffFiles lists the paths that differ between from and to, with rename
// detection and line counts. An empty to compares from with its own range
// expression (e.g. "base...head").
func (s *GitService) DiffFiles(ctx context.Context, repoPath, from, to string) ([]GitFileChange, error) {
	revs := diffRevs(from, to)

	rawOut, err := s.run(ctx, repoPath, append([]string{"diff", "--no-ext-diff", "--raw", "-M", "-z"}, revs...)...)
	if err != nil {
		return nil, fmt.Errorf("git diff --raw failed: %w", err)
	}
	numOut, err := s.run(ctx, repoPath, append([]string{"diff", "--no-ext-diff", "--numstat", "-M", "-z"}, revs...)...)
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat failed: %w", err)
	}

	changes := parseRawZ(rawOut)
	applyNumstatZ(changes, numOut)
	return changes, nil
}

// DiffPatch returns the unified diff of a single path between from and to.
// renameFrom, when set, is included so git can pair the rename.
func (s *GitService) DiffPatch(ctx context.Context, repoPath, from, to, path, renameFrom string) (string, error) {
	args := append([]string{"diff", "--no-ext-diff", "-M"}, diffRevs(from, to)...)
	args = append(args, "--")
	if renameFrom != "" {
		args = append(args, renameFrom)
	}
	args = append(args, path)
	out, err := s.run(ctx, repoPath, args...)
	if err != nil {
		return "", fmt.Errorf("git diff %s failed: %w", path, err)
	}
	return out, nil
}

// BranchDiffSummary summarises the changes head brings relative to its merge
// base with base. Patches are attached when includePatch is set.
func (s *GitService) BranchDiffSummary(ctx context.Context, repoPath, base, head string, includePatch bool) (*DiffSummary, error) {
	rangeExpr := base + "..." + head
	files, err := s.DiffFiles(ctx, repoPath, rangeExpr, "")
	if err != nil {
		return nil, err
	}
	if includePatch {
		for i := range files {
			if files[i].Binary || files[i].Submodule {
				continue
			}
			patch, err := s.DiffPatch(ctx, repoPath, rangeExpr, "", files[i].Path, files[i].RenameFrom)
			if err != nil {
				return nil, err
			}
			files[i].Patch = patch
		}
	}
	return &DiffSummary{Files: files, Totals: Sum(files)}, nil
}

func diffRevs(from, to string) []string {
	revs := []string{from}
	if to != "" {
		revs = append(revs, to)
	}
	return revs
}

// parseRawZ parses "git diff --raw -z" records:
//
//	:<srcmode> <dstmode> <srcsha> <dstsha> <status>\0<path>\0
//	:<srcmode> <dstmode> <srcsha> <dstsha> R<score>\0<src>\0<dst>\0
func parseRawZ(out string) []GitFileChange {
	var changes []GitFileChange
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		meta := strings.TrimPrefix(strings.TrimSpace(fields[i]), ":")
		parts := strings.Fields(meta)
		if len(parts) != 5 || i+1 >= len(fields) {
			continue
		}
		srcMode, dstMode, status := parts[0], parts[1], parts[4]

		c := GitFileChange{Submodule: srcMode == submoduleMode || dstMode == submoduleMode}
		switch status[0] {
		case 'R', 'C':
			if i+2 >= len(fields) {
				return changes
			}
			score, _ := strconv.Atoi(status[1:])
			if status[0] == 'R' {
				c.Status = "R"
				c.RenameFrom = fields[i+1]
				c.RenameScore = score
			} else {
				c.Status = "A"
			}
			c.Path = fields[i+2]
			i += 2
		case 'A':
			c.Status, c.Path = "A", fields[i+1]
			i++
		case 'D':
			c.Status, c.Path = "D", fields[i+1]
			i++
		default:
			// M, T (type change) and U all surface as modifications.
			c.Status, c.Path = "M", fields[i+1]
			i++
		}
		changes = append(changes, c)
	}
	return changes
}

// applyNumstatZ fills line counts from "git diff --numstat -z" output:
//
//	<add>\t<del>\t<path>\0
//	<add>\t<del>\t\0<src>\0<dst>\0
//
// Binary files report "-" for both counts.
func applyNumstatZ(changes []GitFileChange, out string) {
	byPath := make(map[string]*GitFileChange, len(changes))
	for i := range changes {
		byPath[changes[i].Path] = &changes[i]
	}

	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		parts := strings.SplitN(strings.TrimLeft(fields[i], "\n"), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		path := parts[2]
		if path == "" {
			if i+2 >= len(fields) {
				return
			}
			path = fields[i+2]
			i += 2
		}
		c, ok := byPath[path]
		if !ok {
			continue
		}
		if parts[0] == "-" && parts[1] == "-" {
			c.Binary = !c.Submodule
			continue
		}
		c.Additions, _ = strconv.Atoi(parts[0])
		c.Deletions, _ = strconv.Atoi(parts[1])
	}
}
