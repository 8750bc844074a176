package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record and field separators for commitLogFormat.
const (
	commitFieldSep  = "\x1f"
	commitRecordSep = "\x1e"
)

const commitLogFormat = "%H%x1f%h%x1f%an%x1f%ae%x1f%aI%x1f%P%x1f%s%x1e"

// CommitInfo describes a commit offered for cherry-picking.
type CommitInfo struct {
	SHA         string    `json:"sha"`
	ShortSHA    string    `json:"shortSha"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"authorEmail"`
	AuthoredAt  time.Time `json:"authoredAt"`
	Parents     []string  `json:"parents"`
	Subject     string    `json:"subject"`
	Source      string    `json:"source"` // ref the commit was selected from
}

// IsMerge reports whether the commit has more than one parent.
func (c CommitInfo) IsMerge() bool { return len(c.Parents) > 1 }

// SelectCommitsOptions configures SelectCommits.
type SelectCommitsOptions struct {
	Sources       []string
	BaseRef       string // defaults to HEAD
	IncludeMerges bool
	MaxCount      int // per source; 0 means no limit
}

// SelectCommits lists the commits each source has on top of BaseRef, oldest
// first, without duplicates across sources.
func (s *GitService) SelectCommits(ctx context.Context, repoPath string, opts SelectCommitsOptions) ([]CommitInfo, error) {
	base := opts.BaseRef
	if base == "" {
		base = "HEAD"
	}

	seen := make(map[string]bool)
	var commits []CommitInfo
	for _, src := range opts.Sources {
		args := []string{"log", "--reverse", "--format=" + commitLogFormat}
		if !opts.IncludeMerges {
			args = append(args, "--no-merges")
		}
		if opts.MaxCount > 0 {
			args = append(args, fmt.Sprintf("--max-count=%d", opts.MaxCount))
		}
		args = append(args, base+".."+src, "--")

		out, err := s.run(ctx, repoPath, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits of %s: %w", src, err)
		}
		for _, c := range parseCommitLog(out) {
			if seen[c.SHA] {
				continue
			}
			seen[c.SHA] = true
			c.Source = src
			commits = append(commits, c)
		}
	}
	return commits, nil
}

func parseCommitLog(out string) []CommitInfo {
	var commits []CommitInfo
	for rec := range strings.SplitSeq(out, commitRecordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec == "" {
			continue
		}
		f := strings.SplitN(rec, commitFieldSep, 7)
		if len(f) != 7 {
			continue
		}
		c := CommitInfo{
			SHA:         f[0],
			ShortSHA:    f[1],
			Author:      f[2],
			AuthorEmail: f[3],
			Parents:     strings.Fields(f[5]),
			Subject:     strings.TrimSpace(f[6]),
		}
		if t, err := time.Parse(time.RFC3339, f[4]); err == nil {
			c.AuthoredAt = t
		}
		commits = append(commits, c)
	}
	return commits
}
