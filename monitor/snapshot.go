package monitor

import (
	"slices"
	"time"

	"github.com/cloudjubei/overseer-git/git"
)

// RepoSnapshot is the observed state of a repository after one tick.
type RepoSnapshot struct {
	OK            bool             `json:"ok"`
	RepoPath      string           `json:"repoPath"`
	Branches      []git.BranchInfo `json:"branches"`
	CurrentBranch string           `json:"currentBranch"`
	LastFetchAt   *time.Time       `json:"lastFetchAt"`
	LastUpdatedAt time.Time        `json:"lastUpdatedAt"`
	Error         string           `json:"error,omitempty"`
}

// Equal compares every field except LastUpdatedAt and LastFetchAt, which
// move on every tick even when nothing a subscriber cares about changed.
func (s RepoSnapshot) Equal(o RepoSnapshot) bool {
	return s.OK == o.OK &&
		s.RepoPath == o.RepoPath &&
		s.CurrentBranch == o.CurrentBranch &&
		s.Error == o.Error &&
		slices.EqualFunc(s.Branches, o.Branches, branchEqual)
}

func branchEqual(a, b git.BranchInfo) bool {
	return a.Name == b.Name && a.SHA == b.SHA && a.LastCommitAt.Equal(b.LastCommitAt)
}

// clone returns a copy that shares no slices with s.
func (s RepoSnapshot) clone() RepoSnapshot {
	c := s
	c.Branches = slices.Clone(s.Branches)
	if s.LastFetchAt != nil {
		t := *s.LastFetchAt
		c.LastFetchAt = &t
	}
	return c
}
