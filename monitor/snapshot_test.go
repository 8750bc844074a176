package monitor

import (
	"testing"
	"time"

	"github.com/cloudjubei/overseer-git/git"
)

func TestRepoSnapshot_Equal(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetched := at.Add(-time.Minute)
	base := RepoSnapshot{
		OK:            true,
		RepoPath:      "/repo",
		CurrentBranch: "main",
		Branches:      []git.BranchInfo{{Name: "main", SHA: "aaa", LastCommitAt: at}},
		LastUpdatedAt: at,
		LastFetchAt:   &fetched,
	}

	tests := []struct {
		name   string
		mutate func(*RepoSnapshot)
		equal  bool
	}{
		{"identical", func(*RepoSnapshot) {}, true},
		{"timestamps only", func(s *RepoSnapshot) {
			s.LastUpdatedAt = at.Add(time.Hour)
			later := fetched.Add(time.Hour)
			s.LastFetchAt = &later
		}, true},
		{"fetch cleared", func(s *RepoSnapshot) { s.LastFetchAt = nil }, true},
		{"same instant other zone", func(s *RepoSnapshot) {
			s.Branches = []git.BranchInfo{{Name: "main", SHA: "aaa", LastCommitAt: at.In(time.FixedZone("x", 3600))}}
		}, true},
		{"sha moved", func(s *RepoSnapshot) {
			s.Branches = []git.BranchInfo{{Name: "main", SHA: "bbb", LastCommitAt: at}}
		}, false},
		{"branch added", func(s *RepoSnapshot) {
			s.Branches = append(s.Branches, git.BranchInfo{Name: "dev", SHA: "aaa"})
		}, false},
		{"current branch", func(s *RepoSnapshot) { s.CurrentBranch = "dev" }, false},
		{"error", func(s *RepoSnapshot) { s.Error = "boom" }, false},
		{"ok", func(s *RepoSnapshot) { s.OK = false }, false},
		{"repo", func(s *RepoSnapshot) { s.RepoPath = "/other" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.clone()
			tt.mutate(&other)
			if got := base.Equal(other); got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestRepoSnapshot_CloneIsIndependent(t *testing.T) {
	fetched := time.Now()
	s := RepoSnapshot{Branches: []git.BranchInfo{{Name: "main", SHA: "aaa"}}, LastFetchAt: &fetched}
	c := s.clone()
	c.Branches[0].SHA = "bbb"
	*c.LastFetchAt = fetched.Add(time.Hour)

	if s.Branches[0].SHA != "aaa" {
		t.Error("clone shares branches with original")
	}
	if !s.LastFetchAt.Equal(fetched) {
		t.Error("clone shares LastFetchAt with original")
	}
}
