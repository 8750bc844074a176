// Package report summarises what feature branches would bring into a base
// branch: ahead/behind counts, diff totals and the stories the changes
// belong to.
package report

import (
	"time"

	"github.com/cloudjubei/overseer-git/featurebranch"
	"github.com/cloudjubei/overseer-git/git"
)

// SchemaVersion is the serialization contract of BranchReport and
// WorkspaceReport.
const SchemaVersion = "1.0"

// Report kinds.
const (
	KindBranch    = "branch-report"
	KindWorkspace = "workspace-report"
)

// ChangeTotals is the line summary of a story group.
type ChangeTotals struct {
	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// StoryFeatureChange groups the files of a diff that belong to one story or
// feature. Both ids are empty for files no resolver could place.
type StoryFeatureChange struct {
	StoryID   string              `json:"storyId,omitempty"`
	FeatureID string              `json:"featureId,omitempty"`
	Files     []git.GitFileChange `json:"files"`
	Summary   ChangeTotals        `json:"summary"`
}

// BranchState is the position of a branch relative to the base.
type BranchState struct {
	Name                  string `json:"name"`
	HeadSHA               string `json:"headSha"`
	Ahead                 int    `json:"ahead"`
	Behind                int    `json:"behind"`
	HasUncommittedChanges bool   `json:"hasUncommittedChanges,omitempty"`
}

// FeatureCommit is a commit plus the story it was attributed to, if any.
type FeatureCommit struct {
	git.CommitInfo
	Feature *featurebranch.Ref `json:"feature,omitempty"`
}

// BranchReport describes one branch against a base.
type BranchReport struct {
	SchemaVersion string               `json:"schemaVersion"`
	Kind          string               `json:"kind"`
	GeneratedAt   time.Time            `json:"generatedAt"`
	RepoPath      string               `json:"repoPath"`
	BaseRef       string               `json:"baseRef"`
	HeadRef       string               `json:"headRef"`
	Branch        BranchState          `json:"branch"`
	Totals        git.DiffTotals       `json:"totals"`
	Files         []git.GitFileChange  `json:"files"`
	Groups        []StoryFeatureChange `json:"groups"`
	Commits       []FeatureCommit      `json:"commits,omitempty"`
}

// BranchError records a branch that could not be reported.
type BranchError struct {
	Branch string `json:"branch"`
	Error  string `json:"error"`
}

// WorkspaceReport lists the pending branches of a repository. A branch is
// pending when it has at least one commit the base lacks.
type WorkspaceReport struct {
	SchemaVersion string         `json:"schemaVersion"`
	Kind          string         `json:"kind"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	RepoPath      string         `json:"repoPath"`
	BaseRef       string         `json:"baseRef"`
	Branches      []BranchReport `json:"branches"`
	Errors        []BranchError  `json:"errors,omitempty"`
}

func totalsOf(files []git.GitFileChange) ChangeTotals {
	var t ChangeTotals
	for _, f := range files {
		t.Insertions += f.Additions
		t.Deletions += f.Deletions
	}
	return t
}
