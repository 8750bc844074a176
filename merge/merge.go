// Package merge forecasts and applies merges and cherry-picks.
//
// A Planner computes what merging a set of sources into a base would change
// without touching the repository's HEAD, index or working tree. An Applier
// performs the operation for real under the repository write lock, stashing
// local edits when asked and aborting cleanly on conflict.
package merge

import (
	"errors"

	"github.com/cloudjubei/overseer-git/git"
)

// SchemaVersion is the serialization contract of plans, results and
// reports. 1.1 added forecast conflicts to MergePlan.
const SchemaVersion = "1.1"

// KindMergeReport identifies a MergeReport.
const KindMergeReport = "merge-report"

// Patch limits applied when a caller does not set them.
const (
	DefaultMaxPatchedFiles = 50
	DefaultMaxPatchBytes   = 256 << 10
)

var (
	ErrNoSources            = errors.New("at least one source is required")
	ErrConfirmationRequired = errors.New("working tree has local changes; confirmation required")
	ErrInvalidPlanMode      = errors.New("unknown plan mode")
)

// PlanMode selects how a plan is computed.
type PlanMode string

const (
	// PlanWorktree replays the operation in a temporary detached worktree.
	PlanWorktree PlanMode = "worktree"
	// PlanMergeTree computes the result in the object database only.
	PlanMergeTree PlanMode = "merge-tree"
)

// FileChange is how one path changes relative to the base.
type FileChange struct {
	Path           string `json:"path"`
	Status         string `json:"status"` // A, M, D or R
	Additions      int    `json:"additions,omitempty"`
	Deletions      int    `json:"deletions,omitempty"`
	RenameFrom     string `json:"renameFrom,omitempty"`
	RenameScore    int    `json:"renameScore,omitempty"`
	Patch          string `json:"patch,omitempty"`
	PatchTruncated bool   `json:"patchTruncated,omitempty"`
	Binary         bool   `json:"binary,omitempty"`
	Submodule      bool   `json:"submodule,omitempty"`
}

func fromGit(c git.GitFileChange) FileChange {
	return FileChange{
		Path:        c.Path,
		Status:      c.Status,
		Additions:   c.Additions,
		Deletions:   c.Deletions,
		RenameFrom:  c.RenameFrom,
		RenameScore: c.RenameScore,
		Binary:      c.Binary,
		Submodule:   c.Submodule,
	}
}

// MergePlan is the forecast result of merging Sources into BaseRef.
type MergePlan struct {
	SchemaVersion    string              `json:"schemaVersion"`
	RepoPath         string              `json:"repoPath"`
	BaseRef          string              `json:"baseRef"`
	Sources          []string            `json:"sources"`
	Files            []FileChange        `json:"files"`
	Totals           git.DiffTotals      `json:"totals"`
	PatchesTruncated bool                `json:"patchesTruncated,omitempty"`
	Conflicts        []git.ConflictEntry `json:"conflicts,omitempty"`
	ImpactOnLocal    *ImpactOnLocal      `json:"impactOnLocal,omitempty"`
}

// LocalStatus is the porcelain summary of the working tree.
type LocalStatus struct {
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
	Ignored   []string `json:"ignored,omitempty"`
}

// Local edit kinds for ImpactOnLocalEntry.
const (
	LocalStaged    = "staged"
	LocalUnstaged  = "unstaged"
	LocalBoth      = "both"
	LocalUntracked = "untracked"
)

// Risks for ImpactOnLocalEntry.
const (
	RiskOverwrite = "overwrite"
	RiskConflict  = "conflict"
)

// ImpactOnLocalEntry is a planned change that touches a locally edited path.
type ImpactOnLocalEntry struct {
	Path          string `json:"path"`
	PlannedStatus string `json:"plannedStatus"`
	Local         string `json:"local"`
	Risk          string `json:"risk,omitempty"`
}

// ImpactOnLocal is the overlap between a plan and local edits.
type ImpactOnLocal struct {
	Entries            []ImpactOnLocalEntry `json:"entries"`
	UntrackedOverwrite []string             `json:"untrackedOverwrite"`
}

// MergeResult is the outcome of an apply. OK is false for operational
// failures, which are always rolled back first.
type MergeResult struct {
	OK            bool                `json:"ok"`
	MergeCommit   string              `json:"mergeCommit,omitempty"`
	FastForward   bool                `json:"fastForward,omitempty"`
	Conflicts     []git.ConflictEntry `json:"conflicts,omitempty"`
	Stashed       bool                `json:"stashed,omitempty"`
	RestoredStash bool                `json:"restoredStash,omitempty"`
	Aborted       bool                `json:"aborted,omitempty"`
	DryRun        bool                `json:"dryRun,omitempty"`
	Plan          *MergePlan          `json:"plan,omitempty"`
	Message       string              `json:"message,omitempty"`
}
