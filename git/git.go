// Package git drives the git command line for branch monitoring and merges.
//
// The package is organized into focused modules:
//   - service.go: GitService, the safe and strict execution modes
//   - errors.go: sentinel errors and typed command/merge failures
//   - branch.go: branch listing, current branch, divergence, fetch metadata
//   - status.go: porcelain status parsing and conflict classification
//   - diff.go: file-level diffs, numstat, branch diff summaries
//   - merge.go: unmerged checks, merge-into-base, abort helpers, cherry-pick
//   - commit.go: worktree commits and reading files at a revision
//   - stash.go: autostash push and pop
//   - commits.go: commit selection for cherry-pick planning
//   - fetch.go: explicit ref fetching
//   - worktree.go: throwaway detached worktrees used for dry merges
package git
