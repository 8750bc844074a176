package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudjubei/overseer-git/merge"
	"github.com/cloudjubei/overseer-git/monitor"
)

type planFlags struct {
	base       string
	patch      bool
	maxFiles   int
	maxBytes   int
	mode       string
	impact     bool
	report     bool
	structured bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.base, "base", "", "base branch (default: configured base or the current branch)")
	flags.BoolVar(&f.patch, "patch", false, "include per-file patches")
	flags.IntVar(&f.maxFiles, "max-files", 0, "maximum number of files with patches")
	flags.IntVar(&f.maxBytes, "max-bytes", 0, "maximum total patch bytes")
	flags.StringVar(&f.mode, "mode", "", "plan mode: worktree or merge-tree")
	flags.BoolVar(&f.impact, "impact", false, "cross-reference the plan with local changes")
	flags.BoolVar(&f.report, "report", false, "print a merge report instead of the raw plan")
	flags.BoolVar(&f.structured, "structured", false, "include parsed hunks in the report")
}

// limits fills unset flags from the planner configuration.
func (f *planFlags) limits(a *app) (int, int, merge.PlanMode) {
	maxFiles, maxBytes, mode := f.maxFiles, f.maxBytes, merge.PlanMode(f.mode)
	if maxFiles == 0 {
		maxFiles = a.cfg.Planner.MaxPatchedFiles
	}
	if maxBytes == 0 {
		maxBytes = a.cfg.Planner.MaxPatchBytes
	}
	if mode == "" {
		mode = merge.PlanMode(a.cfg.Planner.PlanMode)
	}
	return maxFiles, maxBytes, mode
}

func (f *planFlags) print(cmd *cobra.Command, a *app, plan *merge.MergePlan) error {
	if !f.report {
		return printJSON(cmd, plan)
	}
	maxFiles, maxBytes, _ := f.limits(a)
	return printJSON(cmd, merge.BuildReport(plan, merge.ReportOptions{
		IncludePatch:          f.patch,
		MaxPatchedFiles:       maxFiles,
		MaxPatchBytes:         maxBytes,
		IncludeStructuredDiff: f.structured,
	}))
}

func newPlanCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "plan <source>...",
		Short: "Forecast merging branches into the base without touching the working tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxFiles, maxBytes, mode := f.limits(a)
			plan, err := a.planner().GetMergePlan(cmd.Context(), merge.PlanOptions{
				RepoPath:        a.repo(),
				Sources:         args,
				BaseRef:         a.baseRef(f.base),
				IncludePatch:    f.patch,
				MaxPatchedFiles: maxFiles,
				MaxPatchBytes:   maxBytes,
				Mode:            mode,
				IncludeImpact:   f.impact,
			})
			if err != nil {
				return err
			}
			return f.print(cmd, a, plan)
		},
	}
	f.register(cmd)
	return cmd
}

type applyFlags struct {
	base             string
	ff               bool
	strategy         string
	signoff          bool
	autoStash        bool
	includeUntracked bool
	confirmDirty     bool
	dryRun           bool
}

func (f *applyFlags) register(cmd *cobra.Command, withMergeFlags bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.base, "base", "", "branch to apply onto (default: configured base or the current branch)")
	flags.BoolVar(&f.signoff, "signoff", false, "add a Signed-off-by trailer")
	flags.BoolVar(&f.autoStash, "autostash", false, "stash local changes and restore them afterwards")
	flags.BoolVar(&f.includeUntracked, "include-untracked", false, "stash untracked files too")
	flags.BoolVar(&f.confirmDirty, "confirm-dirty", false, "ask before stashing a dirty working tree")
	flags.BoolVar(&f.dryRun, "dry-run", false, "plan only, change nothing")
	if withMergeFlags {
		flags.BoolVar(&f.ff, "ff", false, "allow fast-forward merges")
		flags.StringVar(&f.strategy, "strategy", "", "merge strategy")
	}
}

func newApplyCmd(a *app) *cobra.Command {
	var f applyFlags
	cmd := &cobra.Command{
		Use:   "apply <source>...",
		Short: "Merge branches into the base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := merge.ApplyMergeOptions{
				RepoPath:                a.repo(),
				Sources:                 args,
				BaseRef:                 a.baseRef(f.base),
				Strategy:                f.strategy,
				AllowFastForward:        f.ff,
				Signoff:                 f.signoff,
				AutoStash:               f.autoStash,
				IncludeUntrackedInStash: f.includeUntracked,
				ConfirmWhenDirty:        f.confirmDirty,
				DryRun:                  f.dryRun,
			}
			res, err := a.applier().ApplyMerge(cmd.Context(), opts)
			if errors.Is(err, merge.ErrConfirmationRequired) && confirm(cmd, "Working tree has local changes. Stash them and continue?") {
				opts.AutoStash, opts.ConfirmWhenDirty = true, false
				res, err = a.applier().ApplyMerge(cmd.Context(), opts)
			}
			return finishApply(cmd, res, err)
		},
	}
	f.register(cmd, true)
	return cmd
}

func newCherryPickCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cherry-pick",
		Short: "Plan or apply cherry-picks onto the base",
	}

	var pf planFlags
	plan := &cobra.Command{
		Use:   "plan <commit>...",
		Short: "Forecast cherry-picking commits without touching the working tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxFiles, maxBytes, mode := pf.limits(a)
			p, err := a.planner().PlanCherryPick(cmd.Context(), merge.CherryPickPlanOptions{
				RepoPath:        a.repo(),
				Commits:         args,
				BaseRef:         a.baseRef(pf.base),
				IncludePatch:    pf.patch,
				MaxPatchedFiles: maxFiles,
				MaxPatchBytes:   maxBytes,
				Mode:            mode,
				IncludeImpact:   pf.impact,
			})
			if err != nil {
				return err
			}
			return pf.print(cmd, a, p)
		},
	}
	pf.register(plan)

	var af applyFlags
	apply := &cobra.Command{
		Use:   "apply <commit>...",
		Short: "Cherry-pick commits onto the base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := merge.ApplyCherryPickOptions{
				RepoPath:                a.repo(),
				Commits:                 args,
				BaseRef:                 a.baseRef(af.base),
				Signoff:                 af.signoff,
				AutoStash:               af.autoStash,
				IncludeUntrackedInStash: af.includeUntracked,
				ConfirmWhenDirty:        af.confirmDirty,
				DryRun:                  af.dryRun,
			}
			res, err := a.applier().ApplyCherryPick(cmd.Context(), opts)
			if errors.Is(err, merge.ErrConfirmationRequired) && confirm(cmd, "Working tree has local changes. Stash them and continue?") {
				opts.AutoStash, opts.ConfirmWhenDirty = true, false
				res, err = a.applier().ApplyCherryPick(cmd.Context(), opts)
			}
			return finishApply(cmd, res, err)
		},
	}
	af.register(apply, false)

	cmd.AddCommand(plan, apply)
	return cmd
}

// finishApply prints res and turns a failed apply into a non-zero exit.
func finishApply(cmd *cobra.Command, res *merge.MergeResult, err error) error {
	if err != nil {
		return err
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.OK && !res.DryRun {
		return fmt.Errorf("apply failed: %s", res.Message)
	}
	return nil
}

// confirm asks a yes/no question on an interactive stdin.
func confirm(cmd *cobra.Command, question string) bool {
	if !stdinIsTerminal() {
		return false
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func newUnmergedCmd(a *app) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "unmerged <branch>",
		Short: "Report whether a branch has commits the base lacks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.git.HasUnmergedCommits(cmd.Context(), a.repo(), args[0], a.baseRef(base))
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base branch (default: configured base or the current branch)")
	return cmd
}

func newMergeBranchCmd(a *app) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "merge-branch <branch>",
		Short: "Merge a branch into the base with a merge commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := monitor.New(monitor.Config{RepoPath: a.repo(), Git: a.git, Locks: a.locks, NoFetch: true})
			if err != nil {
				return err
			}
			defer w.Close()
			res, err := w.MergeBranch(cmd.Context(), args[0], a.baseRef(base))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base branch (default: configured base or the current branch)")
	return cmd
}
