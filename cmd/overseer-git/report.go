package main

import (
	"github.com/spf13/cobra"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/report"
)

func newCommitsCmd(a *app) *cobra.Command {
	var (
		base          string
		includeMerges bool
		maxCount      int
	)
	cmd := &cobra.Command{
		Use:   "commits <source>...",
		Short: "List the commits sources have on top of the base, attributed to stories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commits, err := a.git.SelectCommits(cmd.Context(), a.repo(), git.SelectCommitsOptions{
				Sources:       args,
				BaseRef:       a.baseRef(base),
				IncludeMerges: includeMerges,
				MaxCount:      maxCount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, report.AttributeCommits(commits))
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base ref (default: configured base or HEAD)")
	cmd.Flags().BoolVar(&includeMerges, "merges", false, "include merge commits")
	cmd.Flags().IntVar(&maxCount, "max", 0, "maximum commits per source")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var (
		base    string
		patch   bool
		commits bool
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "report [branch]",
		Short: "Report pending feature branches, or one branch, against the base",
		Long: `Without a branch, report lists every feature branch that is ahead of the
base with its diff totals and story groups. With a branch, it reports that
branch alone, optionally with patches and attributed commits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := report.NewBuilder(a.git, a.locks)
			resolver := report.FirstMatch(report.BranchNameResolver, report.ContentResolver)

			if len(args) == 1 {
				rep, err := b.BuildBranchReport(cmd.Context(), report.BranchOptions{
					RepoPath:       a.repo(),
					BaseRef:        a.baseRef(base),
					HeadRef:        args[0],
					IncludePatch:   patch,
					IncludeCommits: commits,
					Resolver:       resolver,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			}

			opts := report.WorkspaceOptions{
				RepoPath:     a.repo(),
				BaseRef:      a.baseRef(base),
				IncludePatch: patch,
				Resolver:     resolver,
			}
			if all {
				opts.Filter = func(string) bool { return true }
			}
			rep, err := b.BuildWorkspaceReport(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&base, "base", "", "base branch (default: configured base or the current branch)")
	flags.BoolVar(&patch, "patch", false, "include per-file patches")
	flags.BoolVar(&commits, "commits", false, "include attributed commits (single branch only)")
	flags.BoolVar(&all, "all", false, "report every branch, not only feature branches")
	return cmd
}
