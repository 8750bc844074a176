package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudjubei/overseer-git/cli"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/paths"
)

// These variables can be overridden via -ldflags at build time
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the overseer-git version and build info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nBuildDate: %s\n", Version, Commit, BuildDate)
		},
	}
}

func newDoctorCmd(a *app) *cobra.Command {
	var clearLogs bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check git and show where configuration, logs and locks live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if clearLogs {
				n, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("failed to clear logs: %w", err)
				}
				fmt.Fprintf(out, "Cleared %d log file(s)\n\n", n)
			}
			prereqs := cli.DefaultPrerequisites()
			fmt.Fprint(out, cli.FormatCheckResults(cli.CheckAll(prereqs)))

			fmt.Fprintln(out, "\nPaths:")
			fmt.Fprintf(out, "  config:    %s\n", a.cfg.FilePath())
			if p := logger.Path(); p != "" {
				fmt.Fprintf(out, "  log:       %s\n", p)
			}
			if dir, err := paths.LocksDir(); err == nil {
				fmt.Fprintf(out, "  locks:     %s\n", dir)
			}
			if dir, err := paths.WorktreesDir(); err == nil {
				fmt.Fprintf(out, "  worktrees: %s\n", dir)
			}
			fmt.Fprintf(out, "\nRepositories: %d configured\n", len(a.cfg.GetRepos()))
			for _, rc := range a.cfg.GetRepos() {
				fmt.Fprintf(out, "  %s (poll %s)\n", rc.Path, rc.Interval())
			}
			return cli.ValidateRequired(prereqs)
		},
	}
	cmd.Flags().BoolVar(&clearLogs, "clear-logs", false, "remove overseer-git log files before checking")
	return cmd
}
