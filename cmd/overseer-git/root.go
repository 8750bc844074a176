package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudjubei/overseer-git/config"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/merge"
	"github.com/cloudjubei/overseer-git/paths"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/telemetry"
)

// app is the state shared by every command of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	git      *git.GitService
	locks    *repolock.Locker
	shutdown func(context.Context) error
}

// Execute runs the root command and returns any error encountered.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "overseer-git",
		Short: "Watch story feature branches and plan their merges",
		Long: `overseer-git polls local git repositories, syncs story state committed on
features/<story-id> branches, and plans, applies and reports merges and
cherry-picks without disturbing the working tree until asked to.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.String("repo", ".", "repository path")
	flags.String("config", "", "config file (default <config dir>/config.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("log-stderr", false, "write logs to stderr instead of the log file")
	flags.Bool("trace", false, "export trace spans to stderr")
	_ = a.v.BindPFlags(flags)
	a.v.SetEnvPrefix("OVERSEER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newWatchCmd(a),
		newStatusCmd(a),
		newUnmergedCmd(a),
		newMergeBranchCmd(a),
		newFetchCmd(a),
		newPlanCmd(a),
		newApplyCmd(a),
		newCherryPickCmd(a),
		newCommitsCmd(a),
		newReportCmd(a),
		newSyncStoryCmd(a),
		newDoctorCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var err error
	if path := a.v.GetString("config"); path != "" {
		a.cfg, err = config.LoadFrom(path)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger.SetDebug(a.v.GetBool("debug") || a.cfg.Debug)
	if a.v.GetBool("log-stderr") {
		logger.InitWriter(cmd.ErrOrStderr())
	} else if path, err := logger.DefaultLogPath(); err == nil {
		// The log file is best effort; logging falls back to its default.
		_ = logger.Init(path)
	}

	if a.v.GetBool("trace") {
		a.shutdown, err = telemetry.Setup(cmd.Context(), cmd.ErrOrStderr(), telemetry.Options{Pretty: true, Sync: true})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	a.git = git.NewGitService()
	if dir, err := paths.LocksDir(); err == nil {
		a.locks = repolock.New(dir)
	} else {
		a.locks = repolock.Shared()
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.shutdown != nil {
		return a.shutdown(context.WithoutCancel(cmd.Context()))
	}
	return nil
}

// repo returns the --repo flag, or OVERSEER_REPO.
func (a *app) repo() string {
	return a.v.GetString("repo")
}

// repoConfig returns the configuration of the selected repository.
func (a *app) repoConfig() config.RepoConfig {
	root, err := git.ResolveRepoRoot(a.repo())
	if err != nil {
		return config.RepoConfig{}
	}
	rc, _ := a.cfg.Repo(root)
	return rc
}

// baseRef returns flagValue, falling back to the configured base branch.
func (a *app) baseRef(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return a.repoConfig().BaseBranch
}

func (a *app) planner() *merge.Planner {
	p := merge.NewPlanner(a.git, a.locks)
	if dir, err := paths.WorktreesDir(); err == nil {
		p.WithWorktreeRoot(dir)
	}
	return p
}

func (a *app) applier() *merge.Applier {
	ap := merge.NewApplier(a.git, a.locks)
	if dir, err := paths.WorktreesDir(); err == nil {
		ap.Planner().WithWorktreeRoot(dir)
	}
	return ap
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	return writeJSON(cmd.OutOrStdout(), v, true)
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// stdinIsTerminal reports whether stdin is interactive.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
