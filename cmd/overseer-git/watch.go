package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudjubei/overseer-git/config"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/merge"
	"github.com/cloudjubei/overseer-git/monitor"
	"github.com/cloudjubei/overseer-git/story"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval   time.Duration
		all        bool
		watchRefs  bool
		noFetch    bool
		syncStory  bool
		dryRunSync bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll repositories and print a JSON line whenever branches change",
		Long: `Watch polls the selected repository (or, with --all, every configured
repository) and prints one JSON snapshot per line each time its branches or
current branch change. With --sync-stories, story state committed on new
feature-branch heads is merged into the local stories/<id>/story.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repos := []config.RepoConfig{a.repoConfig()}
			if all {
				repos = a.cfg.GetRepos()
				if len(repos) == 0 {
					return fmt.Errorf("no repositories configured in %s", a.cfg.FilePath())
				}
			}
			if repos[0].Path == "" && !all {
				repos[0].Path = a.repo()
			}

			registry := monitor.NewRegistry()
			defer registry.StopAll()

			snapshots := make(chan monitor.RepoSnapshot)
			for _, rc := range repos {
				poll := rc.Interval()
				if cmd.Flags().Changed("interval") {
					poll = interval
				}
				var analyzer *monitor.Analyzer
				if syncStory {
					sink := story.NewFileSink()
					sink.DryRun = dryRunSync
					analyzer = monitor.NewAnalyzer(story.NewCommitAnalyzer(a.git, rc.StoryFile), sink)
				}
				w, err := registry.Start(ctx, monitor.Config{
					RepoPath:     rc.Path,
					PollInterval: poll,
					Git:          a.git,
					Analyzer:     analyzer,
					Locks:        a.locks,
					WatchRefs:    watchRefs || rc.WatchRefs,
					NoFetch:      noFetch,
				})
				if err != nil {
					return fmt.Errorf("watch %s: %w", rc.Path, err)
				}
				go forward(ctx, w, snapshots)
			}
			logger.WithComponent("cli").Info("watching", "repos", registry.Repos())

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap := <-snapshots:
					if err := writeJSON(out, snap, false); err != nil {
						return err
					}
				}
			}
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&interval, "interval", monitor.DefaultPollInterval, "poll interval (5s to 10m)")
	flags.BoolVar(&all, "all", false, "watch every configured repository")
	flags.BoolVar(&watchRefs, "watch-refs", false, "wake up early when refs change on disk")
	flags.BoolVar(&noFetch, "no-fetch", false, "skip git fetch on each poll")
	flags.BoolVar(&syncStory, "sync-stories", false, "sync story state from feature-branch heads")
	flags.BoolVar(&dryRunSync, "dry-run", false, "with --sync-stories, log changes without writing")
	return cmd
}

func forward(ctx context.Context, w *monitor.Watcher, out chan<- monitor.RepoSnapshot) {
	for snap := range w.Updates(ctx) {
		select {
		case out <- snap:
		case <-ctx.Done():
			return
		}
	}
}

// statusOutput combines the branch snapshot with local changes.
type statusOutput struct {
	monitor.RepoSnapshot
	Local *merge.LocalStatus `json:"local,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		fetch          bool
		includeIgnored bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the branches, current branch and local changes of the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := monitor.New(monitor.Config{RepoPath: a.repo(), Git: a.git, Locks: a.locks, NoFetch: !fetch})
			if err != nil {
				return err
			}
			defer w.Close()

			out := statusOutput{RepoSnapshot: w.TriggerPoll(cmd.Context())}
			if out.RepoPath != "" {
				out.Local, err = a.planner().LocalStatus(cmd.Context(), out.RepoPath, includeIgnored)
				if err != nil {
					return err
				}
			} else {
				out.Error = git.ErrNotRepository.Error()
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch all remotes first")
	cmd.Flags().BoolVar(&includeIgnored, "ignored", false, "list ignored files")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var opts git.FetchRefsOptions
	cmd := &cobra.Command{
		Use:   "fetch [ref]...",
		Short: "Fetch refs from one remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := git.ResolveRepoRoot(a.repo())
			if err != nil {
				return err
			}
			opts.Refs = args
			res := a.git.FetchRefs(cmd.Context(), root, opts)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("fetch from %s failed", res.Remote)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Remote, "remote", "origin", "remote to fetch from")
	flags.BoolVar(&opts.Prune, "prune", false, "remove remote-tracking refs that no longer exist")
	flags.BoolVar(&opts.Tags, "tags", false, "fetch all tags")
	return cmd
}
