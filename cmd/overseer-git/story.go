package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudjubei/overseer-git/featurebranch"
	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/story"
)

// syncOutput is what sync-story prints.
type syncOutput struct {
	Analysis *story.Analysis   `json:"analysis"`
	Result   *story.SyncResult `json:"result,omitempty"`
}

func newSyncStoryCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync-story <branch>",
		Short: "Merge the story state committed on a branch head into the local story file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := git.ResolveRepoRoot(a.repo())
			if err != nil {
				return err
			}
			branch := args[0]

			analysis, err := story.NewCommitAnalyzer(a.git, a.repoConfig().StoryFile).AnalyzeHead(ctx, root, branch)
			if err != nil {
				return err
			}
			out := syncOutput{Analysis: analysis}
			payload, ok := analysis.Payload()
			if !ok {
				if err := printJSON(cmd, out); err != nil {
					return err
				}
				return fmt.Errorf("no story state found on %s", branch)
			}

			meta := story.SyncMeta{Git: story.GitMeta{
				Commit:        analysis.Commit,
				Branch:        branch,
				StoryJSONPath: analysis.StoryJSONPath,
			}}
			if ref, ok := featurebranch.Parse(branch); ok {
				meta.StoryID, meta.FeatureID = ref.StoryID, ref.FeatureID
			}

			sink := story.NewFileSink()
			sink.DryRun = dryRun
			release, err := a.locks.Lock(ctx, root)
			if err != nil {
				return err
			}
			out.Result, err = sink.Update(ctx, root, payload, meta)
			release()
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the change without writing it")
	return cmd
}
