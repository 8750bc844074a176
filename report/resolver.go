package report

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudjubei/overseer-git/featurebranch"
	"github.com/cloudjubei/overseer-git/git"
)

// StoryResolverArgs is what a StoryResolver sees for one branch.
type StoryResolverArgs struct {
	RepoPath string
	BaseRef  string
	HeadRef  string
	Diff     *git.DiffSummary
}

// StoryResolver maps the changes of a branch to story/feature groups.
type StoryResolver func(ctx context.Context, args StoryResolverArgs) ([]StoryFeatureChange, error)

// BranchNameResolver attributes every changed file to the story named by
// the head branch. Branches outside the naming convention yield no groups.
func BranchNameResolver(_ context.Context, args StoryResolverArgs) ([]StoryFeatureChange, error) {
	ref, ok := featurebranch.Parse(args.HeadRef)
	if !ok || args.Diff == nil || len(args.Diff.Files) == 0 {
		return nil, nil
	}
	files := slices.Clone(args.Diff.Files)
	return []StoryFeatureChange{{
		StoryID:   ref.StoryID,
		FeatureID: ref.FeatureID,
		Files:     files,
		Summary:   totalsOf(files),
	}}, nil
}

var storyPathPattern = regexp.MustCompile(`(?:^|/)stories/([0-9a-fA-F-]{36})/`)

// ContentResolver groups files by the stories/<id>/ directory they live
// under, for branches whose name says nothing about the story. Files outside
// any story directory are collected in a trailing group without ids.
func ContentResolver(_ context.Context, args StoryResolverArgs) ([]StoryFeatureChange, error) {
	if args.Diff == nil {
		return nil, nil
	}
	byStory := make(map[string][]git.GitFileChange)
	var order []string
	var rest []git.GitFileChange
	for _, f := range args.Diff.Files {
		id := storyIDFromPath(f.Path)
		if id == "" {
			rest = append(rest, f)
			continue
		}
		if _, ok := byStory[id]; !ok {
			order = append(order, id)
		}
		byStory[id] = append(byStory[id], f)
	}

	slices.Sort(order)
	groups := make([]StoryFeatureChange, 0, len(order)+1)
	for _, id := range order {
		files := byStory[id]
		groups = append(groups, StoryFeatureChange{StoryID: id, Files: files, Summary: totalsOf(files)})
	}
	if len(rest) > 0 && len(groups) > 0 {
		groups = append(groups, StoryFeatureChange{Files: rest, Summary: totalsOf(rest)})
	}
	return groups, nil
}

func storyIDFromPath(path string) string {
	m := storyPathPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return ""
	}
	return id.String()
}

// FirstMatch tries resolvers in order and returns the first non-empty
// grouping. An error stops the chain.
func FirstMatch(resolvers ...StoryResolver) StoryResolver {
	return func(ctx context.Context, args StoryResolverArgs) ([]StoryFeatureChange, error) {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			groups, err := r(ctx, args)
			if err != nil {
				return nil, err
			}
			if len(groups) > 0 {
				return groups, nil
			}
		}
		return nil, nil
	}
}

var subjectIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// AttributeCommits pairs each commit with the story it belongs to: the
// source branch when it is a feature branch, otherwise the first UUID in the
// subject.
func AttributeCommits(commits []git.CommitInfo) []FeatureCommit {
	out := make([]FeatureCommit, 0, len(commits))
	for _, c := range commits {
		fc := FeatureCommit{CommitInfo: c}
		if ref, ok := featurebranch.Parse(c.Source); ok {
			fc.Feature = &ref
		} else if m := subjectIDPattern.FindString(c.Subject); m != "" {
			fc.Feature = &featurebranch.Ref{StoryID: strings.ToLower(m)}
		}
		out = append(out, fc)
	}
	return out
}
