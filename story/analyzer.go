package story

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
)

// CommitAnalyzer finds and parses the story document in a commit tree.
type CommitAnalyzer struct {
	git      *git.GitService
	fileName string
}

// NewCommitAnalyzer returns an analyzer looking for fileName (DefaultFileName
// when empty).
func NewCommitAnalyzer(gitService *git.GitService, fileName string) *CommitAnalyzer {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &CommitAnalyzer{git: gitService, fileName: fileName}
}

// AnalyzeHead analyzes the commit headRef points at.
func (a *CommitAnalyzer) AnalyzeHead(ctx context.Context, repoPath, headRef string) (*Analysis, error) {
	sha, err := a.git.RevParse(ctx, repoPath, headRef)
	if err != nil || sha == "" {
		return &Analysis{Error: "Unable to resolve branch head"}, nil
	}
	return a.AnalyzeCommit(ctx, repoPath, sha)
}

// AnalyzeCommit inspects commit for a story document. Candidates at the
// tree root rank first, then those under a stories/ directory; the first
// candidate that parses wins.
func (a *CommitAnalyzer) AnalyzeCommit(ctx context.Context, repoPath, commit string) (*Analysis, error) {
	log := logger.WithRepo("story", repoPath)

	files := a.git.ListTreeFiles(ctx, repoPath, commit)
	if len(files) == 0 {
		return &Analysis{Commit: commit, Error: "No files found at commit"}, nil
	}

	var candidates []string
	for _, f := range files {
		if path.Base(f) == a.fileName {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &Analysis{OK: true, Commit: commit}, nil
	}
	slices.SortStableFunc(candidates, func(x, y string) int {
		return candidateScore(y) - candidateScore(x)
	})

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := a.git.ShowFile(ctx, repoPath, commit, p)
		if err != nil || content == "" {
			log.Debug("skipping unreadable story candidate", "commit", commit, "path", p, "error", err)
			continue
		}
		doc, err := ParseDocument(content)
		if err != nil {
			log.Debug("skipping unparsable story candidate", "commit", commit, "path", p, "error", err)
			continue
		}
		return &Analysis{
			OK:            true,
			Commit:        commit,
			Found:         true,
			StoryJSONPath: p,
			Raw:           doc,
			Extracted:     ExtractSummary(doc),
		}, nil
	}
	return &Analysis{OK: true, Commit: commit}, nil
}

func candidateScore(p string) int {
	score := 0
	if !strings.Contains(p, "/") {
		score += 2
	}
	if strings.HasPrefix(p, "stories/") || strings.Contains(p, "/stories/") {
		score++
	}
	return score
}
