package git

import (
	"context"
	"strings"
)

// FetchRefsOptions configures FetchRefs.
type FetchRefsOptions struct {
	Remote string // defaults to "origin"
	Refs   []string
	Prune  bool
	Tags   bool
}

// FetchRefsResult reports the outcome of FetchRefs. Fetching is advisory, so
// failures are reported in the result rather than as an error.
type FetchRefsResult struct {
	OK     bool     `json:"ok"`
	Remote string   `json:"remote"`
	Refs   []string `json:"refs,omitempty"`
	Output string   `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// FetchRefs fetches the given refs (or everything) from one remote.
func (s *GitService) FetchRefs(ctx context.Context, repoPath string, opts FetchRefsOptions) FetchRefsResult {
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	args := []string{"fetch"}
	if opts.Prune {
		args = append(args, "--prune")
	}
	if opts.Tags {
		args = append(args, "--tags")
	}
	args = append(args, remote)
	args = append(args, opts.Refs...)

	res := FetchRefsResult{Remote: remote, Refs: opts.Refs}
	if out, err := s.run(ctx, repoPath, args...); err != nil {
		res.Error = err.Error()
	} else {
		res.OK = true
		res.Output = strings.TrimSpace(out)
	}
	return res
}
