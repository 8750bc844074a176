package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pexec "github.com/cloudjubei/overseer-git/exec"
	"github.com/cloudjubei/overseer-git/logger"
)

// Default timeouts for the two execution modes.
const (
	// SafeTimeout bounds advisory commands (listing, status, fetch).
	SafeTimeout = 20 * time.Second
	// ExecTimeout bounds mutating commands (checkout, pull, merge, stash).
	ExecTimeout = 60 * time.Second
)

// Lock retry settings for index.lock style conflicts.
// Backoff doubles from lockRetryBase and is capped at lockRetryMax.
const (
	maxLockRetries = 5
	lockRetryBase  = 100 * time.Millisecond
	lockRetryMax   = 1600 * time.Millisecond
)

// GitService provides git operations with explicit dependency injection.
// Each GitService holds its own executor so tests can substitute a mock.
type GitService struct {
	executor    pexec.CommandExecutor
	safeTimeout time.Duration
	execTimeout time.Duration
	retryBase   time.Duration
}

// NewGitService creates a new GitService with the default real executor.
func NewGitService() *GitService {
	return NewGitServiceWithExecutor(pexec.NewRealExecutor())
}

// NewGitServiceWithExecutor creates a new GitService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGitServiceWithExecutor(exec pexec.CommandExecutor) *GitService {
	return &GitService{
		executor:    exec,
		safeTimeout: SafeTimeout,
		execTimeout: ExecTimeout,
		retryBase:   lockRetryBase,
	}
}

// WithTimeouts returns a copy of the service using the given timeouts.
// Zero values keep the current setting.
func (s *GitService) WithTimeouts(safe, strict time.Duration) *GitService {
	c := *s
	if safe > 0 {
		c.safeTimeout = safe
	}
	if strict > 0 {
		c.execTimeout = strict
	}
	return &c
}

// safe runs an advisory git command. It never fails: on any error stdout is
// empty and stderr carries the failure message.
func (s *GitService) safe(ctx context.Context, dir string, args ...string) (stdout, stderr string) {
	out, errOut, err := s.invoke(ctx, s.safeTimeout, dir, args)
	if err != nil {
		msg := strings.TrimSpace(string(errOut))
		if msg == "" {
			msg = err.Error()
		}
		logger.WithComponent("git").Debug("advisory git command failed", "args", args, "dir", dir, "error", msg)
		return "", msg
	}
	return string(out), string(errOut)
}

// run runs a git command whose failure matters to the caller.
func (s *GitService) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, errOut, err := s.invoke(ctx, s.execTimeout, dir, args)
	if err != nil {
		return string(out), &CommandError{Args: args, Stderr: string(errOut), Err: err}
	}
	return string(out), nil
}

// runTrimmed is run with surrounding whitespace removed from stdout.
func (s *GitService) runTrimmed(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := s.run(ctx, dir, args...)
	return strings.TrimSpace(out), err
}

// invoke executes git with a per-attempt timeout, retrying on lock conflicts.
func (s *GitService) invoke(ctx context.Context, timeout time.Duration, dir string, args []string) (stdout, stderr []byte, err error) {
	log := logger.WithComponent("git")
	backoff := s.retryBase

	for attempt := 0; ; attempt++ {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, timeout)
		stdout, stderr, err = s.executor.Run(cctx, dir, "git", args...)
		if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		cancel()

		log.Debug("git command completed", "dir", dir, "args", args, "duration_ms", time.Since(start).Milliseconds(), "failed", err != nil)

		if err == nil || attempt >= maxLockRetries-1 || !isLockConflict(string(stderr)) {
			return stdout, stderr, err
		}

		log.Debug("git lock conflict, retrying", "attempt", attempt+1, "backoff_ms", backoff.Milliseconds(), "args", args)
		select {
		case <-ctx.Done():
			return stdout, stderr, err
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, lockRetryMax)
	}
}

// isLockConflict reports whether git refused because another process holds a lock.
func isLockConflict(msg string) bool {
	return strings.Contains(msg, "index.lock") ||
		(strings.Contains(msg, "Unable to create") && strings.Contains(msg, "File exists"))
}

// splitLines splits command output into non-empty trimmed lines.
func splitLines(out string) []string {
	var lines []string
	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
