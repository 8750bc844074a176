package git

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition failures. These are returned before the repository is touched.
var (
	ErrNotRepository  = errors.New("not a git repository")
	ErrBranchRequired = errors.New("branch is required")
	ErrSelfMerge      = errors.New("cannot merge a branch into itself")
	ErrDirtyWorktree  = errors.New("working tree has uncommitted changes")
	ErrBranchNotFound = errors.New("branch not found")
	ErrDetachedHead   = errors.New("HEAD is detached (not on a branch)")
)

// ErrMergeFailed marks a merge that was attempted and rolled back.
var ErrMergeFailed = errors.New("merge failed")

// CommandError is returned when a strict git command exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	sub := "command"
	if len(e.Args) > 0 {
		sub = e.Args[0]
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return fmt.Sprintf("git %s failed: %s: %v", sub, msg, e.Err)
	}
	return fmt.Sprintf("git %s failed: %v", sub, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// MergeError describes a merge that failed and was aborted.
type MergeError struct {
	Branch    string
	Base      string
	Conflicts []ConflictEntry
	Aborted   bool
	Err       error
}

func (e *MergeError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("merge of %s into %s failed with %d conflict(s): %v", e.Branch, e.Base, len(e.Conflicts), e.Err)
	}
	return fmt.Sprintf("merge of %s into %s failed: %v", e.Branch, e.Base, e.Err)
}

// Unwrap exposes both ErrMergeFailed and the underlying command error.
func (e *MergeError) Unwrap() []error { return []error{ErrMergeFailed, e.Err} }
