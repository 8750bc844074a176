// Package exec provides an abstraction over command execution for testability.
// Production code runs real processes through RealExecutor while tests
// inject a MockExecutor that answers from rules and records every call.
package exec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns stdout, stderr, and any error.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes a command and returns stdout only.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
//
// Env entries are appended to the inherited process environment.
type RealExecutor struct {
	Env []string
}

// NewRealExecutor returns a RealExecutor with a non-interactive git environment.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{Env: []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"}}
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := e.command(ctx, dir, name, args)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Output executes a command and returns stdout.
func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, name, args).Output()
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, name, args).CombinedOutput()
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(dir, name string, args []string) bool

// Responder builds a response at call time. Used when the same command must
// answer differently over the life of a test (e.g. a branch head that moves).
type Responder func(dir, name string, args []string) MockResponse

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match   CommandMatcher
	Respond Responder
}

// MockExecutor returns pre-recorded responses for commands.
// Rules are matched in registration order; the first match wins.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []MockRule
	calls    []MockCall
	fallback CommandExecutor
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call the way it would be typed in a shell.
func (c MockCall) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// NewMockExecutor creates a new MockExecutor.
// If fallback is provided, unmatched commands are delegated to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

// AddRule adds a matching rule with a fixed response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.AddFunc(match, func(string, string, []string) MockResponse { return response })
}

// AddFunc adds a matching rule whose response is computed per call.
func (e *MockExecutor) AddFunc(match CommandMatcher, respond Responder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Respond: respond})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(ExactMatch(name, args...), response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(PrefixMatch(name, prefixArgs...), response)
}

// ExactMatch matches name with exactly args.
func ExactMatch(name string, args ...string) CommandMatcher {
	return func(_ string, n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}
}

// PrefixMatch matches name whose arguments start with prefixArgs.
func PrefixMatch(name string, prefixArgs ...string) CommandMatcher {
	return func(_ string, n string, a []string) bool {
		return n == name && len(a) >= len(prefixArgs) && slices.Equal(a[:len(prefixArgs)], prefixArgs)
	}
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// CallCount returns how many recorded calls satisfy match.
func (e *MockExecutor) CallCount(match CommandMatcher) int {
	n := 0
	for _, c := range e.GetCalls() {
		if match(c.Dir, c.Name, c.Args) {
			n++
		}
	}
	return n
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *MockExecutor) findMatch(dir, name string, args []string) (MockResponse, bool) {
	e.mu.RLock()
	rules := slices.Clone(e.rules)
	e.mu.RUnlock()

	for _, rule := range rules {
		if rule.Match(dir, name, args) {
			return rule.Respond(dir, name, args), true
		}
	}
	return MockResponse{}, false
}

func (e *MockExecutor) recordCall(dir, name string, args []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Dir: dir, Name: name, Args: slices.Clone(args)})
}

// Run executes a mocked command.
func (e *MockExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	e.recordCall(dir, name, args)

	if resp, ok := e.findMatch(dir, name, args); ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}
	if e.fallback != nil {
		return e.fallback.Run(ctx, dir, name, args...)
	}
	// Default: empty success
	return nil, nil, nil
}

// Output executes a mocked command.
func (e *MockExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	e.recordCall(dir, name, args)

	if resp, ok := e.findMatch(dir, name, args); ok {
		return resp.Stdout, resp.Err
	}
	if e.fallback != nil {
		return e.fallback.Output(ctx, dir, name, args...)
	}
	return nil, nil
}

// CombinedOutput executes a mocked command.
func (e *MockExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	e.recordCall(dir, name, args)

	if resp, ok := e.findMatch(dir, name, args); ok {
		combined := append(slices.Clone(resp.Stdout), resp.Stderr...)
		return combined, resp.Err
	}
	if e.fallback != nil {
		return e.fallback.CombinedOutput(ctx, dir, name, args...)
	}
	return nil, nil
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
