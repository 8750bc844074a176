package exec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

func TestRealExecutor_Run(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	stdout, stderr, err := executor.Run(ctx, "", "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRealExecutor_Output(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	output, err := executor.Output(ctx, "", "echo", "world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "world\n" {
		t.Errorf("expected 'world\\n', got %q", string(output))
	}
}

func TestRealExecutor_CombinedOutput(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	output, err := executor.CombinedOutput(ctx, "", "echo", "combined")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "combined\n" {
		t.Errorf("expected 'combined\\n', got %q", string(output))
	}
}

func TestRealExecutor_Env(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	executor := NewRealExecutor()

	out, err := executor.Output(context.Background(), "", "sh", "-c", "echo $GIT_TERMINAL_PROMPT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "0" {
		t.Errorf("GIT_TERMINAL_PROMPT = %q, want %q", strings.TrimSpace(string(out)), "0")
	}
}

func TestRealExecutor_ContextCancelled(t *testing.T) {
	executor := NewRealExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := executor.Run(ctx, "", "echo", "never"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestMockExecutor_Run(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddExactMatch("git", []string{"status"}, MockResponse{
		Stdout: []byte("On branch main"),
	})

	ctx := context.Background()
	stdout, stderr, err := mock.Run(ctx, "/some/dir", "git", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "On branch main" {
		t.Errorf("expected 'On branch main', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Dir != "/some/dir" {
		t.Errorf("expected dir '/some/dir', got %q", calls[0].Dir)
	}
	if calls[0].String() != "git status" {
		t.Errorf("call = %q, want %q", calls[0].String(), "git status")
	}
}

func TestMockExecutor_PrefixMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"rev-parse"}, MockResponse{
		Stdout: []byte("abc123"),
	})

	ctx := context.Background()

	stdout, _, err := mock.Run(ctx, "", "git", "rev-parse", "--verify", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "abc123" {
		t.Errorf("expected 'abc123', got %q", string(stdout))
	}

	// Unmatched commands return an empty success
	stdout, _, err = mock.Run(ctx, "", "git", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "" {
		t.Errorf("expected empty response for unmatched command, got %q", string(stdout))
	}
}

func TestMockExecutor_Error(t *testing.T) {
	mock := NewMockExecutor(nil)

	expectedErr := errors.New("command failed")
	mock.AddExactMatch("git", []string{"push"}, MockResponse{
		Stderr: []byte("permission denied"),
		Err:    expectedErr,
	})

	_, stderr, err := mock.Run(context.Background(), "", "git", "push")
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if string(stderr) != "permission denied" {
		t.Errorf("expected 'permission denied', got %q", string(stderr))
	}
}

func TestMockExecutor_CombinedOutput(t *testing.T) {
	mock := NewMockExecutor(nil)
	stdout := []byte("out ")
	mock.AddExactMatch("git", []string{"merge"}, MockResponse{
		Stdout: stdout,
		Stderr: []byte("err"),
	})

	output, err := mock.CombinedOutput(context.Background(), "", "git", "merge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "out err" {
		t.Errorf("expected 'out err', got %q", string(output))
	}
	// The registered response must not be mutated by the append.
	if string(stdout) != "out " {
		t.Errorf("response stdout mutated to %q", string(stdout))
	}
}

func TestMockExecutor_AddFunc(t *testing.T) {
	mock := NewMockExecutor(nil)

	n := 0
	mock.AddFunc(PrefixMatch("git", "rev-parse"), func(_, _ string, args []string) MockResponse {
		n++
		if n == 1 {
			return MockResponse{Stdout: []byte("aaa")}
		}
		return MockResponse{Stdout: []byte("bbb")}
	})

	ctx := context.Background()
	first, _ := mock.Output(ctx, "", "git", "rev-parse", "main")
	second, _ := mock.Output(ctx, "", "git", "rev-parse", "main")

	if string(first) != "aaa" || string(second) != "bbb" {
		t.Errorf("got %q then %q, want aaa then bbb", first, second)
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	fallback := NewMockExecutor(nil)
	fallback.AddExactMatch("git", []string{"log"}, MockResponse{Stdout: []byte("from fallback")})

	mock := NewMockExecutor(fallback)
	mock.AddExactMatch("git", []string{"status"}, MockResponse{Stdout: []byte("from primary")})

	ctx := context.Background()
	out, _ := mock.Output(ctx, "", "git", "status")
	if string(out) != "from primary" {
		t.Errorf("expected primary response, got %q", out)
	}
	out, _ = mock.Output(ctx, "", "git", "log")
	if string(out) != "from fallback" {
		t.Errorf("expected fallback response, got %q", out)
	}
}

func TestMockExecutor_RuleOrder(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"merge"}, MockResponse{Stdout: []byte("first")})
	mock.AddExactMatch("git", []string{"merge", "--abort"}, MockResponse{Stdout: []byte("second")})

	out, _ := mock.Output(context.Background(), "", "git", "merge", "--abort")
	if string(out) != "first" {
		t.Errorf("first registered rule should win, got %q", out)
	}
}

func TestMockExecutor_CallCount(t *testing.T) {
	mock := NewMockExecutor(nil)
	ctx := context.Background()

	mock.Run(ctx, "", "git", "fetch", "--all")
	mock.Run(ctx, "", "git", "merge", "x")
	mock.Run(ctx, "", "git", "merge", "y")

	if got := mock.CallCount(PrefixMatch("git", "merge")); got != 2 {
		t.Errorf("CallCount(merge) = %d, want 2", got)
	}
	if got := mock.CallCount(ExactMatch("git", "checkout")); got != 0 {
		t.Errorf("CallCount(checkout) = %d, want 0", got)
	}

	mock.ClearCalls()
	if len(mock.GetCalls()) != 0 {
		t.Error("expected no calls after ClearCalls")
	}
}

func TestMockExecutor_ConcurrentAccess(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"status"}, MockResponse{Stdout: []byte("ok")})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Run(context.Background(), "", "git", "status")
		}()
	}
	wg.Wait()

	if got := len(mock.GetCalls()); got != 20 {
		t.Errorf("recorded %d calls, want 20", got)
	}
}
