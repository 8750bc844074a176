package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/gittest"
	"github.com/cloudjubei/overseer-git/repolock"
)

const testStoryID = "11111111-1111-1111-1111-111111111111"

// fakeClock fires After channels only when advanced. Every call to After
// is reported on armed, which tells tests a tick has finished.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
	armed   chan time.Duration
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), armed: make(chan time.Duration, 64)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, fakeWaiter{deadline: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	c.armed <- d
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
		} else {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}

// waitArmed waits until the loop arms its next timer and returns the interval.
func (c *fakeClock) waitArmed(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.armed:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timer was never armed")
		return 0
	}
}

func (c *fakeClock) assertNotArmed(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.armed:
		t.Fatalf("unexpected timer armed for %s", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestWatcher(t *testing.T, repo string, clock Clock, analyzer *Analyzer) *Watcher {
	t.Helper()
	w, err := New(Config{
		RepoPath:     repo,
		PollInterval: MinPollInterval,
		Git:          git.NewGitService(),
		Analyzer:     analyzer,
		Clock:        clock,
		Locks:        repolock.New(""),
		NoFetch:      true,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func receiveSnapshot(t *testing.T, ch <-chan RepoSnapshot) RepoSnapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return RepoSnapshot{}
	}
}

func assertNoSnapshot(t *testing.T, ch <-chan RepoSnapshot) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func newRepo(t *testing.T) string {
	t.Helper()
	return gittest.NewRepo(t)
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
