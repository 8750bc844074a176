package monitor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjubei/overseer-git/repolock"
)

func registryConfig(repo string) Config {
	return Config{
		RepoPath:     repo,
		PollInterval: MaxPollInterval,
		Clock:        newFakeClock(),
		Locks:        repolock.New(""),
		NoFetch:      true,
	}
}

func TestRegistry_StartIsIdempotentPerRepo(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.StopAll)
	repo := newRepo(t)
	ctx := ctxT(t)

	w1, err := r.Start(ctx, registryConfig(repo))
	require.NoError(t, err)
	w2, err := r.Start(ctx, registryConfig(filepath.Join(repo, ".")))
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.Equal(t, Watching, w1.State())

	got, ok := r.Get(repo)
	require.True(t, ok)
	assert.Same(t, w1, got)
	assert.Len(t, r.Repos(), 1)
}

func TestRegistry_IndependentRepos(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.StopAll)
	ctx := ctxT(t)
	a, b := newRepo(t), newRepo(t)

	wa, err := r.Start(ctx, registryConfig(a))
	require.NoError(t, err)
	wb, err := r.Start(ctx, registryConfig(b))
	require.NoError(t, err)
	assert.NotSame(t, wa, wb)

	assert.True(t, r.Stop(a))
	assert.False(t, r.Stop(a))
	assert.Equal(t, Stopped, wa.State())
	assert.Equal(t, Watching, wb.State())

	_, ok := r.Get(a)
	assert.False(t, ok)
}

func TestRegistry_StartRejectsBadInterval(t *testing.T) {
	r := NewRegistry()
	cfg := registryConfig(newRepo(t))
	cfg.PollInterval = MaxPollInterval * 2

	_, err := r.Start(ctxT(t), cfg)
	assert.ErrorIs(t, err, ErrPollIntervalOutOfRange)
	assert.Empty(t, r.Repos())
}

func TestRegistry_StopAll(t *testing.T) {
	r := NewRegistry()
	ctx := ctxT(t)
	var watchers []*Watcher
	for range 3 {
		w, err := r.Start(ctx, registryConfig(newRepo(t)))
		require.NoError(t, err)
		watchers = append(watchers, w)
	}

	r.StopAll()
	assert.Empty(t, r.Repos())
	for _, w := range watchers {
		assert.Equal(t, Stopped, w.State())
	}
}
