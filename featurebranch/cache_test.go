package featurebranch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCache_AnalyzeOncePerCommit(t *testing.T) {
	c := NewCache()
	branch := "features/" + storyID

	assert.True(t, c.ShouldAnalyze(branch, "a1"))
	c.MarkAnalyzed(branch, "a1")
	assert.False(t, c.ShouldAnalyze(branch, "a1"))
	assert.True(t, c.ShouldAnalyze(branch, "b2"))

	last, ok := c.Last(branch)
	assert.True(t, ok)
	assert.Equal(t, "a1", last)
}

func TestCache_DoesNotMoveBackToOlderCommit(t *testing.T) {
	c := NewCache()
	c.MarkAnalyzed("b", "old")
	c.MarkAnalyzed("b", "new")

	// branch reset to the old head
	assert.False(t, c.ShouldAnalyze("b", "old"))
	c.MarkAnalyzed("b", "old")

	last, _ := c.Last("b")
	assert.Equal(t, "new", last)
}

func TestCache_BranchesAreIndependent(t *testing.T) {
	c := NewCache()
	c.MarkAnalyzed("one", "sha")
	assert.True(t, c.ShouldAnalyze("two", "sha"))
	assert.Equal(t, 1, c.Len())

	_, ok := c.Last("two")
	assert.False(t, ok)
}

func TestCache_EmptySHA(t *testing.T) {
	c := NewCache()
	assert.False(t, c.ShouldAnalyze("b", ""))
	c.MarkAnalyzed("b", "")
	assert.Equal(t, 0, c.Len())
}

func TestCache_HistoryIsBounded(t *testing.T) {
	c := NewCache()
	for i := range historyLimit + 10 {
		c.MarkAnalyzed("b", fmt.Sprintf("sha-%d", i))
	}
	assert.True(t, c.ShouldAnalyze("b", "sha-0"), "oldest entries are evicted")
	assert.False(t, c.ShouldAnalyze("b", fmt.Sprintf("sha-%d", historyLimit+9)))
}

func TestCache_RecentHeadsSurviveEviction(t *testing.T) {
	c := NewCache()
	total := 3 * historyLimit
	for i := range total {
		c.MarkAnalyzed("b", fmt.Sprintf("sha-%d", i))
	}
	last, ok := c.Last("b")
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("sha-%d", total-1), last)
	assert.False(t, c.ShouldAnalyze("b", last), "the current head is never analyzed twice")
	for i := total - historyLimit; i < total; i++ {
		assert.False(t, c.ShouldAnalyze("b", fmt.Sprintf("sha-%d", i)), "sha-%d is within the history window", i)
	}

	// Returning to an evicted head re-analyzes it once and moves last there.
	c.MarkAnalyzed("b", "sha-0")
	assert.False(t, c.ShouldAnalyze("b", "sha-0"))
	last, _ = c.Last("b")
	assert.Equal(t, "sha-0", last)
}

func TestCache_ConcurrentUse(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			branch := fmt.Sprintf("b%d", i%4)
			c.ShouldAnalyze(branch, "x")
			c.MarkAnalyzed(branch, "x")
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}

// Once a sha has been marked, it is never offered for analysis again and
// the recorded head only changes to shas that were never seen before.
func TestCache_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCache()
		shas := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"}), 1, 30).Draw(t, "shas")

		marked := map[string]bool{}
		for _, sha := range shas {
			before, _ := c.Last("branch")
			should := c.ShouldAnalyze("branch", sha)
			if should == marked[sha] {
				t.Fatalf("ShouldAnalyze(%s) = %v after marked=%v", sha, should, marked[sha])
			}
			c.MarkAnalyzed("branch", sha)
			after, _ := c.Last("branch")
			if marked[sha] && after != before {
				t.Fatalf("re-marking %s moved last from %s to %s", sha, before, after)
			}
			if !marked[sha] && after != sha {
				t.Fatalf("marking new sha %s left last at %s", sha, after)
			}
			marked[sha] = true
		}
	})
}
