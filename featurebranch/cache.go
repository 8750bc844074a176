package featurebranch

import "sync"

// historyLimit bounds the analyzed shas remembered per branch.
const historyLimit = 64

// Cache remembers which commits have been analyzed on each branch so every
// head commit is analyzed at most once. It is safe for concurrent use.
//
// Last only ever advances: marking a sha that was already analyzed on the
// branch (for example after a reset to an older head) leaves it unchanged.
//
// Each branch remembers its latest historyLimit shas. The current head is
// always among them; a branch reset to a head older than that is analyzed
// again.
type Cache struct {
	mu       sync.Mutex
	branches map[string]*branchHistory
}

type branchHistory struct {
	last string
	seen map[string]struct{}
	// order is the insertion order of seen, oldest first, for eviction.
	order []string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{branches: make(map[string]*branchHistory)}
}

// ShouldAnalyze reports whether sha on branch has not been analyzed yet.
func (c *Cache) ShouldAnalyze(branch, sha string) bool {
	if sha == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.branches[branch]
	if !ok {
		return true
	}
	if sha == h.last {
		return false
	}
	_, seen := h.seen[sha]
	return !seen
}

// MarkAnalyzed records that sha on branch was analyzed, whatever the outcome.
func (c *Cache) MarkAnalyzed(branch, sha string) {
	if sha == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.branches[branch]
	if !ok {
		h = &branchHistory{seen: make(map[string]struct{})}
		c.branches[branch] = h
	}
	if _, seen := h.seen[sha]; seen {
		return
	}
	h.seen[sha] = struct{}{}
	h.order = append(h.order, sha)
	h.last = sha
	if len(h.order) > historyLimit {
		evict := h.order[0]
		h.order = h.order[1:]
		delete(h.seen, evict)
	}
}

// Last returns the most recently analyzed sha for branch.
func (c *Cache) Last(branch string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.branches[branch]
	if !ok {
		return "", false
	}
	return h.last, true
}

// Len returns the number of branches tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.branches)
}
