package monitor

import (
	"context"
	"path/filepath"
	"sync"
)

// Registry keeps one independent watcher per repository.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]*Watcher)}
}

func registryKey(repoPath string) string {
	if abs, err := filepath.Abs(repoPath); err == nil {
		return abs
	}
	return filepath.Clean(repoPath)
}

// Start creates and starts a watcher for cfg.RepoPath. If one is already
// registered it is returned unchanged.
func (r *Registry) Start(ctx context.Context, cfg Config) (*Watcher, error) {
	key := registryKey(cfg.RepoPath)

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watchers[key]; ok {
		return w, nil
	}
	w, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	r.watchers[key] = w
	return w, nil
}

// Get returns the watcher for repoPath.
func (r *Registry) Get(repoPath string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[registryKey(repoPath)]
	return w, ok
}

// Repos lists the watched repository paths.
func (r *Registry) Repos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	repos := make([]string, 0, len(r.watchers))
	for k := range r.watchers {
		repos = append(repos, k)
	}
	return repos
}

// Stop closes and forgets the watcher for repoPath. It reports whether
// one was registered.
func (r *Registry) Stop(repoPath string) bool {
	key := registryKey(repoPath)
	r.mu.Lock()
	w, ok := r.watchers[key]
	delete(r.watchers, key)
	r.mu.Unlock()
	if ok {
		w.Close()
	}
	return ok
}

// StopAll closes every watcher.
func (r *Registry) StopAll() {
	r.mu.Lock()
	watchers := r.watchers
	r.watchers = make(map[string]*Watcher)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Close()
		}()
	}
	wg.Wait()
}
