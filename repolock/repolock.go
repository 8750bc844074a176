// Package repolock serialises writers per repository.
//
// A Locker hands out one reader/writer lock per repository path. Readers
// (watcher ticks, merge plans, status queries) share it; writers (merge and
// cherry-pick applies, story writes) are exclusive. Both modes are also held
// across processes through a lock file in the state directory: readers take
// it shared and writers take it exclusive, so a reader in one overseer-git
// process never sees another process half-way through an apply.
package repolock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/cloudjubei/overseer-git/paths"
)

// DefaultRetryDelay is how often a blocked locker re-tries the lock file.
const DefaultRetryDelay = 50 * time.Millisecond

// Locker is a registry of per-repository locks.
type Locker struct {
	mu    sync.Mutex
	repos map[string]*sync.RWMutex
	dir   string
	retry time.Duration
}

// New returns a Locker whose lock files live in dir. An empty dir
// disables cross-process locking.
func New(dir string) *Locker {
	return &Locker{repos: make(map[string]*sync.RWMutex), dir: dir, retry: DefaultRetryDelay}
}

// NewDefault returns a Locker using paths.LocksDir.
func NewDefault() (*Locker, error) {
	dir, err := paths.LocksDir()
	if err != nil {
		return nil, err
	}
	return New(dir), nil
}

var (
	shared     *Locker
	sharedOnce sync.Once
)

// Shared returns the process-wide Locker. If the locks directory cannot be
// resolved, it falls back to in-process locking only.
func Shared() *Locker {
	sharedOnce.Do(func() {
		l, err := NewDefault()
		if err != nil {
			l = New("")
		}
		shared = l
	})
	return shared
}

func key(repoPath string) string {
	if abs, err := filepath.Abs(repoPath); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(repoPath)
}

func (l *Locker) rw(repoPath string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(repoPath)
	m, ok := l.repos[k]
	if !ok {
		m = &sync.RWMutex{}
		l.repos[k] = m
	}
	return m
}

// FilePath returns the lock file used for repoPath, or "" when
// cross-process locking is disabled. Names are stable SHA-1 UUIDs of the
// absolute repository path.
func (l *Locker) FilePath(repoPath string) string {
	if l.dir == "" {
		return ""
	}
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+key(repoPath))).String()
	return filepath.Join(l.dir, name+".lock")
}

// RLock takes the shared lock for repoPath, waiting until ctx is done.
// The returned func releases both the in-process and the file lock.
func (l *Locker) RLock(ctx context.Context, repoPath string) (func(), error) {
	m := l.rw(repoPath)
	if err := wait(ctx, m.RLock, m.RUnlock); err != nil {
		return nil, err
	}
	fl, err := l.lockFile(ctx, repoPath, true)
	if err != nil {
		m.RUnlock()
		return nil, err
	}
	if fl == nil {
		return m.RUnlock, nil
	}
	return func() {
		fl.Unlock()
		m.RUnlock()
	}, nil
}

// Lock takes the exclusive lock for repoPath, waiting until ctx is done.
// The returned func releases both the in-process and the file lock.
func (l *Locker) Lock(ctx context.Context, repoPath string) (func(), error) {
	m := l.rw(repoPath)
	if err := wait(ctx, m.Lock, m.Unlock); err != nil {
		return nil, err
	}
	fl, err := l.lockFile(ctx, repoPath, false)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	if fl == nil {
		return m.Unlock, nil
	}
	return func() {
		fl.Unlock()
		m.Unlock()
	}, nil
}

// wait runs lock, giving up when ctx is done first. A lock that goes
// through after the caller gave up is released with unlock.
func wait(ctx context.Context, lock, unlock func()) error {
	acquired := make(chan struct{})
	go func() {
		lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			unlock()
		}()
		return fmt.Errorf("waiting for repository lock: %w", ctx.Err())
	}
}

// lockFile polls the lock file for repoPath until it is held in the
// requested mode. It returns nil when cross-process locking is disabled.
func (l *Locker) lockFile(ctx context.Context, repoPath string, shared bool) (*flock.Flock, error) {
	path := l.FilePath(repoPath)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	fl := flock.New(path)
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(ctx, l.retry)
	} else {
		ok, err = fl.TryLockContext(ctx, l.retry)
	}
	if err != nil || !ok {
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return fl, nil
}

// TryLock takes the exclusive lock without waiting. It reports false when
// another writer or reader holds the repository.
func (l *Locker) TryLock(repoPath string) (func(), bool, error) {
	m := l.rw(repoPath)
	if !m.TryLock() {
		return nil, false, nil
	}

	path := l.FilePath(repoPath)
	if path == "" {
		return m.Unlock, true, nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		m.Unlock()
		return nil, false, fmt.Errorf("failed to create locks directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		m.Unlock()
		return nil, false, err
	}
	return func() {
		fl.Unlock()
		m.Unlock()
	}, true, nil
}
