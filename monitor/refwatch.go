package monitor

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cloudjubei/overseer-git/git"
)

// refWatcher turns filesystem changes under .git into debounced wake-ups.
type refWatcher struct {
	fsw      *fsnotify.Watcher
	gitDir   string
	debounce time.Duration
	onWake   func()
	log      *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

func newRefWatcher(repoPath string, debounce time.Duration, onWake func(), log *slog.Logger) (*refWatcher, error) {
	root, err := git.ResolveRepoRoot(repoPath)
	if err != nil {
		return nil, err
	}
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", gitDir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	rw := &refWatcher{
		fsw:      fsw,
		gitDir:   gitDir,
		debounce: debounce,
		onWake:   onWake,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := fsw.Add(gitDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", gitDir, err)
	}
	rw.addTree(filepath.Join(gitDir, "refs", "heads"))

	go rw.run()
	return rw, nil
}

// addTree watches dir and every directory below it.
func (rw *refWatcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := rw.fsw.Add(p); err != nil {
				rw.log.Debug("failed to watch ref directory", "dir", p, "error", err)
			}
		}
		return nil
	})
}

// relevant reports whether ev can change what a tick observes.
func (rw *refWatcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, ".lock") {
		return false
	}
	switch name {
	case "HEAD", "FETCH_HEAD", "ORIG_HEAD", "packed-refs":
		return true
	}
	rel, err := filepath.Rel(rw.gitDir, ev.Name)
	return err == nil && strings.HasPrefix(filepath.ToSlash(rel), "refs/")
}

func (rw *refWatcher) run() {
	defer close(rw.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-rw.stop:
			return
		case ev, ok := <-rw.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					rw.addTree(ev.Name)
				}
			}
			if !rw.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(rw.debounce)
			} else {
				timer.Reset(rw.debounce)
			}
			fire = timer.C
		case err, ok := <-rw.fsw.Errors:
			if !ok {
				return
			}
			rw.log.Debug("ref watcher error", "error", err)
		case <-fire:
			fire = nil
			rw.onWake()
		}
	}
}

// Close stops watching and waits for the event loop to exit.
func (rw *refWatcher) Close() {
	close(rw.stop)
	rw.fsw.Close()
	<-rw.done
}
