// Package monitor polls a repository and reports when its branches change.
//
// A Watcher runs one loop goroutine. Each tick fetches, lists local
// branches, hands new feature-branch heads to the Analyzer, and publishes
// the resulting RepoSnapshot only when it differs from the previous one.
// The next tick is scheduled only after the current one has finished, so
// ticks never overlap.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloudjubei/overseer-git/git"
	"github.com/cloudjubei/overseer-git/logger"
	"github.com/cloudjubei/overseer-git/pubsub"
	"github.com/cloudjubei/overseer-git/repolock"
	"github.com/cloudjubei/overseer-git/telemetry"
)

// Poll interval bounds.
const (
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 10 * time.Minute
	DefaultPollInterval = 30 * time.Second
	DefaultDebounce     = 750 * time.Millisecond
)

// ErrPollIntervalOutOfRange is returned by SetPollInterval and New for an
// interval outside [MinPollInterval, MaxPollInterval].
var ErrPollIntervalOutOfRange = fmt.Errorf("poll interval must be between %s and %s", MinPollInterval, MaxPollInterval)

// State is the watcher lifecycle state.
type State int

const (
	Stopped State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "stopped"
}

// Config configures a Watcher.
type Config struct {
	// RepoPath is the repository to watch.
	RepoPath string

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Git defaults to git.NewGitService().
	Git *git.GitService

	// Analyzer, when set, runs over feature branches on every tick.
	Analyzer *Analyzer

	// Clock defaults to real time.
	Clock Clock

	// Locks defaults to repolock.Shared().
	Locks *repolock.Locker

	// WatchRefs wakes the loop early when refs change on disk.
	WatchRefs bool

	// Debounce coalesces ref events. Defaults to DefaultDebounce.
	Debounce time.Duration

	// NoFetch skips "git fetch --all" at the start of each tick.
	NoFetch bool
}

// Watcher polls one repository.
type Watcher struct {
	repoPath string
	git      *git.GitService
	analyzer *Analyzer
	clock    Clock
	locks    *repolock.Locker
	watchRef bool
	debounce time.Duration
	noFetch  bool
	log      *slog.Logger
	broker   *pubsub.Broker[RepoSnapshot]

	mu       sync.Mutex
	state    State
	interval time.Duration
	parent   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	last     RepoSnapshot
	hasLast  bool

	tickMu sync.Mutex
	wake   chan struct{}
}

// New returns a stopped Watcher.
func New(cfg Config) (*Watcher, error) {
	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval || interval > MaxPollInterval {
		return nil, ErrPollIntervalOutOfRange
	}
	w := &Watcher{
		repoPath: cfg.RepoPath,
		git:      cfg.Git,
		analyzer: cfg.Analyzer,
		clock:    cfg.Clock,
		locks:    cfg.Locks,
		watchRef: cfg.WatchRefs,
		debounce: cfg.Debounce,
		noFetch:  cfg.NoFetch,
		interval: interval,
		log:      logger.WithRepo("monitor", cfg.RepoPath),
		broker:   pubsub.NewBroker[RepoSnapshot](),
		wake:     make(chan struct{}, 1),
	}
	if w.git == nil {
		w.git = git.NewGitService()
	}
	if w.clock == nil {
		w.clock = realClock{}
	}
	if w.locks == nil {
		w.locks = repolock.Shared()
	}
	if w.analyzer != nil && w.analyzer.locks == nil {
		w.analyzer.locks = w.locks
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	return w, nil
}

// RepoPath returns the watched path.
func (w *Watcher) RepoPath() string { return w.repoPath }

// State reports whether the loop is running.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// PollInterval returns the current interval.
func (w *Watcher) PollInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// Start runs an immediate tick and then one every poll interval until ctx
// is done or Stop is called. Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Watching {
		return nil
	}
	w.parent = ctx
	w.startLocked()
	return nil
}

// startLocked launches the loop. Caller must hold mu.
func (w *Watcher) startLocked() {
	ctx, cancel := context.WithCancel(w.parent)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.state = Watching

	var refs *refWatcher
	if w.watchRef {
		var err error
		refs, err = newRefWatcher(w.repoPath, w.debounce, w.Wake, w.log)
		if err != nil {
			w.log.Warn("ref watching disabled", "error", err)
		}
	}
	go w.loop(ctx, done, w.interval, refs)
	w.log.Info("watching repository", "interval", w.interval, "watchRefs", refs != nil)
}

// Stop cancels the pending timer and waits for the loop to exit. A tick in
// progress runs to completion. Stop is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	done := w.stopLocked()
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// stopLocked cancels the loop and returns its done channel, or nil when
// already stopped. Caller must hold mu.
func (w *Watcher) stopLocked() chan struct{} {
	if w.state != Watching {
		return nil
	}
	w.cancel()
	w.state = Stopped
	done := w.done
	w.cancel, w.done = nil, nil
	return done
}

// Close stops the watcher and closes every subscription.
func (w *Watcher) Close() {
	w.Stop()
	w.broker.Close()
}

// SetPollInterval changes the interval. A running watcher restarts: it
// ticks immediately and then re-arms with the new interval. Out-of-range
// values are rejected and leave the watcher unchanged.
func (w *Watcher) SetPollInterval(d time.Duration) error {
	if d < MinPollInterval || d > MaxPollInterval {
		return ErrPollIntervalOutOfRange
	}
	w.mu.Lock()
	w.interval = d
	done := w.stopLocked()
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Watching {
		w.startLocked()
	}
	return nil
}

// Wake runs the next tick early. It never blocks.
func (w *Watcher) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// TriggerPoll runs a tick now, waits for it, and returns its snapshot. It
// never overlaps a loop tick.
func (w *Watcher) TriggerPoll(ctx context.Context) RepoSnapshot {
	return w.tick(ctx)
}

// Snapshot returns the most recent snapshot.
func (w *Watcher) Snapshot() (RepoSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.clone(), w.hasLast
}

// Subscribe delivers each changed snapshot until ctx is done. The channel
// closes when ctx ends or the watcher is closed.
func (w *Watcher) Subscribe(ctx context.Context) <-chan RepoSnapshot {
	events := w.broker.Subscribe(ctx)
	out := make(chan RepoSnapshot)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Updates yields changed snapshots until ctx is done or the consumer stops.
// Each range over the sequence opens its own subscription.
func (w *Watcher) Updates(ctx context.Context) iter.Seq[RepoSnapshot] {
	return func(yield func(RepoSnapshot) bool) {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		for snap := range w.Subscribe(subCtx) {
			if !yield(snap) {
				return
			}
		}
	}
}

// HasUnmerged reports whether branch has commits base lacks.
func (w *Watcher) HasUnmerged(ctx context.Context, branch, base string) (*git.UnmergedStatus, error) {
	release, err := w.locks.RLock(ctx, w.lockKey())
	if err != nil {
		return nil, err
	}
	defer release()
	return w.git.HasUnmergedCommits(ctx, w.repoPath, branch, base)
}

// MergeBranch merges branch into base under the repository write lock and,
// on success, ticks immediately so subscribers see the new heads.
func (w *Watcher) MergeBranch(ctx context.Context, branch, base string) (*git.BranchMerge, error) {
	release, err := w.locks.Lock(ctx, w.lockKey())
	if err != nil {
		return nil, err
	}
	res, err := w.git.MergeBranchIntoBase(ctx, w.repoPath, branch, base)
	release()
	if err != nil {
		return nil, err
	}
	if res.Merged {
		w.tick(ctx)
	}
	return res, nil
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}, interval time.Duration, refs *refWatcher) {
	defer close(done)
	if refs != nil {
		defer refs.Close()
	}

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(interval):
		case <-w.wake:
		}
		if ctx.Err() != nil {
			return
		}
		w.tick(ctx)
	}
}

// tick collects, analyzes and publishes one snapshot. It recovers from
// panics so the loop keeps scheduling.
func (w *Watcher) tick(ctx context.Context) (snap RepoSnapshot) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.Start(ctx, "monitor.tick", attribute.String("repo", w.repoPath))
	var tickErr error
	defer func() {
		if r := recover(); r != nil {
			tickErr = fmt.Errorf("tick panicked: %v", r)
			w.log.Error("tick panicked", "panic", r)
			snap = RepoSnapshot{RepoPath: w.repoPath, Error: tickErr.Error(), LastUpdatedAt: w.clock.Now()}
		}
		telemetry.End(span, tickErr)
	}()

	snap, err := w.collectLocked(ctx)
	if err != nil {
		tickErr = err
		w.log.Warn("failed to lock repository", "error", err)
		snap = RepoSnapshot{RepoPath: w.repoPath, Error: err.Error(), LastUpdatedAt: w.clock.Now()}
	} else if snap.OK && snap.RepoPath != "" && w.analyzer != nil {
		stats := w.analyzer.AnalyzeBranches(ctx, snap)
		if stats.Analyzed > 0 {
			w.log.Debug("analyzed feature branches", "analyzed", stats.Analyzed, "synced", stats.Synced, "failed", stats.Failed)
		}
	}

	if w.record(snap) {
		span.SetAttributes(attribute.Bool("changed", true))
		w.broker.Publish(pubsub.UpdatedEvent, snap.clone())
	}
	return snap
}

// lockKey is the repository root when it resolves, so the watcher shares
// locks with planners and appliers working on the same repository.
func (w *Watcher) lockKey() string {
	if root, err := git.ResolveRepoRoot(w.repoPath); err == nil {
		return root
	}
	return w.repoPath
}

// collectLocked collects under the repository read lock. Analysis runs
// after it is released; sink writes take the write lock themselves.
func (w *Watcher) collectLocked(ctx context.Context) (RepoSnapshot, error) {
	release, err := w.locks.RLock(ctx, w.lockKey())
	if err != nil {
		return RepoSnapshot{}, err
	}
	defer release()
	return w.collect(ctx), nil
}

func (w *Watcher) collect(ctx context.Context) RepoSnapshot {
	now := w.clock.Now()
	root, err := git.ResolveRepoRoot(w.repoPath)
	if err != nil {
		if !errors.Is(err, git.ErrNotRepository) {
			w.log.Warn("failed to resolve repository", "error", err)
		}
		return RepoSnapshot{OK: true, Branches: []git.BranchInfo{}, LastUpdatedAt: now}
	}

	if !w.noFetch {
		w.git.FetchAll(ctx, root)
	}
	branches := w.git.ListLocalBranches(ctx, root)
	if branches == nil {
		branches = []git.BranchInfo{}
	}
	return RepoSnapshot{
		OK:            true,
		RepoPath:      root,
		Branches:      branches,
		CurrentBranch: w.git.CurrentBranch(ctx, root),
		LastFetchAt:   git.LastFetchAt(root),
		LastUpdatedAt: now,
	}
}

// record stores snap and reports whether it differs from the previous one.
func (w *Watcher) record(snap RepoSnapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := !w.hasLast || !w.last.Equal(snap)
	w.last = snap.clone()
	w.hasLast = true
	return changed
}
