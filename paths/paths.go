// Package paths resolves where overseer-git keeps its files.
//
// Layout follows the XDG Base Directory Specification:
//
//   - Config (XDG_CONFIG_HOME): config.yaml
//   - Data (XDG_DATA_HOME): worktrees/ for merge-plan scratch checkouts
//   - State (XDG_STATE_HOME): logs/ and locks/
//
// Resolution order:
//  1. If ~/.overseer/ exists → use the flat layout (all paths under ~/.overseer/)
//  2. If any XDG env var is set → use XDG layout with an "overseer-git" subdirectory
//  3. Otherwise → default to ~/.overseer/
//
// OVERSEER_HOME overrides all of the above with a single flat directory.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	flatDirName = ".overseer"
	xdgDirName  = "overseer-git"
	homeEnv     = "OVERSEER_HOME"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

func flatLayout(dir string) *resolvedPaths {
	return &resolvedPaths{configDir: dir, dataDir: dir, stateDir: dir, flat: true}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if dir := os.Getenv(homeEnv); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		resolved = flatLayout(abs)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	flatDir := filepath.Join(home, flatDirName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flatLayout(flatDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, xdgDirName),
			dataDir:   filepath.Join(xdgData, xdgDirName),
			stateDir:  filepath.Join(xdgState, xdgDirName),
		}
		return resolved, nil
	}

	resolved = flatLayout(flatDir)
	return resolved, nil
}

// ConfigDir returns the directory for config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for logs and lock files.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// LocksDir returns the directory for per-repository lock files.
func LocksDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "locks"), nil
}

// WorktreesDir returns the directory for temporary merge-plan worktrees.
func WorktreesDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worktrees"), nil
}

// IsFlatLayout reports whether all files live under one directory.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
