package config

import (
	"os"
	"path/filepath"
)

// canonicalPath returns p made absolute with symlinks resolved. A path that
// cannot be resolved is only made absolute and cleaned.
func canonicalPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

// SamePath reports whether a and b name the same repository directory. Two
// missing paths match only when they canonicalise to the same string; on
// case-insensitive filesystems existing entries are compared by identity.
func SamePath(a, b string) bool {
	ca, cb := canonicalPath(a), canonicalPath(b)
	if ca == cb {
		return true
	}
	ia, errA := os.Stat(ca)
	ib, errB := os.Stat(cb)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}

// indexOfRepo returns the index of the repo configured at path, or -1.
func indexOfRepo(repos []RepoConfig, path string) int {
	for i, r := range repos {
		if SamePath(r.Path, path) {
			return i
		}
	}
	return -1
}
