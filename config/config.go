// Package config loads and saves the overseer-git configuration file,
// config.yaml in the config directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudjubei/overseer-git/merge"
	"github.com/cloudjubei/overseer-git/monitor"
	"github.com/cloudjubei/overseer-git/paths"
)

// Config holds the application configuration
type Config struct {
	Repos   []RepoConfig  `yaml:"repos"`
	Planner PlannerConfig `yaml:"planner"`
	Debug   bool          `yaml:"debug,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// RepoConfig describes one monitored repository.
type RepoConfig struct {
	Path string `yaml:"path"`
	// BaseBranch overrides the current branch as the default merge base.
	BaseBranch   string    `yaml:"base_branch,omitempty"`
	PollInterval *Duration `yaml:"poll_interval,omitempty"`
	WatchRefs    bool      `yaml:"watch_refs,omitempty"`
	StoryFile    string    `yaml:"story_file,omitempty"`
}

// Interval returns the configured poll interval, or
// monitor.DefaultPollInterval.
func (r RepoConfig) Interval() time.Duration {
	if r.PollInterval == nil || r.PollInterval.Duration == 0 {
		return monitor.DefaultPollInterval
	}
	return r.PollInterval.Duration
}

// PlannerConfig holds merge planner limits.
type PlannerConfig struct {
	MaxPatchedFiles int    `yaml:"max_patched_files,omitempty"`
	MaxPatchBytes   int    `yaml:"max_patch_bytes,omitempty"`
	PlanMode        string `yaml:"plan_mode,omitempty"`
}

// Duration is a wrapper around time.Duration that implements YAML unmarshaling
// from human-readable strings like "30s", "2m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// ValidationError describes a single validation problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{Repos: []RepoConfig{}}
	cfg.applyDefaults()
	return cfg
}

// Load reads config.yaml from the config directory, or returns the default
// configuration if it doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration at path. A missing file yields the
// default configuration bound to path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.filePath = path
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.filePath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields. It must run before the Config is shared.
func (c *Config) applyDefaults() {
	if c.Repos == nil {
		c.Repos = []RepoConfig{}
	}
	if c.Planner.MaxPatchedFiles == 0 {
		c.Planner.MaxPatchedFiles = merge.DefaultMaxPatchedFiles
	}
	if c.Planner.MaxPatchBytes == 0 {
		c.Planner.MaxPatchBytes = merge.DefaultMaxPatchBytes
	}
	if c.Planner.PlanMode == "" {
		c.Planner.PlanMode = string(merge.PlanWorktree)
	}
}

// Validate checks that the config is internally consistent. All problems
// are reported, joined.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	for i, repo := range c.Repos {
		field := fmt.Sprintf("repos[%d]", i)
		if repo.Path == "" {
			errs = append(errs, ValidationError{Field: field + ".path", Message: "path is required"})
			continue
		}
		for j := i + 1; j < len(c.Repos); j++ {
			if SamePath(repo.Path, c.Repos[j].Path) {
				errs = append(errs, ValidationError{Field: field + ".path", Message: fmt.Sprintf("duplicate repo %s", repo.Path)})
			}
		}
		if repo.PollInterval != nil {
			d := repo.PollInterval.Duration
			if d < monitor.MinPollInterval || d > monitor.MaxPollInterval {
				errs = append(errs, ValidationError{
					Field:   field + ".poll_interval",
					Message: fmt.Sprintf("%s is outside [%s, %s]", d, monitor.MinPollInterval, monitor.MaxPollInterval),
				})
			}
		}
	}

	if c.Planner.MaxPatchedFiles < 0 {
		errs = append(errs, ValidationError{Field: "planner.max_patched_files", Message: "must not be negative"})
	}
	if c.Planner.MaxPatchBytes < 0 {
		errs = append(errs, ValidationError{Field: "planner.max_patch_bytes", Message: "must not be negative"})
	}
	switch merge.PlanMode(c.Planner.PlanMode) {
	case "", merge.PlanWorktree, merge.PlanMergeTree:
	default:
		errs = append(errs, ValidationError{
			Field:   "planner.plan_mode",
			Message: fmt.Sprintf("unknown plan mode %q (must be %s or %s)", c.Planner.PlanMode, merge.PlanWorktree, merge.PlanMergeTree),
		})
	}
	return errors.Join(errs...)
}

// Save writes the config to its file, creating the directory if needed.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filePath == "" {
		return errors.New("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// FilePath returns the file the config was loaded from.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// AddRepo adds a repository if it isn't configured yet. The path is stored
// absolute.
func (c *Config) AddRepo(repo RepoConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if abs, err := filepath.Abs(repo.Path); err == nil {
		repo.Path = abs
	}
	if indexOfRepo(c.Repos, repo.Path) >= 0 {
		return false
	}
	c.Repos = append(c.Repos, repo)
	return true
}

// RemoveRepo removes a repository from the config.
// Returns true if the repo was found and removed, false otherwise.
func (c *Config) RemoveRepo(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := indexOfRepo(c.Repos, path)
	if i < 0 {
		return false
	}
	c.Repos = slices.Delete(c.Repos, i, i+1)
	return true
}

// Repo returns the configuration of the repository at path.
func (c *Config) Repo(path string) (RepoConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOfRepo(c.Repos, path); i >= 0 {
		return c.Repos[i], true
	}
	return RepoConfig{}, false
}

// GetRepos returns a copy of the repos slice
func (c *Config) GetRepos() []RepoConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	repos := make([]RepoConfig, len(c.Repos))
	copy(repos, c.Repos)
	return repos
}

