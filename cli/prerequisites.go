// Package cli checks the external tools overseer-git depends on.
package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudjubei/overseer-git/exec"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Command name (e.g., "git")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
	MinVersion  string // Oldest supported version, e.g. "2.38.0"
	// Features are optional capabilities gated on newer versions.
	Features []Feature
}

// Feature is a capability that needs at least Since.
type Feature struct {
	Name  string
	Since string
}

// DefaultPrerequisites returns the tools overseer-git needs.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
			MinVersion:  "2.38.0",
			Features: []Feature{
				{Name: "merge-tree --write-tree", Since: "2.38.0"},
				{Name: "merge-tree --merge-base", Since: "2.40.0"},
				{Name: "worktree add --detach", Since: "2.17.0"},
			},
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	// TooOld is set when Version is below Prerequisite.MinVersion.
	TooOld bool
	// Missing lists the features the found version lacks.
	Missing []string
	Error   error
}

// OK reports whether the tool is present and new enough.
func (r CheckResult) OK() bool {
	return r.Found && !r.TooOld
}

// Checker runs prerequisite checks. The zero value uses exec.LookPath-style
// resolution and a real executor.
type Checker struct {
	Executor exec.CommandExecutor
	LookPath func(string) (string, error)
}

func (c Checker) executor() exec.CommandExecutor {
	if c.Executor == nil {
		return exec.NewRealExecutor()
	}
	return c.Executor
}

func (c Checker) lookPath(name string) (string, error) {
	if c.LookPath == nil {
		return osexec.LookPath(name)
	}
	return c.LookPath(name)
}

// Check verifies that a CLI tool is available in PATH and new enough.
func Check(prereq Prerequisite) CheckResult {
	return Checker{}.Check(context.Background(), prereq)
}

// Check verifies prereq.
func (c Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.lookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}
	result.Found = true
	result.Path = path
	result.Version = c.version(ctx, prereq.Name)

	if result.Version == "" || (prereq.MinVersion == "" && len(prereq.Features) == 0) {
		return result
	}
	have, ok := ParseVersion(result.Version)
	if !ok {
		return result
	}
	if prereq.MinVersion != "" {
		if want, ok := ParseVersion(prereq.MinVersion); ok && CompareVersions(have, want) < 0 {
			result.TooOld = true
			result.Error = fmt.Errorf("%s %s is older than the required %s", prereq.Name, FormatVersion(have), prereq.MinVersion)
		}
	}
	for _, f := range prereq.Features {
		if since, ok := ParseVersion(f.Since); ok && CompareVersions(have, since) < 0 {
			result.Missing = append(result.Missing, f.Name)
		}
	}
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required tools are usable, otherwise an error
// describing what's missing or outdated.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		result := Check(prereq)
		switch {
		case !result.Found:
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		case result.TooOld:
			missing = append(missing, fmt.Sprintf("  - %s %s is too old, need %s or newer\n    Install: %s",
				prereq.Name, result.Version, prereq.MinVersion, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// version returns the first line of "<name> --version", capped in length.
// Some tools print their version on stderr, so both streams are read.
func (c Checker) version(ctx context.Context, name string) string {
	output, err := c.executor().CombinedOutput(ctx, "", name, "--version")
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(output), "\n")
	line = strings.TrimSpace(line)
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first major.minor[.patch] triple from s, e.g.
// "git version 2.39.3 (Apple Git-145)".
func ParseVersion(s string) ([3]int, bool) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return [3]int{}, false
	}
	var v [3]int
	for i := range 3 {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return [3]int{}, false
		}
		v[i] = n
	}
	return v, true
}

// CompareVersions returns -1, 0 or 1.
func CompareVersions(a, b [3]int) int {
	for i := range 3 {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// FormatVersion renders v as "major.minor.patch".
func FormatVersion(v [3]int) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.OK() {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		switch {
		case r.Found && r.Version != "":
			sb.WriteString(fmt.Sprintf(" (%s)", r.Version))
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		if r.TooOld {
			sb.WriteString(fmt.Sprintf(" [need %s]", r.Prerequisite.MinVersion))
		}
		sb.WriteString("\n")
		for _, f := range r.Missing {
			sb.WriteString(fmt.Sprintf("      unavailable: %s\n", f))
		}
	}

	return sb.String()
}
