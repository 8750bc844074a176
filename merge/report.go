package merge

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cloudjubei/overseer-git/git"
)

// ReportOptions configures BuildReport.
type ReportOptions struct {
	IncludePatch          bool
	MaxPatchedFiles       int
	MaxPatchBytes         int
	IncludeStructuredDiff bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Diff line kinds.
const (
	LineAdd     = "add"
	LineDel     = "del"
	LineContext = "context"
)

// DiffLine is one line of a hunk without its leading marker.
type DiffLine struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"oldLine,omitempty"`
	NewLine int    `json:"newLine,omitempty"`
}

// DiffHunk is a parsed unified diff hunk.
type DiffHunk struct {
	OldStart int        `json:"oldStart"`
	OldLines int        `json:"oldLines"`
	NewStart int        `json:"newStart"`
	NewLines int        `json:"newLines"`
	Header   string     `json:"header,omitempty"`
	Lines    []DiffLine `json:"lines"`
}

// ReportFile is a plan file as presented in a report.
type ReportFile struct {
	FileChange
	StructuredDiff []DiffHunk `json:"structuredDiff,omitempty"`
}

// MergeReport is a client-facing rendering of a MergePlan.
type MergeReport struct {
	SchemaVersion    string              `json:"schemaVersion"`
	Kind             string              `json:"kind"`
	GeneratedAt      time.Time           `json:"generatedAt"`
	RepoPath         string              `json:"repoPath"`
	BaseRef          string              `json:"baseRef"`
	Sources          []string            `json:"sources"`
	Totals           git.DiffTotals      `json:"totals"`
	Files            []ReportFile        `json:"files"`
	Conflicts        []git.ConflictEntry `json:"conflicts,omitempty"`
	ImpactOnLocal    *ImpactOnLocal      `json:"impactOnLocal,omitempty"`
	PatchesTruncated bool                `json:"patchesTruncated,omitempty"`
}

// BuildReport renders plan, re-applying patch limits to the patches the
// plan already carries.
func BuildReport(plan *MergePlan, opts ReportOptions) *MergeReport {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rep := &MergeReport{
		SchemaVersion:    SchemaVersion,
		Kind:             KindMergeReport,
		GeneratedAt:      now(),
		RepoPath:         plan.RepoPath,
		BaseRef:          plan.BaseRef,
		Sources:          slices.Clone(plan.Sources),
		Totals:           plan.Totals,
		Files:            make([]ReportFile, 0, len(plan.Files)),
		Conflicts:        plan.Conflicts,
		ImpactOnLocal:    plan.ImpactOnLocal,
		PatchesTruncated: plan.PatchesTruncated,
	}

	lim := limits(opts.MaxPatchedFiles, opts.MaxPatchBytes)
	used, patched := 0, 0
	for _, f := range plan.Files {
		rf := ReportFile{FileChange: f}
		if !opts.IncludePatch {
			rf.Patch = ""
			rf.PatchTruncated = false
			rep.Files = append(rep.Files, rf)
			continue
		}
		if rf.Patch != "" {
			switch {
			case patched >= lim.files || used >= lim.bytes:
				rf.Patch = ""
				rf.PatchTruncated = true
			case len(rf.Patch) > lim.bytes-used:
				rf.Patch = truncateAtLine(rf.Patch, lim.bytes-used)
				rf.PatchTruncated = true
				used = lim.bytes
				patched++
			default:
				used += len(rf.Patch)
				patched++
			}
			if rf.PatchTruncated {
				rep.PatchesTruncated = true
			}
		}
		if opts.IncludeStructuredDiff && rf.Patch != "" {
			rf.StructuredDiff = ParseHunks(rf.Patch)
		}
		rep.Files = append(rep.Files, rf)
	}
	if !opts.IncludePatch {
		rep.PatchesTruncated = false
	}
	return rep
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)

// ParseHunks parses the hunks of a single-file unified diff. File headers
// and "\ No newline at end of file" markers are skipped. A truncated final
// hunk keeps the lines that are present.
func ParseHunks(patch string) []DiffHunk {
	var hunks []DiffHunk
	var cur *DiffHunk
	var oldLine, newLine, oldLeft, newLeft int

	for _, line := range strings.Split(strings.TrimSuffix(patch, "\n"), "\n") {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			hunks = append(hunks, DiffHunk{
				OldStart: atoi(m[1], 0),
				OldLines: atoi(m[2], 1),
				NewStart: atoi(m[3], 0),
				NewLines: atoi(m[4], 1),
				Header:   m[5],
				Lines:    []DiffLine{},
			})
			cur = &hunks[len(hunks)-1]
			oldLine, newLine = cur.OldStart, cur.NewStart
			oldLeft, newLeft = cur.OldLines, cur.NewLines
			continue
		}
		if cur == nil || (oldLeft <= 0 && newLeft <= 0) {
			continue
		}
		if strings.HasPrefix(line, `\`) {
			continue
		}

		marker, text := byte(' '), line
		if line != "" {
			marker, text = line[0], line[1:]
		}
		switch marker {
		case '+':
			cur.Lines = append(cur.Lines, DiffLine{Type: LineAdd, Text: text, NewLine: newLine})
			newLine++
			newLeft--
		case '-':
			cur.Lines = append(cur.Lines, DiffLine{Type: LineDel, Text: text, OldLine: oldLine})
			oldLine++
			oldLeft--
		case ' ':
			cur.Lines = append(cur.Lines, DiffLine{Type: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
			oldLine++
			newLine++
			oldLeft--
			newLeft--
		default:
			cur = nil
		}
	}
	return hunks
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
