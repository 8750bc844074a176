// Package story reads story state embedded in feature-branch commits and
// reconciles it into the local stories/<id>/story.json files.
//
// CommitAnalyzer locates and parses a story.json in a commit tree without
// checking anything out. FileSink merges the parsed state into the working
// tree's copy of the story, keeping every field it does not own.
package story

import "time"

// DefaultFileName is the story document looked for in commit trees.
const DefaultFileName = "story.json"

// Feature is one feature entry in a story document.
type Feature struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// Summary identifies a story.
type Summary struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// Extracted is the lightweight view of a story document.
type Extracted struct {
	Status   string    `json:"status,omitempty"`
	Summary  *Summary  `json:"summary,omitempty"`
	Features []Feature `json:"features,omitempty"`
}

// Analysis is the outcome of inspecting one commit.
type Analysis struct {
	OK            bool           `json:"ok"`
	Commit        string         `json:"commit,omitempty"`
	Found         bool           `json:"found"`
	StoryJSONPath string         `json:"storyJsonPath,omitempty"`
	Raw           map[string]any `json:"storyRaw,omitempty"`
	Extracted     *Extracted     `json:"extracted,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Payload returns the story state to forward to a sink. The raw document is
// preferred over the extracted view. ok is false when nothing usable was found.
func (a *Analysis) Payload() (Payload, bool) {
	if a == nil || !a.OK || !a.Found {
		return Payload{}, false
	}
	if a.Raw == nil && a.Extracted == nil {
		return Payload{}, false
	}
	return Payload{Raw: a.Raw, Extracted: a.Extracted}, true
}

// SummaryID returns the story id named inside the analyzed document.
func (a *Analysis) SummaryID() string {
	if a == nil || a.Extracted == nil || a.Extracted.Summary == nil {
		return ""
	}
	return a.Extracted.Summary.ID
}

// Payload carries commit story state in either of its two shapes.
type Payload struct {
	Raw       map[string]any
	Extracted *Extracted
}

// GitMeta records where synced state came from.
type GitMeta struct {
	Commit        string `json:"commit,omitempty"`
	Branch        string `json:"branch,omitempty"`
	StoryJSONPath string `json:"storyJsonPath,omitempty"`
}

// SyncMeta tells a sink which story to update and from where.
type SyncMeta struct {
	StoryID   string
	FeatureID string
	Git       GitMeta
}

// Normalized is commit story state reduced to the fields a sink merges.
type Normalized struct {
	StoryID     string
	Title       string
	Description string
	Status      string
	Features    []Feature
}

// ChangeSummary lists what a sync changed.
type ChangeSummary struct {
	StoryStatusChanged bool     `json:"storyStatusChanged"`
	UpdatedFeatures    []string `json:"updatedFeatures"`
	AddedFeatures      []string `json:"addedFeatures"`
}

// Empty reports whether no story field changed.
func (c ChangeSummary) Empty() bool {
	return !c.StoryStatusChanged && len(c.UpdatedFeatures) == 0 && len(c.AddedFeatures) == 0
}

// SyncResult is the outcome of FileSink.Update.
type SyncResult struct {
	Path     string        `json:"path"`
	Changes  ChangeSummary `json:"changes"`
	Written  bool          `json:"written"`
	SyncedAt time.Time     `json:"syncedAt"`
}
