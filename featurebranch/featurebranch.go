// Package featurebranch recognizes branches that belong to stories.
//
// Convention: features/<storyId>[.<featureId>]
//
// storyId is a canonical 36 character UUID. The optional featureId names one
// feature of the story and may contain letters, digits, '-' and '_'.
package featurebranch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Prefix starts every feature branch name.
const Prefix = "features/"

var branchPattern = regexp.MustCompile(`^features/([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})(?:\.([A-Za-z0-9][A-Za-z0-9_-]*))?$`)

var featureTokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var (
	ErrInvalidStoryID   = errors.New("story id must be a UUID")
	ErrInvalidFeatureID = errors.New("feature id may only contain letters, digits, '-' and '_'")
)

// Ref is the story (and optional feature) a branch belongs to.
type Ref struct {
	StoryID   string `json:"storyId"`
	FeatureID string `json:"featureId,omitempty"`
}

// Parse extracts the story and feature ids from a branch name.
func Parse(branch string) (Ref, bool) {
	m := branchPattern.FindStringSubmatch(branch)
	if m == nil {
		return Ref{}, false
	}
	if _, err := uuid.Parse(m[1]); err != nil {
		return Ref{}, false
	}
	return Ref{StoryID: m[1], FeatureID: m[2]}, true
}

// IsFeatureBranch reports whether branch follows the convention.
func IsFeatureBranch(branch string) bool {
	_, ok := Parse(branch)
	return ok
}

// StoryID returns the story id of a feature branch, or "".
func StoryID(branch string) string {
	ref, _ := Parse(branch)
	return ref.StoryID
}

// BranchName builds the branch name for a story and optional feature.
func BranchName(storyID, featureID string) (string, error) {
	storyID = strings.TrimSpace(storyID)
	id, err := uuid.Parse(storyID)
	if err != nil || len(storyID) != 36 {
		return "", fmt.Errorf("%w: %q", ErrInvalidStoryID, storyID)
	}
	name := Prefix + id.String()
	if featureID = strings.TrimSpace(featureID); featureID != "" {
		if !featureTokenPattern.MatchString(featureID) {
			return "", fmt.Errorf("%w: %q", ErrInvalidFeatureID, featureID)
		}
		name += "." + featureID
	}
	return name, nil
}

// Filter keeps the names that follow the convention, preserving order.
func Filter(branches []string) []string {
	var out []string
	for _, b := range branches {
		if IsFeatureBranch(b) {
			out = append(out, b)
		}
	}
	return out
}
