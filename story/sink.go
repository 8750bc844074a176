package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cloudjubei/overseer-git/logger"
)

var (
	ErrStoryIDRequired = errors.New("unable to determine story id from commit data or options")
	ErrStoryNotFound   = errors.New("local story file not found")
	ErrInvalidStory    = errors.New("local story file is not a JSON object")
)

// FileSink reconciles commit story state into stories/<id>/story.json
// under the repository root.
type FileSink struct {
	// DryRun computes the change without writing it.
	DryRun bool
	now    func() time.Time
}

// NewFileSink returns a sink that writes changes to disk.
func NewFileSink() *FileSink {
	return &FileSink{now: time.Now}
}

// WithClock returns a copy of the sink stamping syncs with now.
func (s *FileSink) WithClock(now func() time.Time) *FileSink {
	c := *s
	c.now = now
	return &c
}

// StoryPath returns the local story document for storyID.
func StoryPath(repoPath, storyID string) string {
	return filepath.Join(repoPath, "stories", storyID, DefaultFileName)
}

// Sync applies payload to the local story. It satisfies the monitor's
// StoryStateSink.
func (s *FileSink) Sync(ctx context.Context, repoPath string, payload Payload, meta SyncMeta) error {
	_, err := s.Update(ctx, repoPath, payload, meta)
	return err
}

// Update merges payload into the local story document and writes it back
// when its rendering changed. The story id comes from meta, falling back
// to the id inside the payload.
func (s *FileSink) Update(ctx context.Context, repoPath string, payload Payload, meta SyncMeta) (*SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.WithRepo("story", repoPath)

	normalized := Normalize(payload)
	storyID := meta.StoryID
	if storyID == "" {
		storyID = normalized.StoryID
	}
	if storyID == "" {
		return nil, ErrStoryIDRequired
	}

	storyPath := StoryPath(repoPath, storyID)
	info, err := os.Stat(storyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, storyPath)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", storyPath, err)
	}
	raw, err := os.ReadFile(storyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", storyPath, err)
	}
	local, err := ParseDocument(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStory, storyPath, err)
	}

	updated, changes := Merge(local, normalized)
	syncedAt := s.now().UTC()
	stampGitSync(updated, syncedAt, meta.Git)

	next, err := EncodeDocument(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", storyPath, err)
	}

	result := &SyncResult{Path: storyPath, Changes: changes, SyncedAt: syncedAt}
	if string(next) == string(raw) {
		return result, nil
	}

	added, removed := LineDiffStats(string(raw), string(next))
	log.Info("story state changed",
		"story", storyID,
		"branch", meta.Git.Branch,
		"commit", meta.Git.Commit,
		"statusChanged", changes.StoryStatusChanged,
		"updatedFeatures", len(changes.UpdatedFeatures),
		"addedFeatures", len(changes.AddedFeatures),
		"linesAdded", added,
		"linesRemoved", removed,
		"dryRun", s.DryRun)

	if s.DryRun {
		return result, nil
	}
	if err := os.WriteFile(storyPath, next, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", storyPath, err)
	}
	result.Written = true
	return result, nil
}

// Merge applies normalized commit state to a copy of local. Story and
// feature statuses are updated; features are matched by id, then by
// case-insensitive title; unmatched features are appended and given the
// next display index. Fields the commit does not carry are preserved.
func Merge(local map[string]any, n Normalized) (map[string]any, ChangeSummary) {
	updated, _ := cloneValue(local).(map[string]any)
	if updated == nil {
		updated = map[string]any{}
	}
	changes := ChangeSummary{UpdatedFeatures: []string{}, AddedFeatures: []string{}}

	if n.Status != "" && n.Status != stringify(updated["status"]) {
		updated["status"] = n.Status
		changes.StoryStatusChanged = true
	}

	list, ok := updated["features"].([]any)
	if !ok {
		list = []any{}
	}
	byID := map[string]map[string]any{}
	byTitle := map[string]map[string]any{}
	for _, item := range list {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id := stringify(f["id"]); id != "" {
			byID[id] = f
		}
		if title := stringify(f["title"]); title != "" {
			byTitle[strings.ToLower(title)] = f
		}
	}

	for _, cf := range n.Features {
		target, found := byID[cf.ID]
		if cf.ID == "" || !found {
			target, found = byTitle[strings.ToLower(cf.Title)]
			found = found && cf.Title != ""
		}

		if !found {
			list = append(list, map[string]any{
				"id":          nullable(cf.ID),
				"title":       nullable(cf.Title),
				"description": nullable(cf.Description),
				"status":      nullable(cf.Status),
			})
			if cf.ID != "" {
				changes.AddedFeatures = append(changes.AddedFeatures, cf.ID)
			}
			continue
		}

		if cf.Status != "" && cf.Status != stringify(target["status"]) {
			target["status"] = cf.Status
			if cf.ID != "" {
				changes.UpdatedFeatures = append(changes.UpdatedFeatures, cf.ID)
			} else if id := stringify(target["id"]); id != "" {
				changes.UpdatedFeatures = append(changes.UpdatedFeatures, id)
			}
		}
		if cf.Title != "" && stringify(target["title"]) == "" {
			target["title"] = cf.Title
		}
		if cf.Description != "" && stringify(target["description"]) == "" {
			target["description"] = cf.Description
		}
	}
	updated["features"] = list

	index, ok := updated["featureIdToDisplayIndex"].(map[string]any)
	if !ok {
		index = map[string]any{}
	}
	maxIndex := 0
	for _, v := range index {
		if n := displayIndex(v); n > maxIndex {
			maxIndex = n
		}
	}
	for _, id := range changes.AddedFeatures {
		if _, exists := index[id]; !exists {
			maxIndex++
			index[id] = maxIndex
		}
	}
	updated["featureIdToDisplayIndex"] = index

	return updated, changes
}

func stampGitSync(doc map[string]any, at time.Time, meta GitMeta) {
	gs, ok := doc["gitSync"].(map[string]any)
	if !ok {
		gs = map[string]any{}
	}
	gs["lastSyncedAt"] = at.Format("2006-01-02T15:04:05.000Z07:00")
	gs["lastCommit"] = nullable(meta.Commit)
	gs["lastBranch"] = nullable(meta.Branch)
	gs["lastStoryJsonPath"] = nullable(meta.StoryJSONPath)
	gs["source"] = "commit"
	doc["gitSync"] = gs
}

// LineDiffStats counts lines added and removed between before and after.
func LineDiffStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func displayIndex(v any) int {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(x)
	case int:
		return x
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
