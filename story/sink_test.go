package story

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkStoryID = "11111111-1111-1111-1111-111111111111"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeLocalStory(t *testing.T, repo, content string) string {
	t.Helper()
	p := StoryPath(repo, sinkStoryID)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := ParseDocument(string(data))
	require.NoError(t, err)
	return doc
}

func TestMerge_UpdatesByIDThenTitle(t *testing.T) {
	local := map[string]any{
		"status":  "todo",
		"context": "keep me",
		"features": []any{
			map[string]any{"id": "f1", "title": "Cart", "status": "todo", "blockers": []any{"x"}},
			map[string]any{"id": "f2", "title": "Payment Form", "status": "todo"},
		},
		"featureIdToDisplayIndex": map[string]any{"f1": json.Number("1"), "f2": json.Number("2")},
	}
	n := Normalized{
		Status: "in_progress",
		Features: []Feature{
			{ID: "f1", Status: "done"},
			{Title: "payment form", Status: "in_progress"},
			{ID: "f3", Title: "Receipt", Status: "todo"},
		},
	}

	updated, changes := Merge(local, n)

	assert.True(t, changes.StoryStatusChanged)
	assert.Equal(t, []string{"f1", "f2"}, changes.UpdatedFeatures)
	assert.Equal(t, []string{"f3"}, changes.AddedFeatures)

	assert.Equal(t, "in_progress", updated["status"])
	assert.Equal(t, "keep me", updated["context"])
	features := updated["features"].([]any)
	require.Len(t, features, 3)
	assert.Equal(t, "done", features[0].(map[string]any)["status"])
	assert.Equal(t, []any{"x"}, features[0].(map[string]any)["blockers"])
	assert.Equal(t, "in_progress", features[1].(map[string]any)["status"])
	assert.Equal(t, map[string]any{"id": "f3", "title": "Receipt", "description": nil, "status": "todo"}, features[2])
	assert.Equal(t, 3, updated["featureIdToDisplayIndex"].(map[string]any)["f3"])

	// the input is not mutated
	assert.Equal(t, "todo", local["status"])
	assert.Equal(t, "todo", local["features"].([]any)[0].(map[string]any)["status"])
}

func TestMerge_FillsMissingTitleAndDescriptionOnly(t *testing.T) {
	local := map[string]any{"features": []any{
		map[string]any{"id": "f1", "title": "Local", "description": ""},
	}}
	updated, changes := Merge(local, Normalized{Features: []Feature{{ID: "f1", Title: "Remote", Description: "from commit"}}})

	f := updated["features"].([]any)[0].(map[string]any)
	assert.Equal(t, "Local", f["title"])
	assert.Equal(t, "from commit", f["description"])
	assert.True(t, changes.Empty())
}

func TestMerge_NoFeaturesOrIndex(t *testing.T) {
	updated, changes := Merge(map[string]any{"status": "done"}, Normalized{Status: "done"})
	assert.False(t, changes.StoryStatusChanged)
	assert.Equal(t, []any{}, updated["features"])
	assert.Equal(t, map[string]any{}, updated["featureIdToDisplayIndex"])
}

func TestMerge_NewFeatureWithoutIDGetsNoIndex(t *testing.T) {
	updated, changes := Merge(map[string]any{}, Normalized{Features: []Feature{{Title: "Untitled work"}}})
	assert.Empty(t, changes.AddedFeatures)
	assert.Len(t, updated["features"].([]any), 1)
	assert.Empty(t, updated["featureIdToDisplayIndex"])
}

func TestFileSink_Update(t *testing.T) {
	repo := t.TempDir()
	path := writeLocalStory(t, repo, `{"id":"`+sinkStoryID+`","status":"todo","features":[{"id":"f1","status":"todo"}]}`)

	sink := NewFileSink().WithClock(func() time.Time { return fixedNow })
	payload := Payload{Raw: map[string]any{"status": "done", "features": []any{map[string]any{"id": "f1", "status": "done"}}}}
	meta := SyncMeta{StoryID: sinkStoryID, Git: GitMeta{Commit: "abc123", Branch: "features/" + sinkStoryID, StoryJSONPath: "story.json"}}

	res, err := sink.Update(context.Background(), repo, payload, meta)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Equal(t, path, res.Path)
	assert.True(t, res.Changes.StoryStatusChanged)
	assert.Equal(t, []string{"f1"}, res.Changes.UpdatedFeatures)

	doc := readDoc(t, path)
	assert.Equal(t, "done", doc["status"])
	assert.Equal(t, map[string]any{
		"lastSyncedAt":      "2026-03-01T12:00:00.000Z",
		"lastCommit":        "abc123",
		"lastBranch":        "features/" + sinkStoryID,
		"lastStoryJsonPath": "story.json",
		"source":            "commit",
	}, doc["gitSync"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestFileSink_UnchangedRenderingIsNotRewritten(t *testing.T) {
	repo := t.TempDir()
	path := writeLocalStory(t, repo, `{"status":"todo"}`)
	sink := NewFileSink().WithClock(func() time.Time { return fixedNow })
	payload := Payload{Raw: map[string]any{"status": "todo"}}
	meta := SyncMeta{StoryID: sinkStoryID}

	first, err := sink.Update(context.Background(), repo, payload, meta)
	require.NoError(t, err)
	require.True(t, first.Written, "first sync stamps gitSync")

	info, err := os.Stat(path)
	require.NoError(t, err)
	old := info.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	second, err := sink.Update(context.Background(), repo, payload, meta)
	require.NoError(t, err)
	assert.False(t, second.Written)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "file should not be touched")
}

func TestFileSink_DryRun(t *testing.T) {
	repo := t.TempDir()
	original := `{"status":"todo"}`
	path := writeLocalStory(t, repo, original)

	sink := NewFileSink()
	sink.DryRun = true
	res, err := sink.Update(context.Background(), repo, Payload{Raw: map[string]any{"status": "done"}}, SyncMeta{StoryID: sinkStoryID})
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.True(t, res.Changes.StoryStatusChanged)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestFileSink_StoryIDFromPayload(t *testing.T) {
	repo := t.TempDir()
	path := writeLocalStory(t, repo, `{}`)

	err := NewFileSink().Sync(context.Background(), repo, Payload{Extracted: &Extracted{Status: "done", Summary: &Summary{ID: sinkStoryID}}}, SyncMeta{})
	require.NoError(t, err)
	assert.Equal(t, "done", readDoc(t, path)["status"])
}

func TestFileSink_Errors(t *testing.T) {
	repo := t.TempDir()
	sink := NewFileSink()
	ctx := context.Background()

	err := sink.Sync(ctx, repo, Payload{Raw: map[string]any{}}, SyncMeta{})
	assert.ErrorIs(t, err, ErrStoryIDRequired)

	err = sink.Sync(ctx, repo, Payload{Raw: map[string]any{}}, SyncMeta{StoryID: sinkStoryID})
	assert.ErrorIs(t, err, ErrStoryNotFound)

	writeLocalStory(t, repo, `[1,2]`)
	err = sink.Sync(ctx, repo, Payload{Raw: map[string]any{}}, SyncMeta{StoryID: sinkStoryID})
	assert.ErrorIs(t, err, ErrInvalidStory)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = sink.Sync(cancelled, repo, Payload{}, SyncMeta{StoryID: sinkStoryID})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLineDiffStats(t *testing.T) {
	added, removed := LineDiffStats("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)

	added, removed = LineDiffStats("same\n", "same\n")
	assert.Zero(t, added)
	assert.Zero(t, removed)
}
