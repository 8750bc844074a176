package git

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestListTreeFiles(t *testing.T) {
	repo := createTestRepo(t)
	commitFile(t, repo, "stories/abc/story.json", "{}", "add story")

	files := svc.ListTreeFiles(ctx, repo, "HEAD")
	slices.Sort(files)
	want := []string{"stories/abc/story.json", "test.txt"}
	if !slices.Equal(files, want) {
		t.Errorf("ListTreeFiles = %v, want %v", files, want)
	}

	if got := svc.ListTreeFiles(ctx, repo, "no-such-rev"); got != nil {
		t.Errorf("unknown rev should yield nil, got %v", got)
	}
}

func TestShowFile(t *testing.T) {
	repo := createTestRepo(t)
	first := runGit(t, repo, "rev-parse", "HEAD")
	commitFile(t, repo, "test.txt", "changed", "change")

	got, err := svc.ShowFile(ctx, repo, first, "test.txt")
	if err != nil {
		t.Fatalf("ShowFile failed: %v", err)
	}
	if got != "test content" {
		t.Errorf("ShowFile = %q, want %q", got, "test content")
	}

	if _, err := svc.ShowFile(ctx, repo, "HEAD", "missing.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCommitAll_RecordsConflictMarkers(t *testing.T) {
	repo := createTestRepo(t)
	writeFile(t, repo, "test.txt", "<<<<<<< ours\na\n=======\nb\n>>>>>>> theirs\n")
	writeFile(t, repo, filepath.Join("new", "file.txt"), "new")

	err := svc.CommitAll(ctx, repo, "planned merge", &Identity{Name: "Planner", Email: "planner@localhost"})
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if author := runGit(t, repo, "log", "-1", "--format=%cn <%ce>"); author != "Planner <planner@localhost>" {
		t.Errorf("committer = %q", author)
	}
	if clean, _ := svc.IsClean(ctx, repo); !clean {
		t.Error("tree should be clean after CommitAll")
	}
	if msg := runGit(t, repo, "log", "-1", "--format=%s"); !strings.Contains(msg, "planned merge") {
		t.Errorf("message = %q", msg)
	}
}
