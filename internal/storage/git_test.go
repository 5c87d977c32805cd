package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/persiston/internal/docdb"
)

func TestGitAdapter(t *testing.T) {
	ctx := t.Context()
	dir := filepath.Join(t.TempDir(), "repo")
	g, err := OpenGit(dir, "db.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("repo not initialized: %v", err)
	}

	commits, err := g.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 0 {
		t.Errorf("History() = %d commits, want 0", len(commits))
	}

	if _, err := g.Read(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Write(ctx, docdb.Dataset{"a": []any{map[string]any{"v": 1}}}); err != nil {
		t.Fatal(err)
	}
	// Unchanged content is not committed again.
	if err := g.Write(ctx, docdb.Dataset{"a": []any{map[string]any{"v": 1}}}); err != nil {
		t.Fatal(err)
	}
	if err := g.Write(ctx, docdb.Dataset{"a": []any{}}); err != nil {
		t.Fatal(err)
	}

	commits, err = g.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 3 {
		t.Fatalf("History() = %d commits, want 3", len(commits))
	}
	if !strings.HasPrefix(commits[2].Message, "persiston: initialize") {
		t.Errorf("oldest commit = %q", commits[2].Message)
	}
	if !strings.HasPrefix(commits[0].Message, "persiston: save") {
		t.Errorf("newest commit = %q", commits[0].Message)
	}
	if commits[0].Hash == "" || commits[0].Timestamp.IsZero() {
		t.Errorf("commit = %+v", commits[0])
	}

	commits, err = g.History(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Errorf("History(1) = %d commits, want 1", len(commits))
	}

	// Reopening an existing repo keeps its history.
	g2, err := OpenGit(dir, "db.json")
	if err != nil {
		t.Fatal(err)
	}
	d, err := g2.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if items, ok := d["a"].([]any); !ok || len(items) != 0 {
		t.Errorf("Read() = %v", d)
	}
	if commits, _ := g2.History(ctx, 0); len(commits) != 3 {
		t.Errorf("History() = %d commits, want 3", len(commits))
	}
}
