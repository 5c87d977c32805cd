package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/maruel/persiston/internal/docdb"
)

// GitAdapter is a FileAdapter whose file lives in a git work tree. Every save
// that changes the file is committed.
type GitAdapter struct {
	file *FileAdapter
	dir  string
	rel  string
	repo *gogit.Repository

	name  string
	email string
	mu    sync.Mutex
}

// OpenGit opens the git repository at dir, initializing it when missing, and
// returns an adapter for file inside it.
func OpenGit(dir, file string, opts ...FileOption) (*GitAdapter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	g := &GitAdapter{
		file:  NewFileAdapter(filepath.Join(dir, file), opts...),
		dir:   dir,
		rel:   filepath.ToSlash(file),
		name:  "persiston",
		email: "persiston@localhost",
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo in %s: %w", dir, err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = g.name
		cfg.User.Email = g.email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	g.repo = repo
	return g, nil
}

// Path returns the data file path.
func (g *GitAdapter) Path() string {
	return g.file.Path()
}

// Changed reports whether the data file differs from what was last read or
// committed.
func (g *GitAdapter) Changed() (bool, error) {
	return g.file.Changed()
}

// Read implements docdb.Adapter. A file created with the initial values is
// committed.
func (g *GitAdapter) Read(ctx context.Context) (docdb.Dataset, error) {
	d, err := g.file.Read(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.commit("initialize " + g.rel); err != nil {
		return nil, err
	}
	return d, nil
}

// Write implements docdb.Adapter.
func (g *GitAdapter) Write(ctx context.Context, data docdb.Dataset) error {
	if err := g.file.Write(ctx, data); err != nil {
		return err
	}
	return g.commit("save " + g.rel)
}

// commit stages the data file and commits it if it changed.
func (g *GitAdapter) commit(msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(g.rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", g.rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if fs, ok := status[g.rel]; !ok || fs.Staging == gogit.Unmodified {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: g.name, Email: g.email, When: now}
	if _, err := w.Commit("persiston: "+msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Commit represents a commit in git history.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// History returns up to n commits touching the data file, newest first.
func (g *GitAdapter) History(_ context.Context, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	iter, err := g.repo.Log(&gogit.LogOptions{FileName: &g.rel})
	if err != nil {
		// No commits yet.
		return []*Commit{}, nil
	}
	defer iter.Close()

	commits := []*Commit{}
	for range n {
		c, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:      c.Hash.String(),
			Message:   subject,
			Timestamp: c.Author.When,
		})
	}
	return commits, nil
}
