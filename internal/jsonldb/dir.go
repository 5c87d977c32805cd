package jsonldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/persiston/internal/docdb"
)

const (
	tableExt = ".jsonl"
	metaFile = "_meta.json"
)

// Dir is a docdb.Adapter storing one table per collection in a directory.
type Dir struct {
	dir     string
	initial docdb.Dataset
}

// NewDir returns an adapter for the directory dir. initial is written on the
// first Read when the directory holds no data yet.
func NewDir(dir string, initial docdb.Dataset) *Dir {
	if initial == nil {
		initial = docdb.Dataset{}
	}
	return &Dir{dir: dir, initial: initial.Clone()}
}

// Path returns the directory.
func (d *Dir) Path() string {
	return d.dir
}

// Read implements docdb.Adapter.
func (d *Dir) Read(ctx context.Context) (docdb.Dataset, error) {
	names, hasMeta, err := d.list()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 && !hasMeta {
		if err := d.Write(ctx, d.initial); err != nil {
			return nil, err
		}
		return d.initial.Clone(), nil
	}
	out := docdb.Dataset{}
	if hasMeta {
		raw, err := os.ReadFile(filepath.Join(d.dir, metaFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", metaFile, err)
		}
		if len(strings.TrimSpace(string(raw))) != 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", metaFile, err)
			}
		}
	}
	for _, name := range names {
		t, err := OpenTable(d.tablePath(name))
		if err != nil {
			return nil, err
		}
		out[name] = t.Rows()
	}
	return out, nil
}

// Write implements docdb.Adapter. Tables of collections absent from data are
// removed.
func (d *Dir) Write(_ context.Context, data docdb.Dataset) error {
	data = data.Clone()
	if err := os.MkdirAll(d.dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory %s: %w", d.dir, err)
	}
	meta := map[string]any{}
	keep := map[string]bool{}
	for key, v := range data {
		rows, ok := v.([]any)
		if !ok {
			meta[key] = v
			continue
		}
		if err := validTableName(key); err != nil {
			return err
		}
		keep[key] = true
		t := &Table{path: d.tablePath(key)}
		if err := t.Replace(rows); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", metaFile, err)
	}
	if err := WriteFileAtomic(filepath.Join(d.dir, metaFile), append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to write %s: %w", metaFile, err)
	}
	names, _, err := d.list()
	if err != nil {
		return err
	}
	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := os.Remove(d.tablePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale table %s: %w", name, err)
		}
	}
	return nil
}

// list returns the collection names found in the directory and whether the
// metadata file exists. A missing directory is empty.
func (d *Dir) list() ([]string, bool, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}
	var names []string
	hasMeta := false
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		n := e.Name()
		switch {
		case n == metaFile:
			hasMeta = true
		case strings.HasSuffix(n, tableExt) && !strings.HasPrefix(n, "."):
			names = append(names, strings.TrimSuffix(n, tableExt))
		}
	}
	return names, hasMeta, nil
}

func (d *Dir) tablePath(name string) string {
	return filepath.Join(d.dir, name+tableExt)
}

// validTableName rejects collection names that can't be used as a file name.
func validTableName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\:*?"<>|`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("collection name %q is not a valid table name", name)
	}
	return nil
}
