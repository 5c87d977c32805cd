package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Table handles storage and in-memory caching for a single collection in
// JSONL format.
type Table struct {
	path string
	mu   sync.RWMutex

	columns []Column
	rows    []any
}

// OpenTable creates a new Table and loads all data from the file. A missing
// file is an empty table.
func OpenTable(path string) (*Table, error) {
	table := &Table{
		path: path,
	}
	if err := table.load(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *Table) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.columns = []Column{}
			t.rows = []any{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows := []any{}
	var header *schemaHeader
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if header == nil {
			header = &schemaHeader{}
			if err := json.Unmarshal(line, header); err != nil {
				return fmt.Errorf("failed to unmarshal schema header in %s: %w", t.path, err)
			}
			if err := header.Validate(); err != nil {
				return fmt.Errorf("invalid schema header in %s: %w", t.path, err)
			}
			continue
		}
		var row any
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.columns = []Column{}
	if header != nil {
		t.columns = header.Columns
	}
	t.rows = rows
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Columns returns the columns recorded in the schema header.
func (t *Table) Columns() []Column {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.columns)
}

// Rows returns the rows. The slice is a copy; the rows themselves are shared.
func (t *Table) Rows() []any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.rows)
}

// Replace replaces all rows and persists them with a fresh schema header.
func (t *Table) Replace(rows []any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	columns := inferColumns(rows)
	var buf bytes.Buffer
	data, err := json.Marshal(&schemaHeader{Version: currentVersion, Columns: columns})
	if err != nil {
		return fmt.Errorf("failed to marshal schema header: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := WriteFileAtomic(t.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write table file %s: %w", t.path, err)
	}

	t.columns = columns
	t.rows = slices.Clone(rows)
	return nil
}

// WriteFileAtomic writes b to a temporary file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() {
		// No-op once renamed.
		_ = os.Remove(name)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil { //nolint:gosec // G302: data files are world readable like the rest of the data dir
		return err
	}
	return os.Rename(name, path)
}
