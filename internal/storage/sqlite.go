package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/persiston/internal/docdb"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT    NOT NULL,
	position   INTEGER NOT NULL,
	body       TEXT    NOT NULL,
	PRIMARY KEY (collection, position)
);
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY
);`

// SQLiteAdapter stores the dataset in a SQLite database, one row per record.
type SQLiteAdapter struct {
	db      *sql.DB
	path    string
	initial docdb.Dataset
}

// OpenSQLite opens (or creates) a SQLite database at path. Use ":memory:" for
// an in-memory database.
func OpenSQLite(ctx context.Context, path string, initial docdb.Dataset) (*SQLiteAdapter, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema in %s: %w", path, err)
	}
	if initial == nil {
		initial = docdb.Dataset{}
	}
	return &SQLiteAdapter{db: db, path: path, initial: initial.Clone()}, nil
}

// Close releases the database.
func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}

// Read implements docdb.Adapter. A database never written to is initialized
// with the initial values.
func (s *SQLiteAdapter) Read(ctx context.Context) (docdb.Dataset, error) {
	out := docdb.Dataset{}
	var written int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metadata WHERE key = ''").Scan(&written); err != nil {
		return nil, fmt.Errorf("failed to read sqlite %s: %w", s.path, err)
	}
	if written == 0 {
		if err := s.Write(ctx, s.initial); err != nil {
			return nil, err
		}
		return s.initial.Clone(), nil
	}

	err := s.queryEach(ctx, "SELECT name FROM collections", func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		out[name] = []any{}
		return nil
	})
	if err == nil {
		err = s.queryEach(ctx, "SELECT collection, body FROM documents ORDER BY collection, position", func(rows *sql.Rows) error {
			var name, body string
			if err := rows.Scan(&name, &body); err != nil {
				return err
			}
			var item any
			if err := json.Unmarshal([]byte(body), &item); err != nil {
				return fmt.Errorf("failed to decode %q record: %w", name, err)
			}
			items, _ := out[name].([]any)
			out[name] = append(items, item)
			return nil
		})
	}
	if err == nil {
		err = s.queryEach(ctx, "SELECT key, value FROM metadata WHERE key != ''", func(rows *sql.Rows) error {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return fmt.Errorf("failed to decode %q: %w", key, err)
			}
			out[key] = v
			return nil
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sqlite %s: %w", s.path, err)
	}
	return out, nil
}

// queryEach runs q and calls fn for each row. Rows are closed before it
// returns since the pool holds a single connection.
func (s *SQLiteAdapter) queryEach(ctx context.Context, q string, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Write implements docdb.Adapter. The whole dataset is rewritten in one
// transaction.
func (s *SQLiteAdapter) Write(ctx context.Context, data docdb.Dataset) error {
	data = data.Clone()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to write sqlite %s: %w", s.path, err)
	}
	if err := writeSQLite(ctx, tx, data); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to write sqlite %s: %w", s.path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to write sqlite %s: %w", s.path, err)
	}
	return nil
}

func writeSQLite(ctx context.Context, tx *sql.Tx, data docdb.Dataset) error {
	for _, q := range []string{"DELETE FROM documents", "DELETE FROM metadata", "DELETE FROM collections"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	// The empty key marks the database as initialized.
	if _, err := tx.ExecContext(ctx, "INSERT INTO metadata (key, value) VALUES ('', 'true')"); err != nil {
		return err
	}
	for key, v := range data {
		items, ok := v.([]any)
		if !ok {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal %q: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO metadata (key, value) VALUES (?, ?)", key, string(raw)); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO collections (name) VALUES (?)", key); err != nil {
			return err
		}
		for i, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to marshal %q item %d: %w", key, i, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO documents (collection, position, body) VALUES (?, ?, ?)", key, i, string(raw)); err != nil {
				return err
			}
		}
	}
	return nil
}
