package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maruel/persiston/internal/docdb"
	bolt "go.etcd.io/bbolt"
)

// metaBucket holds the dataset's scalar entries, such as the version key.
var metaBucket = []byte("_meta")

// BoltAdapter stores the dataset in a bbolt database: one bucket per
// collection keyed by big-endian position, record bodies as JSON.
type BoltAdapter struct {
	db      *bolt.DB
	initial docdb.Dataset
}

// OpenBolt creates or opens a bbolt database at path.
func OpenBolt(path string, initial docdb.Dataset) (*BoltAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db %s: %w", path, err)
	}
	if initial == nil {
		initial = docdb.Dataset{}
	}
	return &BoltAdapter{db: db, initial: initial.Clone()}, nil
}

// Close releases the database.
func (b *BoltAdapter) Close() error {
	return b.db.Close()
}

// Read implements docdb.Adapter. An empty database is initialized with the
// initial values.
func (b *BoltAdapter) Read(ctx context.Context) (docdb.Dataset, error) {
	out := docdb.Dataset{}
	empty := true
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bk *bolt.Bucket) error {
			empty = false
			if string(name) == string(metaBucket) {
				return bk.ForEach(func(k, v []byte) error {
					var val any
					if err := json.Unmarshal(v, &val); err != nil {
						return fmt.Errorf("meta %q: %w", k, err)
					}
					out[string(k)] = val
					return nil
				})
			}
			items := []any{}
			err := bk.ForEach(func(k, v []byte) error {
				var val any
				if err := json.Unmarshal(v, &val); err != nil {
					return fmt.Errorf("collection %q item %x: %w", name, k, err)
				}
				items = append(items, val)
				return nil
			})
			out[string(name)] = items
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read bolt db %s: %w", b.db.Path(), err)
	}
	if empty {
		if err := b.Write(ctx, b.initial); err != nil {
			return nil, err
		}
		return b.initial.Clone(), nil
	}
	return out, nil
}

// Write implements docdb.Adapter. The whole dataset is rewritten in one
// transaction.
func (b *BoltAdapter) Write(_ context.Context, data docdb.Dataset) error {
	data = data.Clone()
	err := b.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete bucket %q: %w", name, err)
			}
		}
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}
		for key, v := range data {
			items, ok := v.([]any)
			if !ok {
				raw, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("failed to marshal %q: %w", key, err)
				}
				if err := meta.Put([]byte(key), raw); err != nil {
					return err
				}
				continue
			}
			if key == string(metaBucket) {
				return fmt.Errorf("collection name %q is reserved", key)
			}
			bk, err := tx.CreateBucket([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to create bucket %q: %w", key, err)
			}
			for i, item := range items {
				raw, err := json.Marshal(item)
				if err != nil {
					return fmt.Errorf("failed to marshal %q item %d: %w", key, i, err)
				}
				if err := bk.Put(positionKey(i), raw); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write bolt db %s: %w", b.db.Path(), err)
	}
	return nil
}

func positionKey(i int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i)) //nolint:gosec // G115: positions are non-negative
	return k[:]
}
