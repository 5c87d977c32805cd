package docdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// VersionKey is the reserved top-level key holding the schema version of a
// persisted dataset.
const VersionKey = "PERSISTON_VERSION"

// ErrInvalidCollectionName is returned by [Store.Collection] for the reserved
// version key when versioning is enabled.
var ErrInvalidCollectionName = errors.New("invalid collection name")

// Dataset is the raw whole dataset exchanged with an [Adapter]: collection name
// to sequence of records, plus scalar metadata such as [VersionKey].
//
// Sequences may be []Record, []map[string]any or []any of objects.
type Dataset map[string]any

// Clone deep copies d.
func (d Dataset) Clone() Dataset {
	if d == nil {
		return nil
	}
	return Dataset(copyObject(d))
}

// Adapter reads and writes the whole dataset.
type Adapter interface {
	// Read returns the persisted dataset. When no backing storage exists yet
	// it is created with the adapter's initial values, which are returned.
	Read(ctx context.Context) (Dataset, error)
	// Write replaces the persisted dataset.
	Write(ctx context.Context, data Dataset) error
}

// Migration transforms a dataset loaded at a version up to Target.
type Migration struct {
	// Target is the version the dataset is at after Process. The step runs
	// when the loaded version is lower than or equal to Target.
	Target int
	// Process returns the transformed dataset.
	Process func(Dataset) (Dataset, error)
}

// Option configures a Store.
type Option func(*Store)

// WithVersion sets the current schema version. 0 disables versioning: no
// version key is read, written or reserved.
func WithVersion(v int) Option {
	return func(s *Store) { s.version = v }
}

// WithMigrations appends migration steps, run in order.
func WithMigrations(m ...Migration) Option {
	return func(s *Store) { s.migrations = append(s.migrations, m...) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store owns the in-memory dataset and persists it through an Adapter.
type Store struct {
	adapter    Adapter
	version    int
	migrations []Migration
	logger     *slog.Logger

	data map[string][]Record
}

// New returns an empty Store. Call Load to populate it. The schema version
// defaults to 1.
func New(adapter Adapter, opts ...Option) *Store {
	s := &Store{
		adapter: adapter,
		version: 1,
		data:    map[string][]Record{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Version returns the current schema version, 0 when versioning is disabled.
func (s *Store) Version() int {
	return s.version
}

// Load replaces the whole dataset with what the adapter reads, migrating it
// when its version differs from the current one.
//
// On error the previous dataset is kept.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.adapter.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	if raw == nil {
		raw = Dataset{}
	}
	if s.versioned() {
		from, err := datasetVersion(raw)
		if err != nil {
			return err
		}
		if from != s.version {
			applied := 0
			for _, m := range s.migrations {
				if from > m.Target {
					continue
				}
				if raw, err = m.Process(raw); err != nil {
					return fmt.Errorf("failed to migrate dataset to version %d: %w", m.Target, err)
				}
				if raw == nil {
					raw = Dataset{}
				}
				applied++
			}
			if applied > 0 {
				s.logger.InfoContext(ctx, "Migrated dataset", "from", from, "to", s.version, "applied", applied)
			}
		}
	}
	data := make(map[string][]Record, len(raw))
	for name, v := range raw {
		if s.versioned() && name == VersionKey {
			continue
		}
		records, err := decodeRecords(v)
		if err != nil {
			return fmt.Errorf("failed to load collection %q: %w", name, err)
		}
		data[name] = records
	}
	s.data = data
	s.logger.DebugContext(ctx, "Loaded dataset", "collections", len(data))
	return nil
}

// Save writes the whole dataset through the adapter.
func (s *Store) Save(ctx context.Context) error {
	if err := s.adapter.Write(ctx, s.snapshot()); err != nil {
		return fmt.Errorf("failed to save dataset: %w", err)
	}
	s.logger.DebugContext(ctx, "Saved dataset", "collections", len(s.data))
	return nil
}

// Collection returns a view of the named collection. The collection is
// created empty on first use.
func (s *Store) Collection(name string) (*Collection, error) {
	if s.versioned() && name == VersionKey {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCollectionName, name)
	}
	return &Collection{store: s, name: name}, nil
}

// Names returns the sorted names of the collections in the dataset.
func (s *Store) Names() []string {
	return slices.Sorted(maps.Keys(s.data))
}

func (s *Store) versioned() bool {
	return s.version != 0
}

// records returns the live backing sequence for name, creating it if unseen.
func (s *Store) records(name string) []Record {
	r, ok := s.data[name]
	if !ok {
		r = []Record{}
		s.data[name] = r
	}
	return r
}

func (s *Store) setRecords(name string, r []Record) {
	s.data[name] = r
}

// snapshot returns the dataset as handed to the adapter. Sequences are cloned
// so later appends and removals do not show through; records are shared.
func (s *Store) snapshot() Dataset {
	out := make(Dataset, len(s.data)+1)
	for name, r := range s.data {
		out[name] = slices.Clone(r)
	}
	if s.versioned() {
		out[VersionKey] = s.version
	}
	return out
}

func datasetVersion(d Dataset) (int, error) {
	v, ok := d[VersionKey]
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := toNumber(v)
	if !ok {
		return 0, fmt.Errorf("invalid %s value %v (%T)", VersionKey, v, v)
	}
	switch n.kind {
	case signedNum:
		return int(n.i), nil
	case unsignedNum:
		return int(n.u), nil
	default:
		return int(n.f), nil
	}
}

// decodeRecords converts a raw sequence into private records.
func decodeRecords(v any) ([]Record, error) {
	var items []any
	switch x := v.(type) {
	case nil:
		return []Record{}, nil
	case []Record:
		items = make([]any, len(x))
		for i := range x {
			items[i] = x[i]
		}
	default:
		c, ok := DeepCopy(v)
		if !ok {
			return nil, fmt.Errorf("expected a sequence of records, got %T", v)
		}
		if items, ok = c.([]any); !ok {
			return nil, fmt.Errorf("expected a sequence of records, got %T", v)
		}
	}
	out := make([]Record, 0, len(items))
	for i, item := range items {
		m, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("item %d: expected an object, got %T", i, item)
		}
		if m == nil {
			m = map[string]any{}
		}
		out = append(out, CopyRecord(Record(m), ""))
	}
	return out, nil
}
