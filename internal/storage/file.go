package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/maruel/persiston/internal/docdb"
	"github.com/maruel/persiston/internal/jsonldb"
)

// FileAdapter stores the whole dataset in a single file.
type FileAdapter struct {
	path    string
	codec   Codec
	initial docdb.Dataset

	mu   sync.Mutex
	sum  [sha256.Size]byte
	seen bool
}

// FileOption configures a FileAdapter.
type FileOption func(*FileAdapter)

// WithCodec overrides the codec picked from the file extension.
func WithCodec(c Codec) FileOption {
	return func(f *FileAdapter) { f.codec = c }
}

// WithInitialValues sets the dataset written and returned when the file does
// not exist yet, and returned when it is empty.
func WithInitialValues(d docdb.Dataset) FileOption {
	return func(f *FileAdapter) { f.initial = d.Clone() }
}

// NewFileAdapter returns an adapter for path. The codec defaults to
// CodecForPath(path).
func NewFileAdapter(path string, opts ...FileOption) *FileAdapter {
	f := &FileAdapter{path: path}
	for _, o := range opts {
		o(f)
	}
	if f.codec == nil {
		f.codec = CodecForPath(path)
	}
	if f.initial == nil {
		f.initial = docdb.Dataset{}
	}
	return f
}

// Path returns the file path.
func (f *FileAdapter) Path() string {
	return f.path
}

// Read implements docdb.Adapter.
//
// A missing file is created with the initial values. A file whose content is
// only whitespace reads as the initial values.
func (f *FileAdapter) Read(ctx context.Context) (docdb.Dataset, error) {
	if !f.exists() {
		if err := f.Write(ctx, f.initial); err != nil {
			return nil, err
		}
		return f.initial.Clone(), nil
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", f.path, err)
	}
	f.remember(raw)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return f.initial.Clone(), nil
	}
	d, err := f.codec.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", f.path, err)
	}
	if d == nil {
		d = docdb.Dataset{}
	}
	return d, nil
}

// Write implements docdb.Adapter. The file is replaced atomically.
func (f *FileAdapter) Write(_ context.Context, data docdb.Dataset) error {
	b, err := f.codec.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", f.path, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := jsonldb.WriteFileAtomic(f.path, b); err != nil {
		return fmt.Errorf("failed to write file %s: %w", f.path, err)
	}
	f.sum = sha256.Sum256(b)
	f.seen = true
	return nil
}

// Changed reports whether the file content differs from what the adapter
// last read or wrote. A missing file counts as changed.
func (f *FileAdapter) Changed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read file %s: %w", f.path, err)
	}
	return !f.seen || sha256.Sum256(raw) != f.sum, nil
}

func (f *FileAdapter) remember(raw []byte) {
	f.mu.Lock()
	f.sum = sha256.Sum256(raw)
	f.seen = true
	f.mu.Unlock()
}

// exists treats any stat failure as a missing file.
func (f *FileAdapter) exists() bool {
	fi, err := os.Stat(f.path)
	return err == nil && fi.Mode().IsRegular()
}
